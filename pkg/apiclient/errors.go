package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	}
	return e.Title
}

// IsNotFound returns true if this is a not found error.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsValidationError returns true if the server rejected the query.
func (e *APIError) IsValidationError() bool {
	return e.StatusCode == http.StatusBadRequest
}

// newAPIError decodes an RFC 7807 body, falling back to the raw text.
func newAPIError(code int, body []byte) *APIError {
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Title != "" {
		apiErr.StatusCode = code
		return &apiErr
	}

	title := strings.TrimSpace(string(body))
	if title == "" {
		title = http.StatusText(code)
	}
	return &APIError{StatusCode: code, Title: title}
}
