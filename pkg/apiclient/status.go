package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/rfidgate/internal/adapter/rfid/session"
	"github.com/marmos91/rfidgate/internal/cli/health"
	"github.com/marmos91/rfidgate/pkg/api/handlers"
	"github.com/marmos91/rfidgate/pkg/oplog"
)

// Health returns the liveness response. An unhealthy server answers 503
// with a body, which is returned rather than treated as an error.
func (c *Client) Health(ctx context.Context) (*health.Response, error) {
	var resp health.Response
	if err := c.get(ctx, "/health", nil, &resp, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &resp, nil
}

// State returns the identifier allocation summary. With full set the
// response includes every used id.
func (c *Client) State(ctx context.Context, full bool) (*handlers.StateResponse, error) {
	var q url.Values
	if full {
		q = url.Values{"full": {"true"}}
	}

	var resp envelope[handlers.StateResponse]
	if err := c.get(ctx, "/api/v1/state", q, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Sessions returns the connected device sessions.
func (c *Client) Sessions(ctx context.Context) ([]session.Info, error) {
	var resp envelope[[]session.Info]
	if err := c.get(ctx, "/api/v1/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Operations queries recent operation records, newest first.
func (c *Client) Operations(ctx context.Context, f oplog.Filter) ([]oplog.Record, error) {
	q := url.Values{}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.UID != "" {
		q.Set("uid", f.UID)
	}
	if f.Status != "" {
		q.Set("status", strings.ToUpper(string(f.Status)))
	}
	if !f.Since.IsZero() {
		q.Set("since", f.Since.UTC().Format(time.RFC3339))
	}

	var resp envelope[[]oplog.Record]
	if err := c.get(ctx, "/api/v1/operations", q, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
