// Package health holds the client-side shape of the status API's
// liveness response.
package health

// Response is the body of GET /health.
type Response struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Data      struct {
		Service   string `json:"service"`
		Version   string `json:"version"`
		StartedAt string `json:"started_at"`
		UptimeSec int64  `json:"uptime_sec"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}
