package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Healthchecker is implemented by every backing store that can report
// whether it is reachable.
type Healthchecker interface {
	Healthcheck(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Store health: Healthcheck of every registered backing store
type HealthHandler struct {
	stores    map[string]Healthchecker
	version   string
	startedAt time.Time
}

// NewHealthHandler creates a new health handler. stores may be nil.
func NewHealthHandler(version string, startedAt time.Time, stores map[string]Healthchecker) *HealthHandler {
	return &HealthHandler{stores: stores, version: version, startedAt: startedAt}
}

// Liveness handles GET /health - simple liveness probe.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"service":    "rfidgate",
		"version":    h.version,
		"started_at": h.startedAt.UTC().Format(time.RFC3339),
		"uptime_sec": int64(time.Since(h.startedAt).Seconds()),
	}))
}

// StoreHealth represents the health status of a single store.
type StoreHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Stores handles GET /health/stores.
//
// Returns 200 OK if all stores are healthy, 503 Service Unavailable if any
// store is unhealthy.
func (h *HealthHandler) Stores(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.stores))
	for name := range h.stores {
		names = append(names, name)
	}
	sort.Strings(names)

	response := make([]StoreHealth, 0, len(names))
	allHealthy := true

	for _, name := range names {
		start := time.Now()
		err := h.stores[name].Healthcheck(ctx)

		health := StoreHealth{
			Name:    name,
			Status:  "healthy",
			Latency: time.Since(start).String(),
		}
		if err != nil {
			health.Status = "unhealthy"
			health.Error = err.Error()
			allHealthy = false
		}
		response = append(response, health)
	}

	if allHealthy {
		writeJSON(w, http.StatusOK, healthyResponse(response))
	} else {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(response))
	}
}
