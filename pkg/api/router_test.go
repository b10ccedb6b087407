package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rfidgate/internal/adapter/rfid/session"
	"github.com/marmos91/rfidgate/internal/cli/health"
	"github.com/marmos91/rfidgate/pkg/api/handlers"
	"github.com/marmos91/rfidgate/pkg/idstate"
	"github.com/marmos91/rfidgate/pkg/oplog"
)

type stateSource idstate.State

func (s stateSource) Snapshot() idstate.State { return idstate.State(s) }

type sessionList []session.Info

func (s sessionList) Sessions() []session.Info { return s }

type checker struct{ err error }

func (c checker) Healthcheck(context.Context) error { return c.err }

type response[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
	Error  string `json:"error"`
}

func get[T any](t *testing.T, srv *httptest.Server, path string, wantStatus int) response[T] {
	t.Helper()

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, wantStatus, resp.StatusCode)

	var body response[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	started := time.Now().Add(-90 * time.Second)
	srv := newTestServer(t, Deps{Version: "1.2.3", StartedAt: started})

	var resp health.Response
	httpResp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = httpResp.Body.Close() }()
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))

	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "rfidgate", resp.Data.Service)
	assert.Equal(t, "1.2.3", resp.Data.Version)
	assert.Equal(t, started.UTC().Format(time.RFC3339), resp.Data.StartedAt)
	assert.GreaterOrEqual(t, resp.Data.UptimeSec, int64(90))
}

func TestHealthStores(t *testing.T) {
	t.Run("AllHealthy", func(t *testing.T) {
		srv := newTestServer(t, Deps{Stores: map[string]handlers.Healthchecker{
			"state":    checker{},
			"database": checker{},
		}})

		body := get[[]handlers.StoreHealth](t, srv, "/health/stores", http.StatusOK)
		require.Len(t, body.Data, 2)
		assert.Equal(t, "database", body.Data[0].Name)
		assert.Equal(t, "state", body.Data[1].Name)
	})

	t.Run("OneUnhealthy", func(t *testing.T) {
		srv := newTestServer(t, Deps{Stores: map[string]handlers.Healthchecker{
			"state":    checker{},
			"database": checker{err: errors.New("connection refused")},
		}})

		body := get[[]handlers.StoreHealth](t, srv, "/health/stores", http.StatusServiceUnavailable)
		assert.Equal(t, "unhealthy", body.Status)
		require.Len(t, body.Data, 2)
		assert.Equal(t, "unhealthy", body.Data[0].Status)
		assert.Equal(t, "connection refused", body.Data[0].Error)
		assert.Equal(t, "healthy", body.Data[1].Status)
	})
}

func TestState(t *testing.T) {
	srv := newTestServer(t, Deps{State: stateSource{NextID: 3, UsedIDs: []uint64{1, 2, 4}}})

	body := get[handlers.StateResponse](t, srv, "/api/v1/state", http.StatusOK)
	assert.Equal(t, uint64(3), body.Data.NextID)
	assert.Equal(t, "00000003", body.Data.NextTagID)
	assert.Equal(t, 3, body.Data.UsedCount)
	assert.Equal(t, uint64(4), body.Data.Highest)
	assert.Zero(t, body.Data.Gaps)
	assert.Empty(t, body.Data.UsedIDs)

	full := get[handlers.StateResponse](t, srv, "/api/v1/state?full=true", http.StatusOK)
	assert.Equal(t, []uint64{1, 2, 4}, full.Data.UsedIDs)
}

func TestStateWithoutSource(t *testing.T) {
	srv := newTestServer(t, Deps{})

	body := get[handlers.StateResponse](t, srv, "/api/v1/state", http.StatusOK)
	assert.Equal(t, uint64(1), body.Data.NextID)
	assert.Zero(t, body.Data.UsedCount)
}

func TestSessions(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	srv := newTestServer(t, Deps{Sessions: sessionList{
		{ID: "a", RemoteAddr: "10.0.0.5:5000", Kind: session.KindReader, ConnectedAt: now},
	}})

	body := get[[]session.Info](t, srv, "/api/v1/sessions", http.StatusOK)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "10.0.0.5:5000", body.Data[0].RemoteAddr)
	assert.Equal(t, session.KindReader, body.Data[0].Kind)
	assert.True(t, now.Equal(body.Data[0].ConnectedAt))

	empty := get[[]session.Info](t, newTestServer(t, Deps{}), "/api/v1/sessions", http.StatusOK)
	assert.Empty(t, empty.Data)
}

func TestOperations(t *testing.T) {
	history := oplog.NewHistory(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	history.Add(oplog.Record{ID: "1", UID: "AA", Status: oplog.StatusSuccess, Timestamp: base})
	history.Add(oplog.Record{ID: "2", UID: "BB", Status: oplog.StatusPartialFailure, Timestamp: base.Add(time.Minute)})
	history.Add(oplog.Record{ID: "3", UID: "AA", Status: oplog.StatusLogged, Timestamp: base.Add(2 * time.Minute)})

	srv := newTestServer(t, Deps{Operations: history})

	t.Run("NewestFirst", func(t *testing.T) {
		body := get[[]oplog.Record](t, srv, "/api/v1/operations", http.StatusOK)
		require.Len(t, body.Data, 3)
		assert.Equal(t, "3", body.Data[0].ID)
		assert.Equal(t, "1", body.Data[2].ID)
	})

	t.Run("Limit", func(t *testing.T) {
		body := get[[]oplog.Record](t, srv, "/api/v1/operations?limit=1", http.StatusOK)
		require.Len(t, body.Data, 1)
		assert.Equal(t, "3", body.Data[0].ID)
	})

	t.Run("UID", func(t *testing.T) {
		body := get[[]oplog.Record](t, srv, "/api/v1/operations?uid=aa", http.StatusOK)
		require.Len(t, body.Data, 2)
	})

	t.Run("Status", func(t *testing.T) {
		body := get[[]oplog.Record](t, srv, "/api/v1/operations?status=partial_failure", http.StatusOK)
		require.Len(t, body.Data, 1)
		assert.Equal(t, "2", body.Data[0].ID)
	})

	t.Run("Since", func(t *testing.T) {
		body := get[[]oplog.Record](t, srv, "/api/v1/operations?since=2026-03-01T12:01:00Z", http.StatusOK)
		require.Len(t, body.Data, 2)
	})

	for _, query := range []string{"limit=0", "limit=abc", "status=DONE", "since=yesterday"} {
		t.Run("Invalid_"+query, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/v1/operations?" + query)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, handlers.ContentTypeProblemJSON, resp.Header.Get("Content-Type"))
		})
	}
}

type failingLister struct{}

func (failingLister) List(context.Context, oplog.Filter) ([]oplog.Record, error) {
	return nil, errors.New("database is locked")
}

func TestOperationsListError(t *testing.T) {
	srv := newTestServer(t, Deps{Operations: failingLister{}})

	resp, err := http.Get(srv.URL + "/api/v1/operations")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rfidgate_test_total",
		Help: "Test counter",
	})
	reg.MustRegister(counter)
	counter.Add(3)

	srv := newTestServer(t, Deps{Registry: reg})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rfidgate_test_total 3")
}

func TestMetricsEndpointDisabled(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestServerLifecycle(t *testing.T) {
	port := freePort(t)
	server := NewServer(APIConfig{Port: port}, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- server.Start(ctx) }()

	require.Eventually(t, func() bool { return server.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + server.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	// Stop after shutdown is a no-op
	assert.NoError(t, server.Stop(context.Background()))
}

func TestServerPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	server := NewMetricsServer(ln.Addr().(*net.TCPAddr).Port, prometheus.NewRegistry())
	err = server.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
