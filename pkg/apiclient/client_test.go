package apiclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rfidgate/internal/adapter/rfid/session"
	"github.com/marmos91/rfidgate/pkg/api"
	"github.com/marmos91/rfidgate/pkg/idstate"
	"github.com/marmos91/rfidgate/pkg/oplog"
)

type stateSource idstate.State

func (s stateSource) Snapshot() idstate.State { return idstate.State(s) }

type sessionList []session.Info

func (s sessionList) Sessions() []session.Info { return s }

func newTestClient(t *testing.T, deps api.Deps) *Client {
	t.Helper()
	srv := httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestNew(t *testing.T) {
	client := New("http://localhost:8080")
	assert.Equal(t, "http://localhost:8080", client.baseURL)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)

	short := client.WithTimeout(time.Second)
	assert.Equal(t, time.Second, short.httpClient.Timeout)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
}

func TestHealth(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	client := newTestClient(t, api.Deps{Version: "1.0.0", StartedAt: started})

	resp, err := client.Health(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "rfidgate", resp.Data.Service)
	assert.Equal(t, "1.0.0", resp.Data.Version)
	assert.GreaterOrEqual(t, resp.Data.UptimeSec, int64(59))
}

func TestState(t *testing.T) {
	client := newTestClient(t, api.Deps{State: stateSource{NextID: 3, UsedIDs: []uint64{1, 2, 3, 5}}})

	st, err := client.State(t.Context(), false)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.NextID)
	assert.Equal(t, "00000004", st.NextTagID)
	assert.Equal(t, 4, st.UsedCount)
	assert.Empty(t, st.UsedIDs)

	st, err = client.State(t.Context(), true)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 5}, st.UsedIDs)
}

func TestSessions(t *testing.T) {
	connected := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	client := newTestClient(t, api.Deps{Sessions: sessionList{
		{ID: "s1", RemoteAddr: "10.0.0.5:50123", Kind: session.KindReader, ConnectedAt: connected, LastActivity: connected},
	}})

	infos, err := client.Sessions(t.Context())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "s1", infos[0].ID)
	assert.Equal(t, session.KindReader, infos[0].Kind)
	assert.True(t, connected.Equal(infos[0].ConnectedAt))
}

func TestOperations(t *testing.T) {
	history := oplog.NewHistory(10)
	base := time.Now().Add(-time.Hour)
	history.Add(oplog.Record{ID: "1", UID: "A1", TagID: "00000001", Status: oplog.StatusSuccess, Timestamp: base})
	history.Add(oplog.Record{ID: "2", UID: "A2", TagID: "00000002", Status: oplog.StatusPartialFailure, Timestamp: base.Add(time.Minute)})
	history.Add(oplog.Record{ID: "3", UID: "A1", TagID: "00000001", Status: oplog.StatusSuccess, Timestamp: base.Add(2 * time.Minute)})

	client := newTestClient(t, api.Deps{Operations: history})

	t.Run("all newest first", func(t *testing.T) {
		recs, err := client.Operations(t.Context(), oplog.Filter{})
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "3", recs[0].ID)
	})

	t.Run("filtered", func(t *testing.T) {
		recs, err := client.Operations(t.Context(), oplog.Filter{UID: "a1", Limit: 1})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "3", recs[0].ID)

		recs, err = client.Operations(t.Context(), oplog.Filter{Status: "partial_failure"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "A2", recs[0].UID)
	})

	t.Run("since", func(t *testing.T) {
		recs, err := client.Operations(t.Context(), oplog.Filter{Since: base.Add(30 * time.Second)})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})
}

func TestProblemResponse(t *testing.T) {
	client := newTestClient(t, api.Deps{})

	var out any
	err := client.get(t.Context(), "/api/v1/operations", map[string][]string{"limit": {"abc"}}, &out)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsValidationError())
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Title)
}

func TestPlainTextError(t *testing.T) {
	client := newTestClient(t, api.Deps{})

	_, err := client.Sessions(t.Context())
	require.NoError(t, err)

	err = client.get(t.Context(), "/nope", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsNotFound())
}

func TestUnhealthyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy","error":"draining"}`))
	}))
	defer srv.Close()

	resp, err := New(srv.URL).Health(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "draining", resp.Error)
}

func TestInvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Sessions(t.Context())
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
