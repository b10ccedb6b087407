package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rfidgate/internal/protocol"
	"github.com/marmos91/rfidgate/pkg/api/handlers"
	"github.com/marmos91/rfidgate/pkg/config"
	"github.com/marmos91/rfidgate/pkg/devicesim"
	"github.com/marmos91/rfidgate/pkg/idstate"
	"github.com/marmos91/rfidgate/pkg/idstate/jsonfile"
	"github.com/marmos91/rfidgate/pkg/oplog/store"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.GetDefaultConfig()
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Device.ResponseTimeout = time.Second
	cfg.Device.RetryDelay = time.Millisecond
	cfg.State.Backend = "json"
	cfg.State.Path = filepath.Join(dir, "id_state.json")
	cfg.OpLog.TextPath = filepath.Join(dir, "rfid_operations.log")
	cfg.OpLog.CSVPath = filepath.Join(dir, "rfid_operations.csv")
	cfg.API.Enabled = true
	cfg.API.Port = freePort(t)
	return cfg
}

type running struct {
	srv  *Server
	addr string
}

func start(t *testing.T, cfg *config.Config) *running {
	t.Helper()

	srv, err := New(t.Context(), cfg, Options{Version: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	addr := srv.Adapter().GetListenerAddr()
	require.NotEmpty(t, addr)

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return &running{srv: srv, addr: addr}
}

func apiGet(t *testing.T, cfg *config.Config, path string, v any) {
	t.Helper()

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get("http://127.0.0.1:" + strconv.Itoa(cfg.API.Port) + path)
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 2*time.Second, 20*time.Millisecond)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestServeTagCycleEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	r := start(t, cfg)

	dev, err := devicesim.Dial(t.Context(), r.addr)
	require.NoError(t, err)
	defer func() { _ = dev.Close() }()

	reply, err := dev.Ready(t.Context())
	require.NoError(t, err)
	assert.Equal(t, protocol.ReplyReaderWriterReady, reply)

	tag := devicesim.NewTag("04A1B2C3")
	reply, err = dev.Present(t.Context(), tag)
	require.NoError(t, err)
	assert.Equal(t, protocol.ReplyWriteSuccess, reply)
	assert.Equal(t, "00000001", tag.Block(cfg.Device.IDBlock))
	assert.Equal(t, cfg.Device.Marker, tag.Block(cfg.Device.MarkerBlock))

	// The snapshot on disk reflects the allocation
	data, err := os.ReadFile(cfg.State.Path)
	require.NoError(t, err)
	st, err := jsonfile.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, idstate.State{NextID: 2, UsedIDs: []uint64{1}}, st)

	// Both file sinks saw the record
	logData, err := os.ReadFile(cfg.OpLog.TextPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "04A1B2C3")
	csvData, err := os.ReadFile(cfg.OpLog.CSVPath)
	require.NoError(t, err)
	assert.Contains(t, string(csvData), "00000001")

	// The status API serves the allocator and the in-memory history
	var state struct {
		Data handlers.StateResponse `json:"data"`
	}
	apiGet(t, cfg, "/api/v1/state", &state)
	assert.Equal(t, uint64(2), state.Data.NextID)
	assert.Equal(t, 1, state.Data.UsedCount)

	require.Eventually(t, func() bool { return r.srv.History().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	var sessions struct {
		Data []map[string]any `json:"data"`
	}
	apiGet(t, cfg, "/api/v1/sessions", &sessions)
	require.Len(t, sessions.Data, 1)
	assert.Equal(t, "reader", sessions.Data[0]["kind"])
}

func TestServeResumesFromSnapshot(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, jsonfile.New(cfg.State.Path).Save(t.Context(), idstate.State{NextID: 3, UsedIDs: []uint64{1, 2, 4}}))

	r := start(t, cfg)

	dev, err := devicesim.Dial(t.Context(), r.addr)
	require.NoError(t, err)
	defer func() { _ = dev.Close() }()

	first := devicesim.NewTag("A1")
	second := devicesim.NewTag("A2")
	_, err = dev.Present(t.Context(), first)
	require.NoError(t, err)
	_, err = dev.Present(t.Context(), second)
	require.NoError(t, err)

	assert.Equal(t, "00000003", first.Block(cfg.Device.IDBlock))
	assert.Equal(t, "00000005", second.Block(cfg.Device.IDBlock))
}

func TestServeWatchMergesExternalEdits(t *testing.T) {
	cfg := testConfig(t)
	cfg.State.Watch = true
	r := start(t, cfg)

	// An operator reserves 1..3 by hand while the server runs
	external := idstate.State{NextID: 4, UsedIDs: []uint64{1, 2, 3}}
	data, err := jsonfile.Encode(external)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.State.Path, data, 0644))

	require.Eventually(t, func() bool {
		return r.srv.Allocator().Snapshot().NextID == 4
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, "00000004", r.srv.Allocator().Allocate(t.Context()))
}

func TestServeWithDatabaseSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpLog.Database.Enabled = true
	cfg.OpLog.Database.Type = store.DatabaseTypeSQLite
	cfg.OpLog.Database.SQLite.Path = filepath.Join(t.TempDir(), "ops.db")
	r := start(t, cfg)

	dev, err := devicesim.Dial(t.Context(), r.addr)
	require.NoError(t, err)
	defer func() { _ = dev.Close() }()

	_, err = dev.Present(t.Context(), devicesim.NewTag("DB01"))
	require.NoError(t, err)

	var ops struct {
		Data []map[string]any `json:"data"`
	}
	apiGet(t, cfg, "/api/v1/operations?uid=DB01", &ops)
	require.Len(t, ops.Data, 1)
	assert.Equal(t, "00000001", ops.Data[0]["tag_id"])

	var stores struct {
		Status string `json:"status"`
	}
	apiGet(t, cfg, "/health/stores", &stores)
	assert.Equal(t, "healthy", stores.Status)
}

func TestNewFailsOnBadStateBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.State.Backend = "etcd"

	_, err := New(t.Context(), cfg, Options{})
	require.Error(t, err)
}

func TestServeStopsWhenListenerCannotBind(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	cfg := testConfig(t)
	cfg.API.Enabled = false
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	srv, err := New(t.Context(), cfg, Options{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after bind failure")
	}
}
