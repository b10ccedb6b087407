package commands

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rfidgate/pkg/apiclient"
	"github.com/marmos91/rfidgate/pkg/oplog"
)

func TestExtractTimestamp(t *testing.T) {
	local := time.Date(2024, 1, 15, 10, 30, 45, 0, time.Local)

	tests := []struct {
		name string
		line string
		want time.Time
	}{
		{
			name: "operation log",
			line: "[2024-01-15 10:30:45] RFID Operation - UID: 04A1, Block8: 00000001 (written)",
			want: local,
		},
		{
			name: "rfc3339 prefix",
			line: "2024-01-15T10:30:45Z INFO started",
			want: time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC),
		},
		{
			name: "json time field",
			line: `{"time":"2024-01-15T10:30:45.123Z","level":"INFO"}`,
			want: time.Date(2024, 1, 15, 10, 30, 45, 123000000, time.UTC),
		},
		{
			name: "no timestamp",
			line: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTimestamp(tt.line)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}

func TestShowLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	lines := []string{
		"[2024-01-15 09:00:00] RFID Operation - UID: A1",
		"[2024-01-15 10:00:00] RFID Operation - UID: A2",
		"[2024-01-15 11:00:00] RFID Operation - UID: A3",
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))

	t.Run("last n", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, showLogs(&buf, path, 2, time.Time{}))
		assert.Equal(t, lines[1]+"\n"+lines[2]+"\n", buf.String())
	})

	t.Run("since", func(t *testing.T) {
		var buf bytes.Buffer
		since := time.Date(2024, 1, 15, 9, 30, 0, 0, time.Local)
		require.NoError(t, showLogs(&buf, path, 100, since))
		assert.NotContains(t, buf.String(), "A1")
		assert.Contains(t, buf.String(), "A3")
	})
}

func TestParseOpsFilter(t *testing.T) {
	f, err := parseOpsFilter("04A1", "partial_failure", "2024-01-15T00:00:00Z", 10)
	require.NoError(t, err)
	assert.Equal(t, "04A1", f.UID)
	assert.Equal(t, oplog.StatusPartialFailure, f.Status)
	assert.Equal(t, 10, f.Limit)
	assert.Equal(t, 2024, f.Since.Year())

	_, err = parseOpsFilter("", "bogus", "", 0)
	assert.Error(t, err)
	_, err = parseOpsFilter("", "", "yesterday", 0)
	assert.Error(t, err)
	_, err = parseOpsFilter("", "", "", -1)
	assert.Error(t, err)
}

func TestFetchStatus(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			_, _ = w.Write([]byte(`{"status":"healthy","data":{"service":"rfidgate","version":"1.2.0","started_at":"2024-01-15T10:00:00Z","uptime_sec":3725}}`))
		}))
		defer srv.Close()

		status := fetchStatus(t.Context(), apiclient.New(srv.URL))
		assert.True(t, status.Running)
		assert.True(t, status.Healthy)
		assert.Equal(t, "1.2.0", status.Version)
		assert.Equal(t, "1h 2m 5s", status.Uptime)
	})

	t.Run("invalid body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		status := fetchStatus(t.Context(), apiclient.New(srv.URL))
		assert.True(t, status.Running)
		assert.False(t, status.Healthy)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		status := fetchStatus(t.Context(), apiclient.New(url))
		assert.False(t, status.Running)
		assert.Equal(t, "Server is not running", status.Message)
	})
}

func TestPrintStatusTable(t *testing.T) {
	var buf bytes.Buffer
	printStatusTable(&buf, ServerStatus{Running: true, Healthy: true, Uptime: "5s", Message: "ok"}, false)
	assert.Contains(t, buf.String(), "● Running")
	assert.Contains(t, buf.String(), "Uptime:     5s")
	assert.NotContains(t, buf.String(), "\033[")
}

func TestRootRegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range GetRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "init", "status", "sessions", "logs", "ops", "backup", "simulate", "config", "state", "version", "completion"} {
		assert.True(t, names[want], want)
	}
}
