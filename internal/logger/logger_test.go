package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer and restores it on cleanup.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()
	originalLevel := Level(currentLevel.Load())
	originalFormat, _ := currentFormat.Load().(string)
	reconfigure()

	t.Cleanup(func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		currentLevel.Store(int32(originalLevel))
		currentFormat.Store(originalFormat)
		reconfigure()
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	cases := []struct {
		level    string
		visible  []string
		filtered []string
	}{
		{"DEBUG", []string{"debug message", "info message", "warn message", "error message"}, nil},
		{"INFO", []string{"info message", "warn message", "error message"}, []string{"debug message"}},
		{"WARN", []string{"warn message", "error message"}, []string{"debug message", "info message"}},
		{"ERROR", []string{"error message"}, []string{"debug message", "info message", "warn message"}},
	}

	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			buf := captureOutput(t)
			SetLevel(tc.level)

			Debug("debug message")
			Info("info message")
			Warn("warn message")
			Error("error message")

			out := buf.String()
			for _, s := range tc.visible {
				assert.Contains(t, out, s)
			}
			for _, s := range tc.filtered {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestSetLevel_IgnoresUnknown(t *testing.T) {
	captureOutput(t)
	SetLevel("WARN")
	SetLevel("verbose")
	assert.Equal(t, LevelWarn, Level(currentLevel.Load()))
}

func TestParseLevel(t *testing.T) {
	l, ok := ParseLevel("warning")
	assert.True(t, ok)
	assert.Equal(t, LevelWarn, l)

	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}

func TestTextFormat(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	Info("Frame handled", KeyCommand, "HEARTBEAT", KeyReply, "HEARTBEAT_ACK", KeyDurationMs, 1.5)

	line := buf.String()
	assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] \[INFO\] Frame handled`, line)
	assert.Contains(t, line, "command=HEARTBEAT")
	assert.Contains(t, line, "reply=HEARTBEAT_ACK")
	assert.Contains(t, line, "duration_ms=1.500")
}

func TestTextFormat_QuotesSpacedValues(t *testing.T) {
	buf := captureOutput(t)
	SetFormat("text")

	Info("Unexpected response", KeyResponse, "WRITE FAILED", KeyData, "")

	assert.Contains(t, buf.String(), `response="WRITE FAILED"`)
	assert.Contains(t, buf.String(), `data=""`)
}

func TestTextFormat_Groups(t *testing.T) {
	buf := captureOutput(t)
	SetFormat("text")

	With("component", "allocator").WithGroup("state").Info("Loaded", "next_id", 4)

	out := buf.String()
	assert.Contains(t, out, "component=allocator")
	assert.Contains(t, out, "state.next_id=4")
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("json")

	Info("Tag cycle complete", TagUID("04A1B2"), Status("SUCCESS"), Block(8))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Tag cycle complete", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "04A1B2", entry[KeyTagUID])
	assert.Equal(t, "SUCCESS", entry[KeyStatus])
	assert.EqualValues(t, 8, entry[KeyBlock])
}

func TestContextFields(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("DEBUG")
	SetFormat("json")

	lc := NewLogContext("sess-1", "10.0.0.7:50112").WithCommand("RFID_DETECTED").WithTag("04A1B2")
	ctx := WithContext(context.Background(), lc)

	DebugCtx(ctx, "Reading block", Block(8))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sess-1", entry[KeySessionID])
	assert.Equal(t, "10.0.0.7:50112", entry[KeyClientAddr])
	assert.Equal(t, "RFID_DETECTED", entry[KeyCommand])
	assert.Equal(t, "04A1B2", entry[KeyTagUID])
}

func TestContextFields_NoLogContext(t *testing.T) {
	buf := captureOutput(t)
	SetFormat("json")

	InfoCtx(context.Background(), "plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, KeySessionID)
}

func TestLogContext_CloneIsIndependent(t *testing.T) {
	base := NewLogContext("s", "addr")
	derived := base.WithCommand("HEARTBEAT").WithTag("uid")

	assert.Empty(t, base.Command)
	assert.Empty(t, base.TagUID)
	assert.Equal(t, "HEARTBEAT", derived.Command)
	assert.Equal(t, "uid", derived.TagUID)

	var nilCtx *LogContext
	assert.Nil(t, nilCtx.Clone())
	assert.Zero(t, nilCtx.DurationMs())
}

func TestErrAttr(t *testing.T) {
	assert.True(t, Err(nil).Equal(slog.Attr{}))
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
}

func TestInit_FileOutput(t *testing.T) {
	captureOutput(t)
	path := filepath.Join(t.TempDir(), "rfidgate.log")

	require.NoError(t, Init(Config{Level: "INFO", Format: "text", Output: path}))
	Info("written to file")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestInit_BadFile(t *testing.T) {
	err := Init(Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestConcurrentLogging(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				Info("concurrent")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, strings.Count(buf.String(), "concurrent\n"))
}
