package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds per-session and per-frame logging fields.
type LogContext struct {
	TraceID    string    // OpenTelemetry trace ID
	SessionID  string    // Device session identifier
	ClientAddr string    // Remote address of the device (host:port)
	Command    string    // Frame command being handled (RFID_DETECTED, HEARTBEAT, ...)
	TagUID     string    // Tag UID of the current cycle, if any
	StartTime  time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a device session.
func NewLogContext(sessionID, clientAddr string) *LogContext {
	return &LogContext{
		SessionID:  sessionID,
		ClientAddr: clientAddr,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithCommand returns a copy with the command set and the clock restarted.
func (lc *LogContext) WithCommand(command string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Command = command
		clone.StartTime = time.Now()
	}
	return clone
}

// WithTag returns a copy with the tag UID set
func (lc *LogContext) WithTag(uid string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TagUID = uid
	}
	return clone
}

// WithTrace returns a copy with the trace ID set
func (lc *LogContext) WithTrace(traceID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
