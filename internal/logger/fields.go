package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging. Use these consistently so logs
// from every session can be aggregated and queried the same way.
const (
	KeyTraceID = "trace_id"

	// Session & connection
	KeySessionID    = "session_id"
	KeyClientAddr   = "client_addr"
	KeyDeviceKind   = "device_kind"
	KeyActiveConns  = "active_connections"
	KeyListenAddr   = "address"
	KeyConnectionID = "connection_id"

	// Protocol
	KeyCommand = "command"
	KeyReply   = "reply"
	KeyFrame   = "frame"

	// Tag cycle
	KeyTagUID    = "uid"
	KeyBlock     = "block"
	KeyData      = "data"
	KeyTagID     = "tag_id"
	KeyWritten   = "written"
	KeyStatus    = "status"
	KeySequence  = "sequence"
	KeyAttempt   = "attempt"
	KeyAttempts  = "max_attempts"
	KeyResponse  = "response"
	KeyNextID    = "next_id"
	KeyUsedCount = "used_ids"

	// Storage
	KeyBackend = "backend"
	KeyPath    = "path"
	KeySink    = "sink"
	KeyBucket  = "bucket"
	KeyKey     = "key"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// SessionID returns a session_id attribute
func SessionID(id string) slog.Attr { return slog.String(KeySessionID, id) }

// ClientAddr returns a client_addr attribute
func ClientAddr(addr string) slog.Attr { return slog.String(KeyClientAddr, addr) }

// Command returns a command attribute
func Command(name string) slog.Attr { return slog.String(KeyCommand, name) }

// Reply returns a reply attribute
func Reply(token string) slog.Attr { return slog.String(KeyReply, token) }

// TagUID returns a uid attribute
func TagUID(uid string) slog.Attr { return slog.String(KeyTagUID, uid) }

// Block returns a block attribute
func Block(n int) slog.Attr { return slog.Int(KeyBlock, n) }

// Attempt returns an attempt attribute (1-based)
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// Attempts returns a max_attempts attribute
func Attempts(n int) slog.Attr { return slog.Int(KeyAttempts, n) }

// Status returns a status attribute
func Status(s string) slog.Attr { return slog.String(KeyStatus, s) }

// Err returns an error attribute, or an empty attribute for a nil error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a duration_ms attribute measured from start.
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}
