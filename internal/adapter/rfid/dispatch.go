// Package rfid routes device frames to their handlers and runs the
// tag-detection cycle.
package rfid

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/rfidgate/internal/adapter/rfid/session"
	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/internal/protocol"
	"github.com/marmos91/rfidgate/internal/telemetry"
	"github.com/marmos91/rfidgate/pkg/metrics"
	"github.com/marmos91/rfidgate/pkg/oplog"
)

// ============================================================================
// Collaborators
// ============================================================================

// Device is the connection a frame arrived on. *session.Session implements
// it.
type Device interface {
	ID() string
	RemoteAddr() string
	Kind() session.Kind
	Classify(f protocol.Frame)
	ReadBlock(ctx context.Context, block int) (string, bool, error)
	WriteBlock(ctx context.Context, block int, data string) (bool, error)
}

// Allocator issues fresh tag identifiers. *idalloc.Allocator implements it.
type Allocator interface {
	Allocate(ctx context.Context) string
}

// Recorder stores and publishes completed operations. *oplog.Recorder
// implements it.
type Recorder interface {
	Record(ctx context.Context, r oplog.Record) oplog.Record
}

// CycleConfig selects the tag blocks and values used by the cycle.
type CycleConfig struct {
	IDBlock       int
	MarkerBlock   int
	Marker        string
	EmptySentinel string
}

// DefaultCycleConfig is the layout deployed tags use.
func DefaultCycleConfig() CycleConfig {
	return CycleConfig{
		IDBlock:       8,
		MarkerBlock:   9,
		Marker:        "WAREHOUSE_IN",
		EmptySentinel: "EMPTY",
	}
}

// Handler holds the shared state every session dispatches against.
type Handler struct {
	Allocator Allocator
	Recorder  Recorder
	Metrics   metrics.RFIDMetrics
	Cycle     CycleConfig
}

// ============================================================================
// Dispatch
// ============================================================================

// DispatchResult is the outcome of one frame.
type DispatchResult struct {
	// Command is the frame's command token.
	Command string

	// Reply is the line to send back, or "" when nothing is sent.
	Reply string

	// Record is set when the frame produced an operation record.
	Record *oplog.Record

	// Err is a transport-fatal error. The session must be closed and Reply
	// is empty.
	Err error
}

// Dispatch parses one line and runs its handler. It never panics: a panic or
// non-transport error in a handler is answered with ERROR_PROCESSING.
func (h *Handler) Dispatch(ctx context.Context, dev Device, line string) (result DispatchResult) {
	start := time.Now()
	frame := protocol.Parse(line)
	result.Command = frame.Command

	if lc := logger.FromContext(ctx); lc != nil {
		ctx = logger.WithContext(ctx, lc.Clone().WithCommand(frame.Command))
	}
	ctx, span := telemetry.StartFrameSpan(ctx, frame.Command, dev.RemoteAddr(),
		telemetry.SessionID(dev.ID()))

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "Panic while processing frame",
				logger.KeyFrame, line,
				logger.KeyError, fmt.Sprint(r),
				"stack", string(debug.Stack()))
			span.SetStatus(codes.Error, "panic")
			result = DispatchResult{Command: frame.Command, Reply: protocol.ReplyProcessing}
		}

		span.SetAttributes(telemetry.Reply(result.Reply), telemetry.DeviceKind(string(dev.Kind())))
		span.End()
		if h.Metrics != nil {
			h.Metrics.RecordFrame(frame.Command, result.Reply, time.Since(start))
		}
	}()

	logger.DebugCtx(ctx, "Frame received", logger.KeyFrame, line)
	dev.Classify(frame)

	cmd, ok := DispatchTable[frame.Command]
	if !ok {
		logger.WarnCtx(ctx, "Unknown command", logger.KeyFrame, line)
		result.Reply = protocol.ReplyUnknownCommand
		return result
	}

	res := cmd.Handler(h, ctx, dev, frame)
	res.Command = frame.Command

	switch {
	case res.Err == nil:
	case errors.Is(res.Err, session.ErrClosed):
		telemetry.RecordError(ctx, res.Err)
		res.Reply = ""
	default:
		telemetry.RecordError(ctx, res.Err)
		logger.ErrorCtx(ctx, "Failed to process frame", logger.KeyFrame, line, logger.KeyError, res.Err)
		res = DispatchResult{Command: frame.Command, Reply: protocol.ReplyProcessing}
	}
	return res
}

// ============================================================================
// Dispatch Table
// ============================================================================

type commandHandler func(h *Handler, ctx context.Context, dev Device, f protocol.Frame) DispatchResult

type command struct {
	Name    string
	Handler commandHandler
}

// DispatchTable maps inbound command tokens to their handlers.
var DispatchTable map[string]*command

func init() {
	DispatchTable = map[string]*command{
		protocol.CmdReaderWriterReady: {
			Name:    protocol.CmdReaderWriterReady,
			Handler: handleReady,
		},
		protocol.CmdRFIDDetected: {
			Name:    protocol.CmdRFIDDetected,
			Handler: handleDetected,
		},
		protocol.CmdRFIDLog: {
			Name:    protocol.CmdRFIDLog,
			Handler: handleLegacyLog,
		},
		protocol.CmdHeartbeat: {
			Name:    protocol.CmdHeartbeat,
			Handler: handleHeartbeat,
		},
		protocol.CmdWriteSuccess: {
			Name:    protocol.CmdWriteSuccess,
			Handler: handleStrayResponse,
		},
		protocol.CmdWriteFailed: {
			Name:    protocol.CmdWriteFailed,
			Handler: handleStrayResponse,
		},
		protocol.CmdReadSuccess: {
			Name:    protocol.CmdReadSuccess,
			Handler: handleStrayResponse,
		},
	}
}

func handleReady(_ *Handler, ctx context.Context, dev Device, _ protocol.Frame) DispatchResult {
	logger.InfoCtx(ctx, "Reader/writer ready", logger.KeyDeviceKind, string(dev.Kind()))
	return DispatchResult{Reply: protocol.ReplyReaderWriterReady}
}

func handleHeartbeat(_ *Handler, _ context.Context, _ Device, _ protocol.Frame) DispatchResult {
	return DispatchResult{Reply: protocol.ReplyHeartbeat}
}

// handleStrayResponse drops a sub-command response that arrived outside an
// exchange, e.g. after its timeout.
func handleStrayResponse(_ *Handler, ctx context.Context, _ Device, f protocol.Frame) DispatchResult {
	logger.DebugCtx(ctx, "Ignoring stray sub-command response", logger.KeyCommand, f.Command)
	return DispatchResult{}
}
