package rfid

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/internal/protocol"
	"github.com/marmos91/rfidgate/internal/telemetry"
	"github.com/marmos91/rfidgate/pkg/oplog"
)

// handleDetected runs the tag-detection cycle for RFID_DETECTED|UID:<uid>.
//
//  1. Read the id block. A non-blank value other than the empty sentinel is
//     the tag's existing id and is left alone.
//  2. Otherwise allocate a fresh id and write it to the id block.
//  3. Always write the marker to the marker block.
//  4. Record the operation and acknowledge. Any failed write makes the
//     outcome PARTIAL_FAILURE; nothing is rolled back.
//
// A transport error ends the cycle without a reply. Once an id has been
// allocated the cycle is still recorded, as PARTIAL_FAILURE, so every issued
// id leaves a trace.
func handleDetected(h *Handler, ctx context.Context, dev Device, f protocol.Frame) DispatchResult {
	uid := f.Field(protocol.KeyUID)
	if uid == "" {
		logger.WarnCtx(ctx, "RFID_DETECTED without UID")
		return DispatchResult{Reply: protocol.ReplyNoUID}
	}

	if lc := logger.FromContext(ctx); lc != nil {
		ctx = logger.WithContext(ctx, lc.Clone().WithTag(uid))
	}
	ctx, span := telemetry.StartCycleSpan(ctx, uid)
	defer span.End()

	start := time.Now()
	cfg := h.Cycle

	current, ok, err := dev.ReadBlock(ctx, cfg.IDBlock)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return DispatchResult{Err: err}
	}

	tagID := current
	fresh := !ok || current == "" || current == cfg.EmptySentinel
	if fresh {
		tagID = h.Allocator.Allocate(ctx)
		logger.InfoCtx(ctx, "Assigning new id", logger.KeyTagID, tagID)
	} else {
		logger.InfoCtx(ctx, "Tag already has an id", logger.KeyTagID, tagID)
	}
	span.SetAttributes(telemetry.TagID(tagID), telemetry.TagIDWritten(fresh))

	record := func(status oplog.Status) oplog.Record {
		return h.Recorder.Record(ctx, oplog.Record{
			Kind:         oplog.KindCycle,
			SessionID:    dev.ID(),
			Device:       dev.RemoteAddr(),
			DeviceKind:   string(dev.Kind()),
			UID:          uid,
			Direction:    oplog.DirectionIn,
			IDBlock:      cfg.IDBlock,
			TagID:        tagID,
			TagIDWritten: fresh,
			MarkerBlock:  cfg.MarkerBlock,
			Marker:       cfg.Marker,
			Status:       status,
		})
	}
	abandon := func(err error) DispatchResult {
		span.SetStatus(codes.Error, err.Error())
		if !fresh {
			return DispatchResult{Err: err}
		}
		logger.WarnCtx(ctx, "Device lost after id allocation", logger.KeyTagID, tagID, logger.KeyError, err)
		rec := record(oplog.StatusPartialFailure)
		if h.Metrics != nil {
			h.Metrics.RecordCycle(string(oplog.StatusPartialFailure), fresh, time.Since(start))
		}
		return DispatchResult{Err: err, Record: &rec}
	}

	allWritten := true
	if fresh {
		written, err := dev.WriteBlock(ctx, cfg.IDBlock, tagID)
		if err != nil {
			return abandon(err)
		}
		allWritten = allWritten && written
	}

	written, err := dev.WriteBlock(ctx, cfg.MarkerBlock, cfg.Marker)
	if err != nil {
		return abandon(err)
	}
	allWritten = allWritten && written

	status := oplog.StatusSuccess
	reply := protocol.ReplyWriteSuccess
	if !allWritten {
		status = oplog.StatusPartialFailure
		reply = protocol.ReplyWritePartial
	}
	span.SetAttributes(telemetry.Outcome(string(status)))

	rec := record(status)

	if h.Metrics != nil {
		h.Metrics.RecordCycle(string(status), fresh, time.Since(start))
	}
	return DispatchResult{Reply: reply, Record: &rec}
}

// RFID_LOG names its block fields explicitly.
const (
	legacyIDBlock     = 8
	legacyMarkerBlock = 9
)

// handleLegacyLog relays an RFID_LOG frame from older firmware into the
// operation log. No sub-commands are issued.
func handleLegacyLog(h *Handler, ctx context.Context, dev Device, f protocol.Frame) DispatchResult {
	rec := h.Recorder.Record(ctx, oplog.Record{
		Kind:        oplog.KindLegacy,
		SessionID:   dev.ID(),
		Device:      dev.RemoteAddr(),
		DeviceKind:  string(dev.Kind()),
		UID:         f.LastField(protocol.KeyUID),
		IDBlock:     legacyIDBlock,
		TagID:       f.LastField(protocol.KeyBlock8),
		MarkerBlock: legacyMarkerBlock,
		Marker:      f.LastField(protocol.KeyBlock9),
		Status:      oplog.StatusLogged,
		Action:      f.LastField(protocol.KeyAction),
		Sequence:    f.LastField(protocol.KeySeq),
	})
	return DispatchResult{Reply: protocol.ReplyLogged, Record: &rec}
}
