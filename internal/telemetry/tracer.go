package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for device traffic.
const (
	AttrClientAddr = "client.address"
	AttrSessionID  = "rfid.session_id"
	AttrDeviceKind = "rfid.device_kind"

	AttrCommand = "rfid.command"
	AttrReply   = "rfid.reply"

	AttrTagUID       = "rfid.tag.uid"
	AttrTagID        = "rfid.tag.id"
	AttrTagIDWritten = "rfid.tag.id_written"
	AttrBlock        = "rfid.block"
	AttrAttempts     = "rfid.attempts"
	AttrOutcome      = "rfid.outcome"

	AttrStoreType = "store.type"
	AttrBucket    = "storage.bucket"
	AttrKey       = "storage.key"
)

// Span names.
const (
	SpanFrame      = "rfid.frame"
	SpanCycle      = "rfid.cycle"
	SpanReadBlock  = "rfid.read_block"
	SpanWriteBlock = "rfid.write_block"
	SpanAllocate   = "idalloc.allocate"
	SpanBackup     = "backup.upload"
)

// Event names.
const (
	EventWriteRetry    = "write.retry"
	EventIDAllocated   = "id.allocated"
	EventPersistFailed = "state.persist_failed"
)

func ClientAddr(addr string) attribute.KeyValue  { return attribute.String(AttrClientAddr, addr) }
func SessionID(id string) attribute.KeyValue     { return attribute.String(AttrSessionID, id) }
func DeviceKind(kind string) attribute.KeyValue  { return attribute.String(AttrDeviceKind, kind) }
func Command(name string) attribute.KeyValue     { return attribute.String(AttrCommand, name) }
func Reply(token string) attribute.KeyValue      { return attribute.String(AttrReply, token) }
func TagUID(uid string) attribute.KeyValue       { return attribute.String(AttrTagUID, uid) }
func TagID(id string) attribute.KeyValue         { return attribute.String(AttrTagID, id) }
func TagIDWritten(fresh bool) attribute.KeyValue { return attribute.Bool(AttrTagIDWritten, fresh) }
func Block(n int) attribute.KeyValue             { return attribute.Int(AttrBlock, n) }
func Attempts(n int) attribute.KeyValue          { return attribute.Int(AttrAttempts, n) }
func Outcome(s string) attribute.KeyValue        { return attribute.String(AttrOutcome, s) }
func StoreType(t string) attribute.KeyValue      { return attribute.String(AttrStoreType, t) }
func Bucket(name string) attribute.KeyValue      { return attribute.String(AttrBucket, name) }
func StorageKey(key string) attribute.KeyValue   { return attribute.String(AttrKey, key) }

// StartFrameSpan starts the root span for one inbound frame.
func StartFrameSpan(ctx context.Context, command, clientAddr string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{Command(command), ClientAddr(clientAddr)}, attrs...)
	return StartSpan(ctx, SpanFrame, trace.WithAttributes(all...), trace.WithSpanKind(trace.SpanKindServer))
}

// StartCycleSpan starts the span covering one tag-detection cycle.
func StartCycleSpan(ctx context.Context, uid string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanCycle, trace.WithAttributes(TagUID(uid)))
}

// StartBlockSpan starts a span for a READ_BLOCK or WRITE_BLOCK exchange.
func StartBlockSpan(ctx context.Context, name string, block int) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(Block(block)), trace.WithSpanKind(trace.SpanKindClient))
}
