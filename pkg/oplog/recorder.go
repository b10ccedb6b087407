package oplog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/pkg/metrics"
)

// Recorder stamps records, appends them to every sink and publishes them to
// the bus. Sink failures are logged and counted but never returned: losing a
// log line must not fail the device exchange that produced it.
type Recorder struct {
	sinks   []Sink
	bus     *Bus
	metrics metrics.OpLogMetrics
	now     func() time.Time
}

// NewRecorder creates a recorder. bus and m may be nil.
func NewRecorder(bus *Bus, m metrics.OpLogMetrics, sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, bus: bus, metrics: m, now: time.Now}
}

// Record fills in ID and Timestamp when unset, stores and publishes r, and
// returns the stored record.
func (r *Recorder) Record(ctx context.Context, rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}

	logger.InfoCtx(ctx, FormatText(rec))

	// A cycle finishing during shutdown is still recorded.
	appendCtx := context.WithoutCancel(ctx)
	for _, s := range r.sinks {
		if err := s.Append(appendCtx, rec); err != nil {
			if r.metrics != nil {
				r.metrics.RecordSinkError(s.Name())
			}
			logger.ErrorCtx(ctx, "Failed to append operation record",
				logger.KeySink, s.Name(), logger.KeyError, err)
		}
	}

	if r.metrics != nil {
		r.metrics.RecordOperation(string(rec.Kind), string(rec.Status))
	}
	if r.bus != nil {
		r.bus.Publish(rec)
	}
	return rec
}

// Close closes every sink.
func (r *Recorder) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
