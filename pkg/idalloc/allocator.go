// Package idalloc issues unique, monotonically advancing tag identifiers and
// keeps the allocation table durable through an idstate.Store.
package idalloc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/internal/telemetry"
	"github.com/marmos91/rfidgate/pkg/idstate"
	"github.com/marmos91/rfidgate/pkg/metrics"
)

// Width is the number of digits in a formatted identifier.
const Width = 8

// Format renders id as a zero-padded decimal string. Ids wider than Width
// digits are rendered in full.
func Format(id uint64) string {
	return fmt.Sprintf("%0*d", Width, id)
}

// Allocator hands out identifiers. It is safe for concurrent use; every
// allocation is serialized under one lock, including the persist step.
type Allocator struct {
	mu      sync.Mutex
	next    uint64
	used    map[uint64]struct{}
	store   idstate.Store
	metrics metrics.AllocatorMetrics
}

// New loads the allocation table from store. A missing or unreadable snapshot
// starts a fresh table; the error is logged, never returned.
func New(ctx context.Context, store idstate.Store, m metrics.AllocatorMetrics) *Allocator {
	a := &Allocator{store: store, metrics: m}

	st, err := store.Load(ctx)
	switch {
	case errors.Is(err, idstate.ErrNotFound):
		logger.Info("No identifier state found, starting fresh")
		st = idstate.Default()
	case err != nil:
		logger.Warn("Identifier state unreadable, starting fresh", logger.KeyError, err)
		st = idstate.Default()
	default:
		logger.Info("Identifier state loaded",
			logger.KeyNextID, st.NextID,
			logger.KeyUsedCount, len(st.UsedIDs))
	}

	a.reset(st)
	a.publish()
	return a
}

func (a *Allocator) reset(st idstate.State) {
	st = st.Normalize()
	a.next = st.NextID
	a.used = make(map[uint64]struct{}, len(st.UsedIDs))
	for _, id := range st.UsedIDs {
		a.used[id] = struct{}{}
	}
}

// Allocate reserves and returns the next free identifier, formatted.
//
// The id is returned even when persisting the table fails: the failure is
// logged and counted, and the in-memory table still holds the reservation.
func (a *Allocator) Allocate(ctx context.Context) string {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanAllocate)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.next
	for {
		if _, taken := a.used[id]; !taken {
			break
		}
		id++
	}
	a.used[id] = struct{}{}
	a.next = id + 1

	formatted := Format(id)
	span.SetAttributes(telemetry.TagID(formatted))

	persisted := true
	if err := a.persistReservation(ctx, id); err != nil {
		persisted = false
		telemetry.RecordError(ctx, err)
		telemetry.AddEvent(ctx, telemetry.EventPersistFailed)
		logger.ErrorCtx(ctx, "Failed to persist identifier state",
			logger.KeyTagID, formatted, logger.KeyError, err)
	}
	telemetry.AddEvent(ctx, telemetry.EventIDAllocated, attribute.Bool("persisted", persisted))

	if a.metrics != nil {
		a.metrics.RecordAllocation(persisted)
	}
	a.publishLocked()

	logger.DebugCtx(ctx, "Identifier allocated", logger.KeyTagID, formatted, logger.KeyNextID, a.next)
	return formatted
}

// persistReservation must be called with a.mu held. A reservation handed out
// while the caller's context is being cancelled is still written.
func (a *Allocator) persistReservation(ctx context.Context, id uint64) error {
	ctx = context.WithoutCancel(ctx)
	if r, ok := a.store.(idstate.Reserver); ok {
		return r.Reserve(ctx, id, a.next)
	}
	return a.store.Save(ctx, a.snapshotLocked())
}

// Merge folds an externally edited snapshot into the live table. Reservations
// are never forgotten and NextID never moves backwards.
func (a *Allocator) Merge(st idstate.State) {
	a.mu.Lock()
	defer a.mu.Unlock()

	merged := a.snapshotLocked().Merge(st)
	a.reset(merged)
	a.publishLocked()

	logger.Info("Merged external identifier state",
		logger.KeyNextID, a.next,
		logger.KeyUsedCount, len(a.used))
}

// MarkUsed reserves ids without issuing them, then persists the table.
func (a *Allocator) MarkUsed(ctx context.Context, ids ...uint64) error {
	if slices.Contains(ids, 0) {
		return fmt.Errorf("identifier 0 cannot be reserved")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, id := range ids {
		a.used[id] = struct{}{}
	}
	a.publishLocked()
	return a.store.Save(context.WithoutCancel(ctx), a.snapshotLocked())
}

// Reset discards the table and persists a fresh one.
func (a *Allocator) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.reset(idstate.Default())
	a.publishLocked()
	return a.store.Save(context.WithoutCancel(ctx), a.snapshotLocked())
}

// Snapshot returns a normalized copy of the table.
func (a *Allocator) Snapshot() idstate.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Allocator) snapshotLocked() idstate.State {
	used := make([]uint64, 0, len(a.used))
	for id := range a.used {
		used = append(used, id)
	}
	return idstate.State{NextID: a.next, UsedIDs: used}.Normalize()
}

func (a *Allocator) publish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.publishLocked()
}

func (a *Allocator) publishLocked() {
	if a.metrics != nil {
		a.metrics.SetAllocatorState(a.next, len(a.used))
	}
}
