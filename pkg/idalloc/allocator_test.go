package idalloc

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rfidgate/pkg/idstate"
	"github.com/marmos91/rfidgate/pkg/idstate/jsonfile"
	"github.com/marmos91/rfidgate/pkg/idstate/memory"
)

// failingStore loads normally and fails every Save.
type failingStore struct {
	state idstate.State
	saves int
}

func (f *failingStore) Load(context.Context) (idstate.State, error) { return f.state, nil }
func (f *failingStore) Save(context.Context, idstate.State) error {
	f.saves++
	return errors.New("disk full")
}
func (f *failingStore) Close() error { return nil }

type brokenStore struct{}

func (brokenStore) Load(context.Context) (idstate.State, error) {
	return idstate.State{}, errors.New("garbage")
}
func (brokenStore) Save(context.Context, idstate.State) error { return nil }
func (brokenStore) Close() error                              { return nil }

type recorder struct {
	mu        sync.Mutex
	persisted []bool
	next      uint64
	used      int
}

func (r *recorder) RecordAllocation(persisted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persisted = append(r.persisted, persisted)
}

func (r *recorder) SetAllocatorState(next uint64, used int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next, r.used = next, used
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "00000001", Format(1))
	assert.Equal(t, "00000042", Format(42))
	assert.Equal(t, "99999999", Format(99999999))
	assert.Equal(t, "100000000", Format(100000000))
}

func TestFreshStart(t *testing.T) {
	store := memory.New()
	a := New(t.Context(), store, nil)

	assert.Equal(t, "00000001", a.Allocate(t.Context()))
	assert.Equal(t, "00000002", a.Allocate(t.Context()))

	st, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.NextID)
	assert.Equal(t, []uint64{1, 2}, st.UsedIDs)
}

func TestSkipsUsedIDs(t *testing.T) {
	store := memory.NewWithState(idstate.State{NextID: 1, UsedIDs: []uint64{1, 2, 4}})
	a := New(t.Context(), store, nil)

	assert.Equal(t, "00000003", a.Allocate(t.Context()))
	assert.Equal(t, "00000005", a.Allocate(t.Context()))

	snap := a.Snapshot()
	assert.Equal(t, uint64(6), snap.NextID)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, snap.UsedIDs)
}

func TestUnreadableStateStartsFresh(t *testing.T) {
	a := New(t.Context(), brokenStore{}, nil)
	assert.Equal(t, "00000001", a.Allocate(t.Context()))
}

func TestPersistFailureStillReturnsID(t *testing.T) {
	store := &failingStore{state: idstate.State{NextID: 7, UsedIDs: []uint64{}}}
	rec := &recorder{}
	a := New(t.Context(), store, rec)

	assert.Equal(t, "00000007", a.Allocate(t.Context()))
	assert.Equal(t, "00000008", a.Allocate(t.Context()))
	assert.Equal(t, 2, store.saves)
	assert.Equal(t, []bool{false, false}, rec.persisted)
	assert.Equal(t, uint64(9), rec.next)
	assert.Equal(t, 2, rec.used)
}

func TestConcurrentAllocationsAreUnique(t *testing.T) {
	a := New(t.Context(), memory.New(), nil)

	const workers, perWorker = 16, 50
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				id := a.Allocate(context.Background())
				mu.Lock()
				assert.False(t, seen[id], "duplicate id %s", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, uint64(workers*perWorker+1), a.Snapshot().NextID)
}

func TestRoundTripThroughStore(t *testing.T) {
	store := memory.New()
	first := New(t.Context(), store, nil)
	for range 3 {
		first.Allocate(t.Context())
	}

	second := New(t.Context(), store, nil)
	assert.Equal(t, "00000004", second.Allocate(t.Context()))
}

func TestMergeNeverForgets(t *testing.T) {
	a := New(t.Context(), memory.New(), nil)
	a.Allocate(t.Context())
	a.Allocate(t.Context())

	// An older snapshot with an extra reservation.
	a.Merge(idstate.State{NextID: 1, UsedIDs: []uint64{3}})

	snap := a.Snapshot()
	assert.Equal(t, uint64(3), snap.NextID)
	assert.Equal(t, []uint64{1, 2, 3}, snap.UsedIDs)
	assert.Equal(t, "00000004", a.Allocate(t.Context()))
}

func TestMarkUsed(t *testing.T) {
	store := memory.New()
	a := New(t.Context(), store, nil)

	require.NoError(t, a.MarkUsed(t.Context(), 1, 2))
	assert.Equal(t, "00000003", a.Allocate(t.Context()))

	assert.Error(t, a.MarkUsed(t.Context(), 0))
}

func TestReset(t *testing.T) {
	store := memory.New()
	a := New(t.Context(), store, nil)
	a.Allocate(t.Context())

	require.NoError(t, a.Reset(t.Context()))
	st, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, idstate.Default().NextID, st.NextID)
	assert.Empty(t, st.UsedIDs)
	assert.Equal(t, "00000001", a.Allocate(t.Context()))
}

func TestAllocatePersistsWithCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id_state.json")
	a := New(t.Context(), jsonfile.New(path), nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	assert.Equal(t, "00000001", a.Allocate(ctx))
	require.NoError(t, a.MarkUsed(ctx, 5))

	st, err := jsonfile.New(path).Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, idstate.State{NextID: 2, UsedIDs: []uint64{1, 5}}, st)

	// A restart continues after the persisted reservation.
	restarted := New(t.Context(), jsonfile.New(path), nil)
	assert.Equal(t, "00000002", restarted.Allocate(t.Context()))
}

func TestResetPersistsWithCancelledContext(t *testing.T) {
	store := memory.New()
	a := New(t.Context(), store, nil)
	a.Allocate(t.Context())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.NoError(t, a.Reset(ctx))

	st, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.Empty(t, st.UsedIDs)
}
