package oplog

import (
	"context"
	"sync"
)

// History keeps the most recent records in memory for status queries.
type History struct {
	mu   sync.RWMutex
	buf  []Record
	head int
	full bool
}

var _ Lister = (*History)(nil)

// NewHistory keeps up to size records.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{buf: make([]Record, size)}
}

// Add stores r, evicting the oldest record when full.
func (h *History) Add(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.head] = r
	h.head = (h.head + 1) % len(h.buf)
	if h.head == 0 {
		h.full = true
	}
}

// Len returns the number of stored records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.buf)
	}
	return h.head
}

// List returns matching records, newest first.
func (h *History) List(_ context.Context, f Filter) ([]Record, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.head
	if h.full {
		n = len(h.buf)
	}

	out := make([]Record, 0, min(n, max(f.Limit, 0)))
	for i := range n {
		idx := (h.head - 1 - i + len(h.buf)) % len(h.buf)
		r := h.buf[idx]
		if !f.Match(r) {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Run adds every record received on ch until ch is closed or ctx is done.
func (h *History) Run(ctx context.Context, ch <-chan Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-ch:
			if !ok {
				return
			}
			h.Add(r)
		}
	}
}
