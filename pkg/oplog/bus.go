package oplog

import (
	"sync"

	"github.com/marmos91/rfidgate/pkg/metrics"
)

// Bus publishes records to in-process observers. Publishing never blocks: a
// record is dropped for any observer whose buffer is full.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Record
	nextID  uint64
	closed  bool
	metrics metrics.OpLogMetrics
}

// NewBus creates a bus. m may be nil.
func NewBus(m metrics.OpLogMetrics) *Bus {
	return &Bus{subs: make(map[uint64]chan Record), metrics: m}
}

// Subscribe registers an observer with the given buffer size. The returned
// function unsubscribes and closes the channel; it is safe to call more than
// once.
func (b *Bus) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Record, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish offers r to every observer.
func (b *Bus) Publish(r Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- r:
		default:
			if b.metrics != nil {
				b.metrics.RecordObserverDrop()
			}
		}
	}
}

// Subscribers returns the number of registered observers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every observer channel. Later Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
