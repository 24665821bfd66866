package queue

import (
	"sync"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

// MemQueue holds journaled isolation events between the WAL and the audit
// sink in a fixed ring. Events leave in arrival order. WAL ids need not
// arrive in order: a replayed backlog interleaves with new appends, which
// is why Oldest scans instead of reading the head.
type MemQueue struct {
	mu   sync.Mutex
	ring []ports.QueuedEvent
	head int
	n    int
}

// NewMemQueue returns a buffer for capacity events, at least one.
func NewMemQueue(capacity int) *MemQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &MemQueue{ring: make([]ports.QueuedEvent, capacity)}
}

// Enqueue buffers ev under its WAL id. It reports false when the ring is
// full or ev is nil.
func (q *MemQueue) Enqueue(id ports.WALEntryID, ev *domain.IsolationEvent) bool {
	if ev == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == len(q.ring) {
		return false
	}
	q.ring[(q.head+q.n)%len(q.ring)] = ports.QueuedEvent{ID: id, Event: ev}
	q.n++
	return true
}

// DequeueBatch removes up to max events, all of them when max <= 0.
func (q *MemQueue) DequeueBatch(max int) []ports.QueuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return nil
	}
	if max <= 0 || max > q.n {
		max = q.n
	}
	out := make([]ports.QueuedEvent, max)
	for i := range out {
		slot := (q.head + i) % len(q.ring)
		out[i] = q.ring[slot]
		q.ring[slot] = ports.QueuedEvent{}
	}
	q.head = (q.head + max) % len(q.ring)
	q.n -= max
	return out
}

// Oldest reports the lowest WAL id still buffered.
func (q *MemQueue) Oldest() (ports.WALEntryID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return 0, false
	}
	low := q.ring[q.head].ID
	for i := 1; i < q.n; i++ {
		if id := q.ring[(q.head+i)%len(q.ring)].ID; id < low {
			low = id
		}
	}
	return low, true
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

var _ ports.EventBuffer = (*MemQueue)(nil)
