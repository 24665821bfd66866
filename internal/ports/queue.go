package ports

import (
	"time"

	"github.com/ghalamif/AegisIsolate/internal/domain"
)

// EventQueue is the per-unit time-ordered window of corrected-error samples.
// Implementations are not required to be safe for concurrent use.
type EventQueue interface {
	Push(s domain.Sample)
	EvictOlderThan(window time.Duration) uint64
	Clear()
	IsEmpty() bool
	PeekHead() (domain.Sample, bool)
	PeekTail() (domain.Sample, bool)
	Len() int
}

type QueuedEvent struct {
	ID    WALEntryID
	Event *domain.IsolationEvent
}

// EventBuffer decouples journal appends from sink writes. Oldest reports the
// lowest WAL id still buffered; the journal never commits at or past it.
type EventBuffer interface {
	Enqueue(id WALEntryID, ev *domain.IsolationEvent) bool
	DequeueBatch(max int) []QueuedEvent
	Oldest() (WALEntryID, bool)
	Len() int
}
