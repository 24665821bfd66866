package queue

import (
	"time"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

type windowNode struct {
	sample domain.Sample
	next   *windowNode
}

// WindowQueue is a singly linked FIFO of samples ordered by arrival time.
// Push and pop are O(1). It is not safe for concurrent use; the owning unit
// record serializes access.
type WindowQueue struct {
	head *windowNode
	tail *windowNode
	size int
}

func NewWindowQueue() *WindowQueue {
	return &WindowQueue{}
}

// Push appends s at the tail. Callers guarantee non-decreasing timestamps.
func (q *WindowQueue) Push(s domain.Sample) {
	n := &windowNode{sample: s}
	if q.head == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.size++
}

// EvictOlderThan pops head samples while the span between head and tail
// exceeds window and returns the total magnitude removed.
func (q *WindowQueue) EvictOlderThan(window time.Duration) uint64 {
	var evicted uint64
	for q.head != nil && q.tail.sample.Timestamp.Sub(q.head.sample.Timestamp) > window {
		evicted += q.head.sample.Magnitude
		q.pop()
	}
	return evicted
}

func (q *WindowQueue) pop() {
	n := q.head
	q.head = n.next
	n.next = nil
	q.size--
	if q.head == nil {
		q.tail = nil
	}
}

func (q *WindowQueue) Clear() {
	for q.head != nil {
		q.pop()
	}
}

func (q *WindowQueue) IsEmpty() bool { return q.size == 0 }

func (q *WindowQueue) PeekHead() (domain.Sample, bool) {
	if q.head == nil {
		return domain.Sample{}, false
	}
	return q.head.sample, true
}

func (q *WindowQueue) PeekTail() (domain.Sample, bool) {
	if q.tail == nil {
		return domain.Sample{}, false
	}
	return q.tail.sample, true
}

func (q *WindowQueue) Len() int { return q.size }

var _ ports.EventQueue = (*WindowQueue)(nil)
