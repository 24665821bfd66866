package aegisisolate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/AegisIsolate/internal/domain"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("aegisisolate: channel sink closed")

// EventBatchSink is invoked with ordered batches of isolation events taken
// from the journal. Events are copies; the callee may keep them.
type EventBatchSink func([]IsolationEvent) error

// NewCallbackSink adapts an EventBatchSink into a full Sink implementation so
// callers can plug arbitrary functions without defining structs.
func NewCallbackSink(name string, fn EventBatchSink) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes batches via a channel; it returns the sink, the read-only channel,
// and a close function that the caller should invoke during shutdown.
func NewChannelSink(name string, buffer int) (Sink, <-chan []IsolationEvent, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []IsolationEvent, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   EventBatchSink
}

func (s *callbackSink) WriteBatch(events []*domain.IsolationEvent) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if len(events) == 0 {
		return nil
	}
	return s.fn(copyBatch(events))
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan []IsolationEvent
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (s *channelSink) WriteBatch(events []*domain.IsolationEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	if len(events) == 0 {
		return nil
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case s.ch <- copyBatch(events):
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

// close unblocks pending writers first, then closes the data channel once
// no writer can still send on it.
func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

func copyBatch(events []*domain.IsolationEvent) []IsolationEvent {
	out := make([]IsolationEvent, 0, len(events))
	for _, ev := range events {
		if ev != nil {
			out = append(out, *ev)
		}
	}
	return out
}
