// Package pipeline moves classified errors into the isolation controller and
// isolation events out to durable audit sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

var (
	ErrJournalFull   = errors.New("journal: wal full")
	ErrBufferFull    = errors.New("journal: buffer full")
	ErrJournalClosed = errors.New("journal: closed")
)

const defaultIdle = 5 * time.Millisecond

// Journal persists isolation events through WAL -> buffer -> sink. Events are
// committed in the WAL only after the sink accepted them, so a restart
// replays whatever was still in flight. The commit point never passes an
// event that is still buffered or that the buffer refused.
type Journal struct {
	wal  ports.WAL
	buf  ports.EventBuffer
	sink ports.Sink
	pol  ports.JournalPolicy
	obs  ports.Observability

	// appendMu keeps WAL order and buffer order equal for live events.
	appendMu sync.Mutex
	// lowest WAL id the buffer refused, 0 if none
	refused atomic.Uint64
	// next backlog id Replay has not buffered yet, 0 outside Replay
	replayNext atomic.Uint64
	// highest id the sink took and the last commit; only the sink loop
	// touches them
	flushed   ports.WALEntryID
	committed ports.WALEntryID

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewJournal(wal ports.WAL, buf ports.EventBuffer, sink ports.Sink, pol ports.JournalPolicy, obs ports.Observability) *Journal {
	return &Journal{
		wal:    wal,
		buf:    buf,
		sink:   sink,
		pol:    pol,
		obs:    obs,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Record appends ev to the WAL and buffers it for the sink.
func (j *Journal) Record(ev *domain.IsolationEvent) error {
	select {
	case <-j.stopCh:
		return ErrJournalClosed
	default:
	}

	if !j.waitForWALCapacity() {
		j.obs.IncCounter(ports.MetricJournalDropped, 1)
		return ErrJournalFull
	}
	j.appendMu.Lock()
	id, err := j.wal.Append(ev)
	if err != nil {
		j.appendMu.Unlock()
		j.obs.LogCritical("wal_append_failed", err, ports.F("unit", ev.UnitID))
		return fmt.Errorf("journal append: %w", err)
	}
	ok := j.enqueueWithPolicy(id, ev)
	j.appendMu.Unlock()
	if !ok {
		j.refuse(id)
		j.obs.IncCounter(ports.MetricJournalDropped, 1)
		return ErrBufferFull
	}
	j.obs.SetGauge(ports.MetricQueueLength, float64(j.buf.Len()))
	return nil
}

// Replay buffers every uncommitted WAL entry. Call it after Start so a
// backlog larger than the buffer drains under the block policy. Entries the
// buffer refuses stay uncommitted for the next start.
func (j *Journal) Replay() (int, error) {
	stats := j.wal.Stats()
	j.replayNext.Store(uint64(stats.OldestUncommitted))
	defer j.replayNext.Store(0)

	n := 0
	err := j.wal.Iterate(stats.OldestUncommitted, func(id ports.WALEntryID, ev *domain.IsolationEvent) error {
		if !j.enqueueWithPolicy(id, ev) {
			j.refuse(id)
			return ErrBufferFull
		}
		j.replayNext.Store(uint64(id) + 1)
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("journal replay: %w", err)
	}
	if n > 0 {
		j.obs.LogInfo("journal_replayed", ports.F("events", n), ports.F("from", uint64(stats.OldestUncommitted)))
	}
	return n, nil
}

// Start launches the sink loop once.
func (j *Journal) Start() {
	j.startOnce.Do(func() {
		go j.run()
	})
}

// Close stops the sink loop after it drains what is buffered, bounded by ctx.
func (j *Journal) Close(ctx context.Context) error {
	j.stopOnce.Do(func() {
		close(j.stopCh)
	})
	// A journal that never started has no loop to wait for.
	j.startOnce.Do(func() { close(j.doneCh) })
	select {
	case <-j.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return j.wal.Close()
}

func (j *Journal) run() {
	defer close(j.doneCh)
	idle := j.pol.IdleSleep
	if idle <= 0 {
		idle = defaultIdle
	}

	for {
		batch := j.buf.DequeueBatch(j.pol.MaxBatchSize)
		if len(batch) == 0 {
			// A commit held back by Replay can move once it finishes.
			j.advance()
			select {
			case <-j.stopCh:
				return
			case <-time.After(idle):
			}
			continue
		}
		j.flush(batch, idle)
		j.obs.SetGauge(ports.MetricQueueLength, float64(j.buf.Len()))
		j.obs.SetGauge(ports.MetricWALSize, float64(j.wal.Stats().SizeBytes))
	}
}

// flush writes one batch with bounded retries. Events the sink keeps
// rejecting go to the DLQ so later batches can still be committed.
func (j *Journal) flush(batch []ports.QueuedEvent, idle time.Duration) {
	events := make([]*domain.IsolationEvent, 0, len(batch))
	for _, item := range batch {
		events = append(events, item.Event)
	}

	retries := j.pol.MaxSinkRetries
	if retries <= 0 {
		retries = 1
	}

	var err error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-j.stopCh:
				// Leave the batch uncommitted; it replays on the next start.
				j.obs.LogWarn("journal_flush_abandoned", ports.F("events", len(events)))
				return
			case <-time.After(idle << attempt):
			}
		}
		start := time.Now()
		if err = j.sink.WriteBatch(events); err == nil {
			j.obs.ObserveLatency(ports.MetricSinkLatency, time.Since(start).Seconds())
			j.obs.IncCounter(ports.MetricEventsPersisted, float64(len(events)))
			break
		}
		j.obs.LogError("sink_write_failed", err,
			ports.F("sink", j.sink.Name()),
			ports.F("attempt", attempt+1),
			ports.F("events", len(events)))
	}
	if err != nil {
		for _, item := range batch {
			j.obs.RecordDLQ(item.ID, item.Event, err)
		}
	}

	for _, item := range batch {
		if item.ID > j.flushed {
			j.flushed = item.ID
		}
	}
	j.advance()
}

// advance commits up to the highest id the sink took, held back by anything
// older that has not reached the sink.
func (j *Journal) advance() {
	upto := j.commitPoint(j.flushed)
	if upto <= j.committed {
		return
	}
	if err := j.wal.Commit(upto); err != nil {
		j.obs.LogError("wal_commit_failed", err)
		return
	}
	j.committed = upto
	if st := j.wal.Stats(); st.OldestUncommitted > st.LatestAppended && st.SizeBytes > 0 {
		if err := j.wal.TruncateCommitted(); err != nil {
			j.obs.LogError("wal_truncate_failed", err)
		}
	}
}

// commitPoint lowers upto below the oldest buffered id, the lowest refused
// id and the backlog Replay has not buffered yet.
func (j *Journal) commitPoint(upto ports.WALEntryID) ports.WALEntryID {
	if oldest, ok := j.buf.Oldest(); ok && oldest <= upto {
		upto = oldest - 1
	}
	for _, floor := range []uint64{j.refused.Load(), j.replayNext.Load()} {
		if id := ports.WALEntryID(floor); id != 0 && id <= upto {
			upto = id - 1
		}
	}
	return upto
}

func (j *Journal) refuse(id ports.WALEntryID) {
	for {
		cur := j.refused.Load()
		if cur != 0 && cur <= uint64(id) {
			return
		}
		if j.refused.CompareAndSwap(cur, uint64(id)) {
			return
		}
	}
}

func (j *Journal) waitForWALCapacity() bool {
	if j.pol.MaxWALSizeBytes <= 0 {
		return true
	}
	sleep := j.pol.IdleSleep
	if sleep <= 0 {
		sleep = defaultIdle
	}

	for {
		stats := j.wal.Stats()
		if stats.SizeBytes < j.pol.MaxWALSizeBytes {
			return true
		}

		switch j.pol.OnWALFull {
		case "block":
			select {
			case <-j.stopCh:
				return false
			case <-time.After(sleep):
			}
		case "drop":
			j.obs.LogError("wal_full_drop", fmt.Errorf("size=%d limit=%d", stats.SizeBytes, j.pol.MaxWALSizeBytes))
			return false
		default:
			j.obs.LogError("wal_policy_invalid", fmt.Errorf("policy=%s", j.pol.OnWALFull))
			return false
		}
	}
}

func (j *Journal) enqueueWithPolicy(id ports.WALEntryID, ev *domain.IsolationEvent) bool {
	sleep := j.pol.IdleSleep
	if sleep <= 0 {
		sleep = defaultIdle
	}

	for {
		if ok := j.buf.Enqueue(id, ev); ok {
			return true
		}

		switch j.pol.OnQueueFull {
		case "block":
			select {
			case <-j.stopCh:
				return false
			case <-time.After(sleep):
			}
		case "drop", "reject":
			j.obs.LogError("queue_full_drop", fmt.Errorf("buffer length exceeded capacity %d", j.pol.MaxQueueLen))
			return false
		default:
			j.obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", j.pol.OnQueueFull))
			return false
		}
	}
}

var _ ports.EventRecorder = (*Journal)(nil)
