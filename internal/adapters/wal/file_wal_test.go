package wal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

func event(unit int, outcome domain.Outcome) *domain.IsolationEvent {
	return &domain.IsolationEvent{
		UnitID:    unit,
		Kind:      domain.Uncorrected,
		Outcome:   outcome,
		State:     domain.UnitOffline,
		Threshold: 18,
		Cycle:     24 * time.Hour,
		Timestamp: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Reason:    "uncorrected error occurred",
	}
}

func TestFileWALAppendIterateAndReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}

	id1, err := w.Append(event(1, domain.OutcomeIsolated))
	if err != nil || id1 == 0 {
		t.Fatalf("append event 1: %v id=%d", err, id1)
	}
	id2, err := w.Append(event(2, domain.OutcomeIsolationFailed))
	if err != nil || id2 != id1+1 {
		t.Fatalf("append event 2: %v id=%d", err, id2)
	}

	var units []int
	if err := w.Iterate(1, func(id ports.WALEntryID, ev *domain.IsolationEvent) error {
		units = append(units, ev.UnitID)
		if ev.Cycle != 24*time.Hour || ev.Kind != domain.Uncorrected {
			t.Fatalf("event %d decoded wrong: %+v", id, ev)
		}
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(units) != 2 || units[0] != 1 || units[1] != 2 {
		t.Fatalf("expected units [1 2], got %v", units)
	}

	if err := w.Commit(id1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}
	if _, err := w.Append(event(3, domain.OutcomeIsolated)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}

	w2, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	stats := w2.Stats()
	if stats.LatestAppended != id2 {
		t.Fatalf("expected latest appended %d, got %d", id2, stats.LatestAppended)
	}
	if stats.OldestUncommitted != id2 {
		t.Fatalf("expected oldest uncommitted %d, got %d", id2, stats.OldestUncommitted)
	}

	var replayed []ports.WALEntryID
	w2.Iterate(stats.OldestUncommitted, func(id ports.WALEntryID, _ *domain.IsolationEvent) error {
		replayed = append(replayed, id)
		return nil
	})
	if len(replayed) != 1 || replayed[0] != id2 {
		t.Fatalf("expected only id %d replayed, got %v", id2, replayed)
	}

	// A torn write at the tail is cut off on reopen.
	if err := w2.Close(); err != nil {
		t.Fatalf("close wal2: %v", err)
	}
	if err := appendGarbage(filepath.Join(dir, "isolation.wal")); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	w3, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen after garbage: %v", err)
	}
	defer w3.Close()
	if w3.Stats().LatestAppended != id2 || w3.Stats().SizeBytes != stats.SizeBytes {
		t.Fatalf("torn tail not truncated: %+v", w3.Stats())
	}
	id3, err := w3.Append(event(4, domain.OutcomeIsolated))
	if err != nil || id3 != id2+1 {
		t.Fatalf("append after recovery: %v id=%d", err, id3)
	}
}

func TestFileWALTruncateCommitted(t *testing.T) {
	w, err := NewFileWAL(t.TempDir())
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		if _, err := w.Append(event(i, domain.OutcomeIsolated)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	before := w.Stats().SizeBytes
	if err := w.Commit(3); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.TruncateCommitted(); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if after := w.Stats().SizeBytes; after >= before || after == 0 {
		t.Fatalf("expected smaller log, before=%d after=%d", before, after)
	}

	var ids []ports.WALEntryID
	w.Iterate(0, func(id ports.WALEntryID, _ *domain.IsolationEvent) error {
		ids = append(ids, id)
		return nil
	})
	if len(ids) != 2 || ids[0] != 4 || ids[1] != 5 {
		t.Fatalf("expected ids [4 5] after truncate, got %v", ids)
	}

	if id, err := w.Append(event(9, domain.OutcomeIsolated)); err != nil || id != 6 {
		t.Fatalf("append after truncate: %v id=%d", err, id)
	}
}

func TestFileWALIterateCallbackCanCommit(t *testing.T) {
	w, err := NewFileWAL(t.TempDir())
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}
	defer w.Close()

	for unit := 0; unit < 3; unit++ {
		if _, err := w.Append(event(unit, domain.OutcomeIsolated)); err != nil {
			t.Fatalf("append unit %d: %v", unit, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- w.Iterate(1, func(id ports.WALEntryID, _ *domain.IsolationEvent) error {
			if err := w.Commit(id); err != nil {
				return err
			}
			_ = w.Stats()
			_, err := w.Append(event(9, domain.OutcomeGuarded))
			return err
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("iterate callback blocked on the wal lock")
	}
	stats := w.Stats()
	if stats.OldestUncommitted != 4 || stats.LatestAppended != 6 {
		t.Fatalf("unexpected stats after iterate: %+v", stats)
	}
}

func appendGarbage(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte{0xFF, 0xAA})
	return err
}
