package sink

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ghalamif/AegisIsolate/internal/domain"
)

func TestSQLiteSinkWriteBatch(t *testing.T) {
	s, err := OpenSQLiteSink(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ts := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	events := []*domain.IsolationEvent{
		{UnitID: 1, Kind: domain.Uncorrected, Outcome: domain.OutcomeIsolated, State: domain.UnitOffline, UncorrectedTotal: 1, Timestamp: ts},
		{UnitID: 2, Kind: domain.Corrected, Outcome: domain.OutcomeIsolationFailed, State: domain.UnitOfflineFailed, CorrectedTotal: 20, Timestamp: ts},
	}
	if err := s.WriteBatch(events); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	// Replaying the same batch does not duplicate rows.
	if err := s.WriteBatch(events); err != nil {
		t.Fatalf("replay batch: %v", err)
	}

	if n, err := s.Count(-1); err != nil || n != 2 {
		t.Fatalf("expected 2 events, got %d err=%v", n, err)
	}
	if n, err := s.Count(2); err != nil || n != 1 {
		t.Fatalf("expected 1 event for unit 2, got %d err=%v", n, err)
	}
	if s.Name() != "sqlite" {
		t.Fatalf("expected sink name sqlite, got %s", s.Name())
	}
}

func TestSQLiteSinkFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "isolation.db")
	s, err := OpenSQLiteSink(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.WriteBatch([]*domain.IsolationEvent{{UnitID: 4, Outcome: domain.OutcomeIsolated, Timestamp: time.Now()}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	s.Close()

	reopened, err := OpenSQLiteSink(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if n, _ := reopened.Count(4); n != 1 {
		t.Fatalf("expected event to persist across reopen, got %d", n)
	}
}
