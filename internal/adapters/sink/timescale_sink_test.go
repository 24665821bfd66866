package sink

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ghalamif/AegisIsolate/internal/domain"
)

func TestTimescaleSinkWriteBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink := NewTimescaleSink(db, "isolation_events")
	ts := time.Now()

	events := []*domain.IsolationEvent{
		{
			UnitID:         3,
			Kind:           domain.Corrected,
			Outcome:        domain.OutcomeIsolated,
			State:          domain.UnitOffline,
			CorrectedTotal: 19,
			Threshold:      18,
			Cycle:          24 * time.Hour,
			Timestamp:      ts,
			Reason:         "corrected errors reached threshold",
		},
	}

	expectedQuery := regexp.QuoteMeta("INSERT INTO isolation_events (unit_id, ts, kind, outcome, state, corrected_total, uncorrected_total, threshold, cycle_seconds, reason) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) ON CONFLICT (unit_id, ts, outcome) DO NOTHING")
	mock.ExpectExec(expectedQuery).
		WithArgs(int64(3), ts, "corrected", "isolated", "offline", int64(19), int64(0), int64(18), int64(86400), "corrected errors reached threshold").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := sink.WriteBatch(events); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkWriteBatchMultiRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink := NewTimescaleSink(db, "isolation_events")
	events := []*domain.IsolationEvent{
		{UnitID: 1, Kind: domain.Uncorrected, Outcome: domain.OutcomeIsolated, State: domain.UnitOffline},
		{UnitID: 2, Kind: domain.Uncorrected, Outcome: domain.OutcomeIsolationFailed, State: domain.UnitOfflineFailed},
	}

	mock.ExpectExec(regexp.QuoteMeta("($1,$2,$3,$4,$5,$6,$7,$8,$9,$10),($11,$12,$13,$14,$15,$16,$17,$18,$19,$20)")).
		WillReturnError(errors.New("connection reset"))

	if err := sink.WriteBatch(events); err == nil {
		t.Fatalf("expected driver error to propagate")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkWriteBatchNoEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink := NewTimescaleSink(db, "isolation_events")
	if err := sink.WriteBatch(nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkEnsureTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS isolation_events").WillReturnResult(sqlmock.NewResult(0, 0))

	sink := NewTimescaleSink(db, "isolation_events")
	if err := sink.EnsureTable(); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	if sink.Name() != "timescaledb" {
		t.Fatalf("expected sink name timescaledb, got %s", sink.Name())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
