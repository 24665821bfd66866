package sink

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

const eventColumns = "unit_id, ts, kind, outcome, state, corrected_total, uncorrected_total, threshold, cycle_seconds, reason"

// TimescaleSink writes isolation events to a Postgres or TimescaleDB table.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
}

func NewTimescaleSink(db *sql.DB, table string) *TimescaleSink {
	return &TimescaleSink{db: db, tableName: table}
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

// EnsureTable creates the event table when it does not exist.
func (t *TimescaleSink) EnsureTable() error {
	_, err := t.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	unit_id           INTEGER     NOT NULL,
	ts                TIMESTAMPTZ NOT NULL,
	kind              TEXT        NOT NULL,
	outcome           TEXT        NOT NULL,
	state             TEXT        NOT NULL,
	corrected_total   BIGINT      NOT NULL,
	uncorrected_total BIGINT      NOT NULL,
	threshold         BIGINT      NOT NULL,
	cycle_seconds     BIGINT      NOT NULL,
	reason            TEXT,
	UNIQUE (unit_id, ts, outcome)
)`, t.tableName))
	return err
}

func (t *TimescaleSink) WriteBatch(events []*domain.IsolationEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Replayed events are idempotent via the unique key.
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (" + eventColumns + ") VALUES ")

	args := make([]any, 0, len(events)*10)
	for i, ev := range events {
		if i > 0 {
			b.WriteString(",")
		}
		n := len(args)
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9, n+10))
		args = append(args, eventArgs(ev)...)
	}

	b.WriteString(" ON CONFLICT (unit_id, ts, outcome) DO NOTHING")

	_, err := t.db.Exec(b.String(), args...)
	return err
}

func eventArgs(ev *domain.IsolationEvent) []any {
	return []any{
		int64(ev.UnitID),
		ev.Timestamp,
		ev.Kind.String(),
		ev.Outcome.String(),
		ev.State.String(),
		int64(ev.CorrectedTotal),
		int64(ev.UncorrectedTotal),
		int64(ev.Threshold),
		int64(ev.Cycle.Seconds()),
		ev.Reason,
	}
}

var _ ports.Sink = (*TimescaleSink)(nil)
