package sink

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"

	_ "modernc.org/sqlite"
)

// SQLiteSink keeps a local record of isolation events in a single-file
// database, for hosts without a central store.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLiteSink opens or creates the database at path. ":memory:" is
// accepted for tests.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("sqlite sink dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink open: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS isolation_events (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			unit_id           INTEGER NOT NULL,
			ts                TIMESTAMP NOT NULL,
			kind              TEXT NOT NULL,
			outcome           TEXT NOT NULL,
			state             TEXT NOT NULL,
			corrected_total   INTEGER NOT NULL,
			uncorrected_total INTEGER NOT NULL,
			threshold         INTEGER NOT NULL,
			cycle_seconds     INTEGER NOT NULL,
			reason            TEXT,
			UNIQUE (unit_id, ts, outcome)
		);

		CREATE INDEX IF NOT EXISTS idx_isolation_events_unit ON isolation_events(unit_id);
	`)
	if err != nil {
		return fmt.Errorf("sqlite sink schema: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) WriteBatch(events []*domain.IsolationEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT OR IGNORE INTO isolation_events (" + eventColumns + ") VALUES (?,?,?,?,?,?,?,?,?,?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.Exec(eventArgs(ev)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite sink insert unit %d: %w", ev.UnitID, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored events for unit, or for all units when
// unit is negative.
func (s *SQLiteSink) Count(unit int) (int, error) {
	var n int
	var err error
	if unit < 0 {
		err = s.db.QueryRow("SELECT COUNT(*) FROM isolation_events").Scan(&n)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM isolation_events WHERE unit_id = ?", unit).Scan(&n)
	}
	return n, err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

var _ ports.Sink = (*SQLiteSink)(nil)
