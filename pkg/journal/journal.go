// Package journal records every move request and its gate decision in a
// SQLite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"kappa-stage/pkg/kinematics"
)

const schema = `
CREATE TABLE IF NOT EXISTS moves (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	move_id      TEXT NOT NULL UNIQUE,
	stage        TEXT NOT NULL,
	requested    TEXT NOT NULL,
	start        TEXT NOT NULL,
	setpoint     TEXT,
	decision     TEXT,
	prompted     INTEGER NOT NULL DEFAULT 0,
	outcome      TEXT NOT NULL,
	error        TEXT,
	duration_ms  REAL NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS moves_stage_seq ON moves (stage, seq);
`

// Outcomes stored in Entry.Outcome.
const (
	OutcomeSuccess       = "success"
	OutcomeAborted       = "aborted"
	OutcomeInvalidTarget = "invalid_target"
	OutcomeBusy          = "busy"
	OutcomeHardware      = "hardware"
	OutcomeTimeout       = "timeout"
	OutcomeError         = "error"
)

// Entry is one move request.
type Entry struct {
	ID        string
	Stage     string
	Time      time.Time
	Requested kinematics.VirtualPosition
	Start     kinematics.RealPosition
	Setpoint  *kinematics.RealPosition // nil when the transform failed
	Decision  string                   // empty when the gate was not reached
	Prompted  bool
	Outcome   string
	Error     string
	Duration  time.Duration
}

// Store is a move journal backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one connection keeps ":memory:" a single database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes e, filling in ID and Time when unset.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	var setpoint interface{}
	if e.Setpoint != nil {
		setpoint = encodeReal(*e.Setpoint)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO moves (move_id, stage, requested, start, setpoint, decision, prompted, outcome, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Stage,
		encodeVirtual(e.Requested),
		encodeReal(e.Start),
		setpoint,
		nullIfEmpty(e.Decision),
		boolInt(e.Prompted),
		e.Outcome,
		nullIfEmpty(e.Error),
		float64(e.Duration)/float64(time.Millisecond),
		e.Time.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append move %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to n entries for stage, newest first. An empty stage
// matches all stages.
func (s *Store) Recent(ctx context.Context, stage string, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT move_id, stage, requested, start, setpoint, decision, prompted, outcome, error, duration_ms, created_at
		 FROM moves WHERE (? = '' OR stage = ?) ORDER BY seq DESC LIMIT ?`,
		stage, stage, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query moves: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                  Entry
			requested, start   string
			setpoint, decision sql.NullString
			errText            sql.NullString
			durationMS         float64
			createdAt          string
		)
		if err := rows.Scan(&e.ID, &e.Stage, &requested, &start, &setpoint, &decision,
			&e.Prompted, &e.Outcome, &errText, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		if e.Requested, err = decodeVirtual(requested); err != nil {
			return nil, fmt.Errorf("decode requested: %w", err)
		}
		if e.Start, err = decodeReal(start); err != nil {
			return nil, fmt.Errorf("decode start: %w", err)
		}
		if setpoint.Valid {
			sp, err := decodeReal(setpoint.String)
			if err != nil {
				return nil, fmt.Errorf("decode setpoint: %w", err)
			}
			e.Setpoint = &sp
		}
		e.Decision = decision.String
		e.Error = errText.String
		e.Duration = time.Duration(durationMS * float64(time.Millisecond))
		if e.Time, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of entries for stage.
func (s *Store) Count(ctx context.Context, stage string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM moves WHERE (? = '' OR stage = ?)`, stage, stage).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count moves: %w", err)
	}
	return n, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
