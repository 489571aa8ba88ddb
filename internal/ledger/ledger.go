// Package ledger persists fleet job transitions in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/toricodesthings/compound-association-service/internal/fleet"
	"github.com/toricodesthings/compound-association-service/internal/logging"
)

var ErrNotFound = errors.New("ledger: job not found")

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	document     TEXT NOT NULL,
	page_range   TEXT NOT NULL,
	format       TEXT NOT NULL,
	state        TEXT NOT NULL,
	outcome      TEXT NOT NULL DEFAULT '',
	detail       TEXT NOT NULL DEFAULT '',
	submitted_at INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_state ON jobs(state);
`

// Entry is one job row.
type Entry struct {
	ID          string    `json:"id"`
	Document    string    `json:"document"`
	PageRange   string    `json:"pageRange"`
	Format      string    `json:"outputFormat"`
	State       string    `json:"state"`
	Outcome     string    `json:"outcome,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Ledger struct {
	db  *sql.DB
	log logging.Logger
}

// Open creates or opens the ledger at path. ":memory:" keeps it in memory.
func Open(path string, log logging.Logger) (*Ledger, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// Single connection: writes are serialized and :memory: stays one database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Ledger{db: db, log: logging.OrNop(log).Named("ledger")}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Observe records a fleet transition. Write failures are logged; the fleet
// never waits on the ledger's health.
func (l *Ledger) Observe(e fleet.Event) {
	if err := l.Record(context.Background(), e); err != nil {
		l.log.Warn("ledger write failed",
			logging.String("job", e.Job.ID),
			logging.String("state", string(e.To)),
			logging.Err(err))
	}
}

func (l *Ledger) Record(ctx context.Context, e fleet.Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	detail := ""
	if e.Err != nil {
		detail = e.Err.Error()
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO jobs (id, document, page_range, format, state, outcome, detail, submitted_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	state = excluded.state,
	outcome = excluded.outcome,
	detail = excluded.detail,
	updated_at = excluded.updated_at`,
		e.Job.ID, e.Job.FilePath, e.Job.PageRange.String(), string(e.Job.OutputFormat),
		string(e.To), string(e.Outcome), detail, at.UnixMilli(), at.UnixMilli())
	return err
}

func (l *Ledger) Get(ctx context.Context, id string) (Entry, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT id, document, page_range, format, state, outcome, detail, submitted_at, updated_at
FROM jobs WHERE id = ?`, id)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List returns the most recently updated jobs first.
func (l *Ledger) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, document, page_range, format, state, outcome, detail, submitted_at, updated_at
FROM jobs ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Entry, error) {
	var (
		e                  Entry
		submitted, updated int64
	)
	if err := s.Scan(&e.ID, &e.Document, &e.PageRange, &e.Format, &e.State, &e.Outcome, &e.Detail, &submitted, &updated); err != nil {
		return Entry{}, err
	}
	e.SubmittedAt = time.UnixMilli(submitted)
	e.UpdatedAt = time.UnixMilli(updated)
	return e, nil
}
