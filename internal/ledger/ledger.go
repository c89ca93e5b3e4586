// Package ledger keeps a SQLite record of pipeline runs and the stage
// decisions taken in each, so `ratingcast status` can report history without
// touching the warehouse.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Actions recorded for a stage.
const (
	ActionComputed = "computed"
	ActionSkipped  = "skipped"
	ActionFailed   = "failed"
	ActionWritten  = "written"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusAborted = "aborted"
)

// Event is one stage decision for one table in one run.
type Event struct {
	RunID  string
	Table  string
	Stage  string
	Action string
	Detail string
	At     time.Time
}

// Run is one pipeline invocation.
type Run struct {
	ID         string
	Tables     []string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string
}

const timeLayout = time.RFC3339Nano

func nowUTC() time.Time { return time.Now().UTC() }

func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// Ledger is the SQLite-backed run ledger.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path and runs migrations. The parent
// directory is created if it does not exist.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) migrate() error {
	var tableCount int
	err := l.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableCount == 0 {
		return l.freshInstall()
	}

	var v int
	err = l.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return l.freshInstall()
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch v {
	case schemaVersionV1:
		return nil
	default:
		return fmt.Errorf("unknown ledger schema version %d", v)
	}
}

func (l *Ledger) freshInstall() error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin install tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("reset schema version: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersionV1); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

// StartRun records the beginning of a run over tables.
func (l *Ledger) StartRun(id string, tables []string) error {
	_, err := l.db.Exec(
		"INSERT INTO runs(id, tables, started_at, status) VALUES(?, ?, ?, ?)",
		id, strings.Join(tables, " "), nowUTC().Format(timeLayout), StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("start run %s: %w", id, err)
	}
	return nil
}

// FinishRun marks a run finished with status.
func (l *Ledger) FinishRun(id, status string) error {
	res, err := l.db.Exec(
		"UPDATE runs SET finished_at = ?, status = ? WHERE id = ?",
		nowUTC().Format(timeLayout), status, id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: no such run", id)
	}
	return nil
}

// Record appends one event. A zero At is stamped with the current time.
func (l *Ledger) Record(e Event) error {
	if e.At.IsZero() {
		e.At = nowUTC()
	}
	_, err := l.db.Exec(
		"INSERT INTO events(run_id, table_name, stage, action, detail, at) VALUES(?, ?, ?, ?, ?, ?)",
		e.RunID, e.Table, e.Stage, e.Action, e.Detail, e.At.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record %s/%s: %w", e.Table, e.Stage, err)
	}
	return nil
}

// Latest returns the most recent event per stage for table.
func (l *Ledger) Latest(table string) (map[string]Event, error) {
	rows, err := l.db.Query(`
		SELECT e.run_id, e.table_name, e.stage, e.action, e.detail, e.at
		FROM events e
		JOIN (SELECT stage, MAX(id) AS id FROM events WHERE table_name = ? GROUP BY stage) latest
		  ON e.id = latest.id`, table)
	if err != nil {
		return nil, fmt.Errorf("latest events for %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]Event)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out[e.Stage] = e
	}
	return out, rows.Err()
}

// Events returns every event of a run in recording order.
func (l *Ledger) Events(runID string) ([]Event, error) {
	rows, err := l.db.Query(
		"SELECT run_id, table_name, stage, action, detail, at FROM events WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastRun returns the most recently started run, or nil when none exists.
func (l *Ledger) LastRun() (*Run, error) {
	var (
		r        Run
		tables   string
		started  string
		finished sql.NullString
	)
	err := l.db.QueryRow(
		"SELECT id, tables, started_at, finished_at, status FROM runs ORDER BY rowid DESC LIMIT 1",
	).Scan(&r.ID, &tables, &started, &finished, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}
	r.Tables = strings.Fields(tables)
	r.StartedAt = parseTime(started)
	if f := nullStr(finished); f != "" {
		r.FinishedAt = parseTime(f)
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (Event, error) {
	var (
		e      Event
		detail sql.NullString
		at     string
	)
	if err := s.Scan(&e.RunID, &e.Table, &e.Stage, &e.Action, &detail, &at); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	e.Detail = nullStr(detail)
	e.At = parseTime(at)
	return e, nil
}
