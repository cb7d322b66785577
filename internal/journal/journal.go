// Package journal records pipeline runs and per-date partition fingerprints
// in a local SQLite database. The journal is bookkeeping, not a source of
// truth: the snapshot and summary files stand on their own, and a missing or
// corrupt journal only degrades incremental summarization to a fuller
// recompute.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses recorded in the runs table.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// ErrLocked is returned by AcquireLock when another live run holds the lock.
var ErrLocked = errors.New("journal: run lock held by another process")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL,
	detail TEXT
);
CREATE TABLE IF NOT EXISTS date_marks (
	date TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS run_lock (
	kind TEXT PRIMARY KEY,
	acquired_at TEXT NOT NULL
);
`

// Journal wraps the SQLite database holding run history, the run lock, and
// date-partition fingerprints.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if necessary) the journal database at the given path
// and ensures the schema exists.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// AcquireLock takes the run lock for the given kind. A lock older than
// staleAfter is treated as left behind by a dead run and broken. Returns
// ErrLocked when a live run holds the lock.
func (j *Journal) AcquireLock(kind string, staleAfter time.Duration) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("acquiring run lock: %w", err)
	}
	defer tx.Rollback()

	var acquiredAt string
	err = tx.QueryRow(`SELECT acquired_at FROM run_lock WHERE kind = ?`, kind).Scan(&acquiredAt)
	switch {
	case err == nil:
		at, parseErr := time.Parse(time.RFC3339, acquiredAt)
		if parseErr == nil && time.Since(at) < staleAfter {
			return ErrLocked
		}
		// Stale or unparseable: break it.
		if _, err := tx.Exec(`DELETE FROM run_lock WHERE kind = ?`, kind); err != nil {
			return fmt.Errorf("breaking stale run lock: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// No holder.
	default:
		return fmt.Errorf("checking run lock: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(`INSERT INTO run_lock (kind, acquired_at) VALUES (?, ?)`, kind, now); err != nil {
		return fmt.Errorf("taking run lock: %w", err)
	}
	return tx.Commit()
}

// ReleaseLock drops the run lock for the given kind.
func (j *Journal) ReleaseLock(kind string) error {
	if _, err := j.db.Exec(`DELETE FROM run_lock WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("releasing run lock: %w", err)
	}
	return nil
}

// StartRun inserts a run record with status running and returns its id.
func (j *Journal) StartRun(kind string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := j.db.Exec(
		`INSERT INTO runs (kind, started_at, status) VALUES (?, ?, ?)`,
		kind, now, StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("recording run start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("recording run start: %w", err)
	}
	return id, nil
}

// FinishRun marks a run as finished with the given status and detail.
func (j *Journal) FinishRun(id int64, status, detail string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := j.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, detail = ? WHERE id = ?`,
		now, status, detail, id,
	)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// LastRun returns the most recent run of the given kind, or sql.ErrNoRows
// when the journal has none.
func (j *Journal) LastRun(kind string) (Run, error) {
	var r Run
	var finished, detail sql.NullString
	err := j.db.QueryRow(
		`SELECT id, kind, started_at, finished_at, status, detail
		 FROM runs WHERE kind = ? ORDER BY id DESC LIMIT 1`,
		kind,
	).Scan(&r.ID, &r.Kind, &r.StartedAt, &finished, &r.Status, &detail)
	if err != nil {
		return Run{}, err
	}
	r.FinishedAt = finished.String
	r.Detail = detail.String
	return r, nil
}

// Run is one recorded pipeline run.
type Run struct {
	ID         int64
	Kind       string
	StartedAt  string
	FinishedAt string
	Status     string
	Detail     string
}

// Fingerprints returns every recorded date fingerprint keyed by date.
func (j *Journal) Fingerprints() (map[string]string, error) {
	rows, err := j.db.Query(`SELECT date, fingerprint FROM date_marks`)
	if err != nil {
		return nil, fmt.Errorf("reading date marks: %w", err)
	}
	defer rows.Close()

	marks := make(map[string]string)
	for rows.Next() {
		var date, fp string
		if err := rows.Scan(&date, &fp); err != nil {
			return nil, fmt.Errorf("reading date marks: %w", err)
		}
		marks[date] = fp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading date marks: %w", err)
	}
	return marks, nil
}

// SetFingerprint records the fingerprint for one date partition, replacing
// any previous mark.
func (j *Journal) SetFingerprint(date, fingerprint string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := j.db.Exec(
		`INSERT INTO date_marks (date, fingerprint, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(date) DO UPDATE SET fingerprint = excluded.fingerprint, updated_at = excluded.updated_at`,
		date, fingerprint, now,
	)
	if err != nil {
		return fmt.Errorf("recording fingerprint for %s: %w", date, err)
	}
	return nil
}
