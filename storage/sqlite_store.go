package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tracksync/syncer"
	"tracksync/worklog"
)

type SQLiteStore struct {
	db *sql.DB
}

var ErrRunNotFound = errors.New("sync run not found")

// Run is the stored summary of one sync run.
type Run struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	From       string        `json:"from"`
	To         string        `json:"to"`
	DryRun     bool          `json:"dry_run"`
	Counts     syncer.Counts `json:"counts"`
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	range_from TEXT NOT NULL,
	range_to TEXT NOT NULL,
	dry_run INTEGER NOT NULL DEFAULT 0,
	created INTEGER NOT NULL DEFAULT 0,
	updated INTEGER NOT NULL DEFAULT 0,
	unchanged INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	failed_users INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS sync_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	user TEXT NOT NULL,
	toggl_user_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	origin TEXT NOT NULL,
	day TEXT NOT NULL,
	entry_id INTEGER NOT NULL DEFAULT 0,
	issue_id INTEGER NOT NULL DEFAULT 0,
	hours TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	changes TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	UNIQUE(run_id, position)
);
CREATE INDEX IF NOT EXISTS idx_sync_records_run ON sync_records(run_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveRun stores the summary and every record of report in one transaction.
func (s *SQLiteStore) SaveRun(report syncer.Report) error {
	if report.RunID == "" {
		return errors.New("run id is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	counts := report.Counts()
	_, err = tx.Exec(`
INSERT INTO sync_runs (
	id, started_at, finished_at, range_from, range_to, dry_run,
	created, updated, unchanged, failed, failed_users
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		report.RunID,
		report.StartedAt.UTC().Format(time.RFC3339),
		report.FinishedAt.UTC().Format(time.RFC3339),
		report.From.Format(worklog.DayLayout),
		report.To.Format(worklog.DayLayout),
		boolToInt(report.DryRun),
		counts.Created,
		counts.Updated,
		counts.Unchanged,
		counts.Failed,
		counts.FailedOwners,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run %s: %w", report.RunID, err)
	}

	const insertStmt = `
INSERT INTO sync_records (
	run_id, position, user, toggl_user_id, status, origin, day,
	entry_id, issue_id, hours, description, changes, message
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	stmt, err := tx.Prepare(insertStmt)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for i, record := range report.Records() {
		if _, err := stmt.Exec(
			report.RunID,
			i,
			record.User,
			record.TogglUserID,
			record.Status,
			record.Origin,
			record.Date,
			record.EntryID,
			record.IssueID,
			record.Hours,
			record.Description,
			record.Changes,
			record.Message,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListRuns returns stored runs, newest first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(limit int) ([]Run, error) {
	query := `
SELECT id, started_at, finished_at, range_from, range_to, dry_run,
	created, updated, unchanged, failed, failed_users
FROM sync_runs
ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func (s *SQLiteStore) GetRun(id string) (Run, bool, error) {
	row := s.db.QueryRow(`
SELECT id, started_at, finished_at, range_from, range_to, dry_run,
	created, updated, unchanged, failed, failed_users
FROM sync_runs
WHERE id = ?;`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

// LatestRun returns the most recently started run.
func (s *SQLiteStore) LatestRun() (Run, bool, error) {
	runs, err := s.ListRuns(1)
	if err != nil {
		return Run{}, false, err
	}
	if len(runs) == 0 {
		return Run{}, false, nil
	}
	return runs[0], true, nil
}

// ListRecords returns the records of runID in report order.
func (s *SQLiteStore) ListRecords(runID string) ([]syncer.Record, error) {
	rows, err := s.db.Query(`
SELECT user, toggl_user_id, status, origin, day, entry_id, issue_id,
	hours, description, changes, message
FROM sync_records
WHERE run_id = ?
ORDER BY position ASC;`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := make([]syncer.Record, 0)
	for rows.Next() {
		var record syncer.Record
		if err := rows.Scan(
			&record.User,
			&record.TogglUserID,
			&record.Status,
			&record.Origin,
			&record.Date,
			&record.EntryID,
			&record.IssueID,
			&record.Hours,
			&record.Description,
			&record.Changes,
			&record.Message,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) DeleteRun(id string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sync_records WHERE run_id = ?;`, id); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete records of run %s: %w", id, err)
	}
	res, err := tx.Exec(`DELETE FROM sync_runs WHERE id = ?;`, id)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete run %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("read affected rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return affected > 0, nil
}

// DeleteRunsBefore prunes runs started before cutoff and returns how many were removed.
func (s *SQLiteStore) DeleteRunsBefore(cutoff time.Time) (int64, error) {
	runs, err := s.ListRuns(0)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, run := range runs {
		if !run.StartedAt.Before(cutoff) {
			continue
		}
		deleted, err := s.DeleteRun(run.ID)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
		}
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		startedAt  string
		finishedAt string
		dryRun     int
	)
	if err := row.Scan(
		&run.ID,
		&startedAt,
		&finishedAt,
		&run.From,
		&run.To,
		&dryRun,
		&run.Counts.Created,
		&run.Counts.Updated,
		&run.Counts.Unchanged,
		&run.Counts.Failed,
		&run.Counts.FailedOwners,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at %q: %w", startedAt, err)
	}
	run.FinishedAt, err = time.Parse(time.RFC3339, finishedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse finished_at %q: %w", finishedAt, err)
	}
	run.DryRun = dryRun != 0
	return run, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
