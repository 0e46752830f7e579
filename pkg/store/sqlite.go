package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/SandrickPro/packsched/pkg/models"
)

// SQLiteArchive persists the archive in a local SQLite database.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive opens (and if needed creates) the archive database.
// WAL mode and a single-writer pool keep concurrent hook writers from
// tripping over SQLITE_BUSY.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	a := &SQLiteArchive{db: db}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize archive schema: %w", err)
	}
	return a, nil
}

func (a *SQLiteArchive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		score REAL NOT NULL,
		decided_at DATETIME NOT NULL,
		queue_wait_ns INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_job ON decisions(job_id);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		name TEXT,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		request TEXT NOT NULL,
		node_selector TEXT,
		preferences TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		transitions TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`
	_, err := a.db.Exec(schema)
	return err
}

func (a *SQLiteArchive) RecordDecision(d *models.SchedulingDecision) error {
	_, err := a.db.Exec(
		`INSERT INTO decisions (job_id, node_id, score, decided_at, queue_wait_ns) VALUES (?, ?, ?, ?, ?)`,
		d.JobID, d.NodeID, d.Score, d.DecidedAt, int64(d.QueueWait),
	)
	if err != nil {
		return fmt.Errorf("record decision for job %s: %w", d.JobID, err)
	}
	return nil
}

func (a *SQLiteArchive) ListDecisions(limit int) ([]*models.SchedulingDecision, error) {
	query := `SELECT job_id, node_id, score, decided_at, queue_wait_ns FROM decisions ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []*models.SchedulingDecision
	for rows.Next() {
		var d models.SchedulingDecision
		var waitNS int64
		if err := rows.Scan(&d.JobID, &d.NodeID, &d.Score, &d.DecidedAt, &waitNS); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.QueueWait = time.Duration(waitNS)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (a *SQLiteArchive) RecordJob(j *models.Job) error {
	request, selector, preferences, transitions, err := encodeJobFields(j)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(
		`INSERT INTO jobs (id, name, status, priority, request, node_selector, preferences,
			attempts, error, created_at, completed_at, transitions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, attempts=excluded.attempts, error=excluded.error,
			completed_at=excluded.completed_at, transitions=excluded.transitions`,
		j.ID, j.Name, string(j.Status), j.Priority.String(), request, selector, preferences,
		j.Attempts, j.Error, j.CreatedAt, j.CompletedAt, transitions,
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", j.ID, err)
	}
	return nil
}

func (a *SQLiteArchive) GetJob(id string) (*models.Job, error) {
	row := a.db.QueryRow(
		`SELECT id, name, status, priority, request, node_selector, preferences,
			attempts, error, created_at, completed_at, transitions
		 FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

func (a *SQLiteArchive) ListJobs(status models.JobStatus, limit int) ([]*models.Job, error) {
	query := `SELECT id, name, status, priority, request, node_selector, preferences,
		attempts, error, created_at, completed_at, transitions FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (a *SQLiteArchive) Close() error { return a.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeJobFields(j *models.Job) (request, selector, preferences, transitions string, err error) {
	enc := func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode job %s: %w", j.ID, err)
		}
		return string(b), nil
	}
	if request, err = enc(j.Request); err != nil {
		return
	}
	if selector, err = enc(j.NodeSelector); err != nil {
		return
	}
	if preferences, err = enc(j.Preferences); err != nil {
		return
	}
	transitions, err = enc(j.StateTransitions)
	return
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var status, priority, request string
	var selector, preferences, transitions, errMsg sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.Name, &status, &priority, &request, &selector, &preferences,
		&j.Attempts, &errMsg, &j.CreatedAt, &completedAt, &transitions); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.Status = models.JobStatus(status)
	p, err := models.ParsePriority(priority)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", j.ID, err)
	}
	j.Priority = p
	j.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(request), &j.Request); err != nil {
		return nil, fmt.Errorf("decode job %s request: %w", j.ID, err)
	}
	if selector.Valid && selector.String != "" && selector.String != "null" {
		if err := json.Unmarshal([]byte(selector.String), &j.NodeSelector); err != nil {
			return nil, fmt.Errorf("decode job %s selector: %w", j.ID, err)
		}
	}
	if preferences.Valid && preferences.String != "" && preferences.String != "null" {
		if err := json.Unmarshal([]byte(preferences.String), &j.Preferences); err != nil {
			return nil, fmt.Errorf("decode job %s preferences: %w", j.ID, err)
		}
	}
	if transitions.Valid && transitions.String != "" && transitions.String != "null" {
		if err := json.Unmarshal([]byte(transitions.String), &j.StateTransitions); err != nil {
			return nil, fmt.Errorf("decode job %s transitions: %w", j.ID, err)
		}
	}
	return &j, nil
}
