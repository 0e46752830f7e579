package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/SandrickPro/packsched/pkg/models"
)

// PostgresArchive persists the archive in PostgreSQL, for deployments where
// the archive outlives a single host.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive connects to the database named by the connection string
// and ensures the schema exists.
func NewPostgresArchive(connStr string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}

	a := &PostgresArchive{db: db}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize archive schema: %w", err)
	}
	return a, nil
}

func (a *PostgresArchive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		seq BIGSERIAL PRIMARY KEY,
		job_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		decided_at TIMESTAMPTZ NOT NULL,
		queue_wait_ns BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_job ON decisions(job_id);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		name TEXT,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		request JSONB NOT NULL,
		node_selector JSONB,
		preferences JSONB,
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		transitions JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`
	_, err := a.db.Exec(schema)
	return err
}

func (a *PostgresArchive) RecordDecision(d *models.SchedulingDecision) error {
	_, err := a.db.Exec(
		`INSERT INTO decisions (job_id, node_id, score, decided_at, queue_wait_ns) VALUES ($1, $2, $3, $4, $5)`,
		d.JobID, d.NodeID, d.Score, d.DecidedAt, int64(d.QueueWait),
	)
	if err != nil {
		return fmt.Errorf("record decision for job %s: %w", d.JobID, err)
	}
	return nil
}

func (a *PostgresArchive) ListDecisions(limit int) ([]*models.SchedulingDecision, error) {
	query := `SELECT job_id, node_id, score, decided_at, queue_wait_ns FROM decisions ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
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

func (a *PostgresArchive) RecordJob(j *models.Job) error {
	request, selector, preferences, transitions, err := encodeJobFields(j)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(
		`INSERT INTO jobs (id, name, status, priority, request, node_selector, preferences,
			attempts, error, created_at, completed_at, transitions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status, attempts=EXCLUDED.attempts, error=EXCLUDED.error,
			completed_at=EXCLUDED.completed_at, transitions=EXCLUDED.transitions`,
		j.ID, j.Name, string(j.Status), j.Priority.String(), request, selector, preferences,
		j.Attempts, j.Error, j.CreatedAt, j.CompletedAt, transitions,
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", j.ID, err)
	}
	return nil
}

func (a *PostgresArchive) GetJob(id string) (*models.Job, error) {
	row := a.db.QueryRow(
		`SELECT id, name, status, priority, request, node_selector, preferences,
			attempts, error, created_at, completed_at, transitions
		 FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

func (a *PostgresArchive) ListJobs(status models.JobStatus, limit int) ([]*models.Job, error) {
	query := `SELECT id, name, status, priority, request, node_selector, preferences,
		attempts, error, created_at, completed_at, transitions FROM jobs`
	args := []any{}
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
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

func (a *PostgresArchive) Close() error { return a.db.Close() }
