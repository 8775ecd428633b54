// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizbot/quizsolver/internal/quiz"
)

// ErrJobNotFound is returned when a job ID has no row.
var ErrJobNotFound = errors.New("job not found")

// Config controls the Postgres connection pool used for the job store.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// dbConn is the subset of pgxpool.Pool the store needs; pgxmock
// satisfies it in tests.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists jobs and question records in Postgres.
type JobStore struct {
	pool dbConn
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithConn wraps an existing connection; used by tests.
func NewJobStoreWithConn(pool dbConn) *JobStore {
	return &JobStore{pool: pool}
}

// Migrate creates the jobs and questions tables when missing.
func (s *JobStore) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	submitted   TIMESTAMPTZ NOT NULL,
	started     TIMESTAMPTZ,
	finished    TIMESTAMPTZ,
	error_text  TEXT NOT NULL DEFAULT '',
	parameters  JSONB NOT NULL,
	counters    JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS questions (
	id            BIGSERIAL PRIMARY KEY,
	job_id        TEXT NOT NULL REFERENCES jobs(id),
	url           TEXT NOT NULL,
	submit_url    TEXT NOT NULL DEFAULT '',
	extractor     TEXT NOT NULL DEFAULT '',
	answer        JSONB,
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	correct       BOOLEAN,
	next_url      TEXT NOT NULL DEFAULT '',
	status_code   INT NOT NULL DEFAULT 0,
	used_headless BOOLEAN NOT NULL DEFAULT FALSE,
	fetched_at    TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	content_hash  TEXT NOT NULL DEFAULT '',
	blob_uri      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS questions_job_id_idx ON questions (job_id);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job quiz.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	const sql = `INSERT INTO jobs (id, status, submitted, error_text, parameters, counters)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, sql, job.ID, string(job.Status), job.Submitted, job.ErrorText, params, counters); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus updates status, error text, and counters. Started and
// finished timestamps are maintained server-side. Jobs already in a
// terminal status are left untouched, so a cancellation recorded through
// the API survives the worker's final write.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status quiz.JobStatus,
	errText string,
	counters quiz.JobCounters,
) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	const sql = `UPDATE jobs SET
	status = $2,
	error_text = $3,
	counters = $4,
	started = CASE WHEN $2 = 'running' THEN COALESCE(started, now()) ELSE started END,
	finished = CASE WHEN $2 IN ('succeeded', 'failed', 'canceled') THEN now() ELSE finished END
WHERE id = $1 AND status NOT IN ('succeeded', 'failed', 'canceled')`
	tag, err := s.pool.Exec(ctx, sql, jobID, string(status), errText, payload)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the job is missing or it is frozen in a terminal status.
		var one int
		if err := s.pool.QueryRow(ctx, `SELECT 1 FROM jobs WHERE id = $1`, jobID).Scan(&one); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrJobNotFound
			}
			return fmt.Errorf("check job: %w", err)
		}
	}
	return nil
}

// RecordQuestion inserts one question row.
func (s *JobStore) RecordQuestion(ctx context.Context, rec quiz.QuestionRecord) error {
	answer, err := json.Marshal(rec.Answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	const sql = `INSERT INTO questions
(job_id, url, submit_url, extractor, answer, confidence, correct, next_url,
 status_code, used_headless, fetched_at, duration_ms, content_hash, blob_uri)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = s.pool.Exec(ctx, sql,
		rec.JobID, rec.URL, rec.SubmitURL, rec.Extractor, answer, rec.Confidence,
		rec.Correct, rec.NextURL, rec.StatusCode, rec.UsedHeadless, rec.FetchedAt,
		rec.DurationMs, rec.ContentHash, rec.BlobURI,
	)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (quiz.Job, error) {
	const sql = `SELECT id, status, submitted, started, finished, error_text, parameters, counters
FROM jobs WHERE id = $1`
	var (
		job            quiz.Job
		status         string
		params, counts []byte
	)
	row := s.pool.QueryRow(ctx, sql, jobID)
	if err := row.Scan(&job.ID, &status, &job.Submitted, &job.Started, &job.Finished,
		&job.ErrorText, &params, &counts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return quiz.Job{}, ErrJobNotFound
		}
		return quiz.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = quiz.JobStatus(status)
	if err := json.Unmarshal(params, &job.Parameters); err != nil {
		return quiz.Job{}, fmt.Errorf("unmarshal parameters: %w", err)
	}
	if err := json.Unmarshal(counts, &job.Counters); err != nil {
		return quiz.Job{}, fmt.Errorf("unmarshal counters: %w", err)
	}
	return job, nil
}

// ListQuestions returns all recorded questions for a job in insertion order.
func (s *JobStore) ListQuestions(ctx context.Context, jobID string) ([]quiz.QuestionRecord, error) {
	const sql = `SELECT job_id, url, submit_url, extractor, answer, confidence, correct, next_url,
 status_code, used_headless, fetched_at, duration_ms, content_hash, blob_uri
FROM questions WHERE job_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, sql, jobID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var out []quiz.QuestionRecord
	for rows.Next() {
		var (
			rec    quiz.QuestionRecord
			answer []byte
		)
		if err := rows.Scan(&rec.JobID, &rec.URL, &rec.SubmitURL, &rec.Extractor, &answer,
			&rec.Confidence, &rec.Correct, &rec.NextURL, &rec.StatusCode, &rec.UsedHeadless,
			&rec.FetchedAt, &rec.DurationMs, &rec.ContentHash, &rec.BlobURI); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if len(answer) > 0 {
			if err := json.Unmarshal(answer, &rec.Answer); err != nil {
				return nil, fmt.Errorf("unmarshal answer: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

// Close releases the underlying pool.
func (s *JobStore) Close() {
	s.pool.Close()
}
