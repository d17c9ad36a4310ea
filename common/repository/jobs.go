package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opsrelay/opsrelay/common/db"
	"github.com/opsrelay/opsrelay/common/models"
)

const jobColumns = `
	id, rule_kind, subject, action, status, attempts, max_attempts, last_error,
	payload, trace_id, run_after, created_at, started_at, completed_at
`

// JobRepository handles database operations for workflow jobs.
// All reads filter soft-deleted rows.
type JobRepository struct {
	db *db.DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *db.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue inserts a new queued job
func (r *JobRepository) Enqueue(ctx context.Context, job *models.WorkflowJob) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}

	query := `
		INSERT INTO workflow_jobs (rule_kind, subject, action, status, max_attempts, payload, trace_id)
		VALUES ($1, $2, $3, 'queued', $4, $5, $6)
		RETURNING id, created_at, run_after
	`

	err = r.db.QueryRow(ctx, query,
		job.RuleKind,
		job.Subject,
		job.Action,
		job.MaxAttempts,
		payloadJSON,
		job.TraceID,
	).Scan(&job.ID, &job.CreatedAt, &job.RunAfter)

	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	job.Status = models.JobQueued
	return nil
}

// Claim atomically moves the oldest due queued job to running and stamps
// started_at. SKIP LOCKED keeps concurrent runners from blocking on each
// other; exactly one runner owns a claimed job. Returns nil when the queue
// is empty.
func (r *JobRepository) Claim(ctx context.Context) (*models.WorkflowJob, error) {
	query := `
		UPDATE workflow_jobs
		SET status = 'running', started_at = now(), attempts = attempts + 1
		WHERE id = (
			SELECT id FROM workflow_jobs
			WHERE status = 'queued' AND run_after <= now() AND deleted_at IS NULL
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := r.scanOne(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// MarkCompleted finishes a running job
func (r *JobRepository) MarkCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE workflow_jobs
		SET status = 'completed', completed_at = now()
		WHERE id = $1 AND status = 'running'
	`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job %d not running", id)
	}
	return nil
}

// RequeueForRetry sends a failed attempt back to queued with a backoff delay
func (r *JobRepository) RequeueForRetry(ctx context.Context, id int64, lastError string, delay time.Duration) error {
	query := `
		UPDATE workflow_jobs
		SET status = 'queued', last_error = $2, run_after = now() + $3
		WHERE id = $1 AND status = 'running' AND attempts < max_attempts
	`

	result, err := r.db.Exec(ctx, query, id, lastError, delay)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job %d not retriable", id)
	}
	return nil
}

// MarkFailed terminally fails a running job
func (r *JobRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	query := `
		UPDATE workflow_jobs
		SET status = 'failed', last_error = $2, completed_at = now()
		WHERE id = $1 AND status = 'running'
	`

	result, err := r.db.Exec(ctx, query, id, lastError)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job %d not running", id)
	}
	return nil
}

// GetByID retrieves a job by id
func (r *JobRepository) GetByID(ctx context.Context, id int64) (*models.WorkflowJob, error) {
	query := `SELECT ` + jobColumns + ` FROM workflow_jobs WHERE id = $1 AND deleted_at IS NULL`

	job, err := r.scanOne(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List retrieves jobs, newest first, optionally filtered by status
func (r *JobRepository) List(ctx context.Context, status string, limit int) ([]*models.WorkflowJob, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + jobColumns + `
		FROM workflow_jobs
		WHERE deleted_at IS NULL AND ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.WorkflowJob
	for rows.Next() {
		job, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// SoftDeleteQueued cancels an unclaimed job. Running jobs are never cancelled;
// they run to completion or fail.
func (r *JobRepository) SoftDeleteQueued(ctx context.Context, id int64) error {
	query := `
		UPDATE workflow_jobs
		SET deleted_at = now()
		WHERE id = $1 AND status = 'queued' AND deleted_at IS NULL
	`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// WithSubjectLock runs fn while holding a transaction-scoped advisory lock on
// the subject hash. Used when strict per-subject ordering is enabled.
func (r *JobRepository) WithSubjectLock(ctx context.Context, subject string, fn func(ctx context.Context) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin subject lock tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, subject); err != nil {
		return fmt.Errorf("failed to take subject lock: %w", err)
	}

	if err := fn(ctx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit subject lock tx: %w", err)
	}
	return nil
}

func (r *JobRepository) scanOne(row rowScanner) (*models.WorkflowJob, error) {
	job := &models.WorkflowJob{}
	var payloadJSON []byte

	err := row.Scan(
		&job.ID,
		&job.RuleKind,
		&job.Subject,
		&job.Action,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.LastError,
		&payloadJSON,
		&job.TraceID,
		&job.RunAfter,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	return job, nil
}
