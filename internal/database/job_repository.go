package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonesrussell/gokb/internal/domain"
)

// jobSelectList is the column list for SELECT/RETURNING on jobs (single
// source for schema changes).
const jobSelectList = `id, tenant_id, kind, status, priority, scheduled_at,
			started_at, finished_at, attempts, max_attempts, metadata, error`

// JobRepository manages the jobs table.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new repository.
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a queued job and returns the stored row.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	query := `
		INSERT INTO jobs (tenant_id, kind, status, priority, scheduled_at, attempts, max_attempts, metadata)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
		RETURNING ` + jobSelectList

	row := r.db.QueryRowContext(ctx, query,
		job.TenantID, job.Kind, job.Status, job.Priority,
		job.ScheduledAt, job.MaxAttempts, nullableJSON(job.Metadata),
	)

	created, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return created, nil
}

// Get returns a tenant-scoped job, or domain.ErrNotFound when absent or
// owned by another tenant.
func (r *JobRepository) Get(ctx context.Context, tenantID, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobSelectList + `
		FROM jobs
		WHERE tenant_id = $1 AND id = $2`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, tenantID, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns the tenant's jobs, newest scheduled_at first. An empty status
// returns every job.
func (r *JobRepository) List(ctx context.Context, tenantID string, status domain.JobStatus) ([]domain.Job, error) {
	query := `SELECT ` + jobSelectList + `
		FROM jobs
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY scheduled_at DESC`

	rows, err := r.db.QueryContext(ctx, query, tenantID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// Dequeue atomically claims the tenant's next eligible queued job: highest
// priority first, earliest scheduled_at on ties. The claim marks the job
// running and increments attempts in a single statement; FOR UPDATE SKIP
// LOCKED keeps concurrent dispatchers from claiming the same row. Returns
// (nil, nil) when no job is eligible.
//
// When enforceMaxAttempts is true, jobs whose attempts have reached
// max_attempts are never claimed (see MarkExhausted for the companion sweep).
func (r *JobRepository) Dequeue(ctx context.Context, tenantID string, enforceMaxAttempts bool) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'running', started_at = NOW(), attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE tenant_id = $1
			  AND status = 'queued'
			  AND scheduled_at <= NOW()
			  AND (NOT $2 OR attempts < max_attempts)
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobSelectList

	job, err := scanJob(r.db.QueryRowContext(ctx, query, tenantID, enforceMaxAttempts))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	return job, nil
}

// UpdateStatus sets a job's status. Terminal statuses set finished_at and are
// guarded so a canceled job is never downgraded to succeeded or failed (the
// worker has no live cancellation signal and may try to resolve a job that
// was canceled mid-run). Returns domain.ErrNotFound when no row changed.
func (r *JobRepository) UpdateStatus(ctx context.Context, tenantID, jobID string, status domain.JobStatus, errMsg string) error {
	var query string
	if status.IsTerminal() {
		query = `
			UPDATE jobs
			SET status = $3, finished_at = NOW(), error = NULLIF($4, '')
			WHERE tenant_id = $1 AND id = $2 AND status <> 'canceled'`
		if status == domain.JobStatusCanceled {
			query = `
			UPDATE jobs
			SET status = $3, finished_at = NOW(), error = NULLIF($4, '')
			WHERE tenant_id = $1 AND id = $2`
		}
	} else {
		query = `
			UPDATE jobs
			SET status = $3, error = NULLIF($4, ''), finished_at = NULL
			WHERE tenant_id = $1 AND id = $2`
	}

	if err := r.execExpectOneRow(ctx, query, tenantID, jobID, status, errMsg); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// Requeue re-enqueues a failed or canceled job for a fresh round of
// attempts. The attempt counter is reset so a retried job is not
// immediately re-exhausted. Returns domain.ErrNotFound when the job does
// not exist or is not in a retryable state.
func (r *JobRepository) Requeue(ctx context.Context, tenantID, jobID string) error {
	query := `
		UPDATE jobs
		SET status = 'queued', scheduled_at = NOW(), attempts = 0,
		    started_at = NULL, finished_at = NULL, error = NULL
		WHERE tenant_id = $1 AND id = $2 AND status IN ('failed', 'canceled')`

	if err := r.execExpectOneRow(ctx, query, tenantID, jobID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// MarkExhausted fails queued jobs whose attempts have reached max_attempts.
// Only meaningful when max-attempt enforcement is on; returns the number of
// jobs moved to failed.
func (r *JobRepository) MarkExhausted(ctx context.Context, tenantID string) (int64, error) {
	query := `
		UPDATE jobs
		SET status = 'failed', finished_at = NOW(), error = 'max attempts exhausted'
		WHERE tenant_id = $1 AND status = 'queued' AND attempts >= max_attempts`

	result, err := r.db.ExecContext(ctx, query, tenantID)
	if err != nil {
		return 0, fmt.Errorf("mark exhausted: %w", err)
	}
	return result.RowsAffected()
}

// CountByStatus returns the tenant's job counts grouped by status.
func (r *JobRepository) CountByStatus(ctx context.Context, tenantID string) (map[domain.JobStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM jobs WHERE tenant_id = $1 GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int64)
	for rows.Next() {
		var status domain.JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// execExpectOneRow runs an exec and returns domain.ErrNotFound when no row
// was affected.
func (r *JobRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("get affected rows: %w", rowsErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var metadata []byte

	err := row.Scan(
		&j.ID, &j.TenantID, &j.Kind, &j.Status, &j.Priority, &j.ScheduledAt,
		&j.StartedAt, &j.FinishedAt, &j.Attempts, &j.MaxAttempts, &metadata, &j.Error,
	)
	if err != nil {
		return nil, err
	}
	j.Metadata = metadata
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// nullableJSON converts an empty payload to NULL for jsonb columns.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
