package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonesrussell/gokb/internal/domain"
)

// runSelectList is the column list for SELECT/RETURNING on job_runs.
const runSelectList = `id, tenant_id, job_id, status, started_at, finished_at,
			result, error, created_at`

// JobRunRepository manages the job_runs table.
type JobRunRepository struct {
	db *sql.DB
}

// NewJobRunRepository creates a new repository.
func NewJobRunRepository(db *sql.DB) *JobRunRepository {
	return &JobRunRepository{db: db}
}

// Create inserts a queued run for a job. Runs are only ever created by the
// dispatcher, one per successful claim.
func (r *JobRunRepository) Create(ctx context.Context, tenantID, jobID string) (*domain.JobRun, error) {
	query := `
		INSERT INTO job_runs (tenant_id, job_id, status)
		VALUES ($1, $2, 'queued')
		RETURNING ` + runSelectList

	run, err := scanJobRun(r.db.QueryRowContext(ctx, query, tenantID, jobID))
	if err != nil {
		return nil, fmt.Errorf("create job run: %w", err)
	}
	return run, nil
}

// ClaimQueued atomically claims up to limit queued runs across all tenants,
// oldest first, marking them running. FOR UPDATE SKIP LOCKED keeps
// concurrent workers from claiming the same run.
func (r *JobRunRepository) ClaimQueued(ctx context.Context, limit int) ([]domain.JobRun, error) {
	query := `
		UPDATE job_runs
		SET status = 'running', started_at = NOW()
		WHERE id IN (
			SELECT id FROM job_runs
			WHERE status = 'queued'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + runSelectList

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim queued runs: %w", err)
	}
	defer rows.Close()

	return scanJobRuns(rows)
}

// UpdateStatus sets a run's status. The running transition sets started_at;
// terminal transitions set finished_at. Result and error are stored when
// provided. Returns domain.ErrNotFound when the run does not exist for the
// tenant.
func (r *JobRunRepository) UpdateStatus(ctx context.Context, tenantID, runID string, status domain.RunStatus, result []byte, errMsg string) error {
	query := `
		UPDATE job_runs
		SET status = $3,
		    started_at = CASE WHEN $3 = 'running' THEN NOW() ELSE started_at END,
		    finished_at = CASE WHEN $3 IN ('succeeded', 'failed') THEN NOW() ELSE finished_at END,
		    result = COALESCE($4, result),
		    error = NULLIF($5, '')
		WHERE tenant_id = $1 AND id = $2`

	if err := r.execExpectOneRow(ctx, query, tenantID, runID, status, nullableJSON(result), errMsg); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update job run status: %w", err)
	}
	return nil
}

// ListForJob returns a job's runs, newest first. Exposes per-attempt history
// separately from the job's logical state.
func (r *JobRunRepository) ListForJob(ctx context.Context, tenantID, jobID string) ([]domain.JobRun, error) {
	query := `SELECT ` + runSelectList + `
		FROM job_runs
		WHERE tenant_id = $1 AND job_id = $2
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	return scanJobRuns(rows)
}

func (r *JobRunRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
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

func scanJobRun(row rowScanner) (*domain.JobRun, error) {
	var run domain.JobRun
	var result []byte

	err := row.Scan(
		&run.ID, &run.TenantID, &run.JobID, &run.Status, &run.StartedAt,
		&run.FinishedAt, &result, &run.Error, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Result = result
	return &run, nil
}

func scanJobRuns(rows *sql.Rows) ([]domain.JobRun, error) {
	var runs []domain.JobRun
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}
