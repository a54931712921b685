package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/gokb/internal/domain"
)

// mirrorSelectList is the column list for SELECT/RETURNING on mirror_outbox.
const mirrorSelectList = `id, entity, entity_id, tenant_id, payload, status,
			retry_count, max_retries, error_message, next_retry_at,
			created_at, updated_at, published_at`

// MirrorRepository manages the mirror_outbox table.
type MirrorRepository struct {
	db *sql.DB
}

// NewMirrorRepository creates a new repository.
func NewMirrorRepository(db *sql.DB) *MirrorRepository {
	return &MirrorRepository{db: db}
}

// Append inserts a pending mirror entry.
func (r *MirrorRepository) Append(ctx context.Context, entry *domain.MirrorEntry) error {
	query := `
		INSERT INTO mirror_outbox (entity, entity_id, tenant_id, payload, status, max_retries)
		VALUES ($1, $2, $3, $4, 'pending', $5)`

	_, err := r.db.ExecContext(ctx, query,
		entry.Entity, entry.EntityID, entry.TenantID, []byte(entry.Payload), entry.MaxRetries)
	if err != nil {
		return fmt.Errorf("append mirror entry: %w", err)
	}
	return nil
}

// FetchPending claims pending entries ready for publishing. FOR UPDATE SKIP
// LOCKED makes the claim safe under concurrent publishers.
func (r *MirrorRepository) FetchPending(ctx context.Context, limit int) ([]domain.MirrorEntry, error) {
	query := `
		UPDATE mirror_outbox
		SET status = 'publishing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM mirror_outbox
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + mirrorSelectList

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	defer rows.Close()

	return scanMirrorEntries(rows)
}

// FetchRetryable claims failed entries whose backoff has elapsed.
func (r *MirrorRepository) FetchRetryable(ctx context.Context, limit int) ([]domain.MirrorEntry, error) {
	query := `
		UPDATE mirror_outbox
		SET status = 'publishing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM mirror_outbox
			WHERE status = 'failed'
			  AND retry_count < max_retries
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY next_retry_at ASC NULLS FIRST
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + mirrorSelectList

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch retryable: %w", err)
	}
	defer rows.Close()

	return scanMirrorEntries(rows)
}

// MarkPublished marks an entry as successfully delivered.
func (r *MirrorRepository) MarkPublished(ctx context.Context, id string) error {
	query := `
		UPDATE mirror_outbox
		SET status = 'published',
		    published_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`
	if err := r.execExpectOneRow(ctx, query, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// MarkFailed marks an entry as failed and schedules the next retry with
// exponential backoff (1min, 2min, 4min, ...).
func (r *MirrorRepository) MarkFailed(ctx context.Context, id, errorMsg string) error {
	query := `
		UPDATE mirror_outbox
		SET status = 'failed',
		    error_message = $2,
		    retry_count = retry_count + 1,
		    next_retry_at = NOW() + (INTERVAL '1 minute' * POWER(2, retry_count)),
		    updated_at = NOW()
		WHERE id = $1`
	if err := r.execExpectOneRow(ctx, query, id, errorMsg); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ResetToPending resets stale "publishing" entries back to "pending",
// recovering claims from a publisher that crashed mid-delivery.
func (r *MirrorRepository) ResetToPending(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE mirror_outbox
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'publishing'
		  AND updated_at < NOW() - $1::interval`

	result, err := r.db.ExecContext(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("reset to pending: %w", err)
	}
	return result.RowsAffected()
}

// CleanupPublished removes delivered entries older than the retention window.
func (r *MirrorRepository) CleanupPublished(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM mirror_outbox
		WHERE status = 'published'
		  AND published_at < NOW() - $1::interval`

	result, err := r.db.ExecContext(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup published: %w", err)
	}
	return result.RowsAffected()
}

// GetStats returns outbox statistics for monitoring.
func (r *MirrorRepository) GetStats(ctx context.Context) (*domain.MirrorStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status = 'publishing') as publishing,
			COUNT(*) FILTER (WHERE status = 'published') as published,
			COUNT(*) FILTER (WHERE status = 'failed' AND retry_count < max_retries) as failed_retryable,
			COUNT(*) FILTER (WHERE status = 'failed' AND retry_count >= max_retries) as failed_exhausted
		FROM mirror_outbox`

	var stats domain.MirrorStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Pending,
		&stats.Publishing,
		&stats.Published,
		&stats.FailedRetryable,
		&stats.FailedExhausted,
	)
	if err != nil {
		return nil, fmt.Errorf("get mirror stats: %w", err)
	}
	return &stats, nil
}

func (r *MirrorRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
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

func scanMirrorEntries(rows *sql.Rows) ([]domain.MirrorEntry, error) {
	var entries []domain.MirrorEntry
	for rows.Next() {
		var e domain.MirrorEntry
		var payload []byte

		err := rows.Scan(
			&e.ID, &e.Entity, &e.EntityID, &e.TenantID, &payload, &e.Status,
			&e.RetryCount, &e.MaxRetries, &e.ErrorMessage, &e.NextRetryAt,
			&e.CreatedAt, &e.UpdatedAt, &e.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan mirror entry: %w", err)
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
