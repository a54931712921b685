package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/gokb/internal/domain"
)

// fileSelectList is the column list for SELECT/RETURNING on files.
const fileSelectList = `id, tenant_id, filename, original_name, mime_type,
			size, upload_path, status, extracted_text, uploaded_at`

// FileRepository manages the files table.
type FileRepository struct {
	db *sql.DB
}

// NewFileRepository creates a new repository.
func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create inserts an uploaded file record and returns the stored row.
func (r *FileRepository) Create(ctx context.Context, file *domain.File) (*domain.File, error) {
	query := `
		INSERT INTO files (tenant_id, filename, original_name, mime_type, size, upload_path, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + fileSelectList

	created, err := scanFile(r.db.QueryRowContext(ctx, query,
		file.TenantID, file.Filename, file.OriginalName, file.MimeType,
		file.Size, file.UploadPath, file.Status,
	))
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return created, nil
}

// Get returns a tenant-scoped file, or domain.ErrNotFound.
func (r *FileRepository) Get(ctx context.Context, tenantID, fileID string) (*domain.File, error) {
	query := `SELECT ` + fileSelectList + `
		FROM files
		WHERE tenant_id = $1 AND id = $2`

	file, err := scanFile(r.db.QueryRowContext(ctx, query, tenantID, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return file, nil
}

// List returns the tenant's files, newest upload first.
func (r *FileRepository) List(ctx context.Context, tenantID string) ([]domain.File, error) {
	query := `SELECT ` + fileSelectList + `
		FROM files
		WHERE tenant_id = $1
		ORDER BY uploaded_at DESC`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	return scanFiles(rows)
}

// UpdateStatus sets a file's status. When extractedText is non-nil the
// extracted text column is updated as well (text_extract writes both in one
// statement). Returns domain.ErrNotFound when the file does not exist for
// the tenant.
func (r *FileRepository) UpdateStatus(ctx context.Context, tenantID, fileID string, status domain.FileStatus, extractedText *string) error {
	query := `
		UPDATE files
		SET status = $3, extracted_text = COALESCE($4, extracted_text)
		WHERE tenant_id = $1 AND id = $2`

	result, err := r.db.ExecContext(ctx, query, tenantID, fileID, status, extractedText)
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
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

// ListStuckExtracted returns files that finished extraction longer than
// olderThan ago but never got an ai_analyze job, across all tenants. Only
// the crash window between the file update and the chained job insert is
// covered: a file whose analysis job exists in any state, failed included,
// is not stuck and goes through the manual retry endpoint instead.
func (r *FileRepository) ListStuckExtracted(ctx context.Context, olderThan time.Duration) ([]domain.File, error) {
	query := `SELECT ` + fileSelectList + `
		FROM files f
		WHERE f.status = 'extracted'
		  AND f.uploaded_at < NOW() - $1::interval
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.tenant_id = f.tenant_id
			  AND j.kind = 'ai_analyze'
			  AND j.metadata->>'fileId' = f.id::text
		  )`

	rows, err := r.db.QueryContext(ctx, query, olderThan.String())
	if err != nil {
		return nil, fmt.Errorf("list stuck extracted: %w", err)
	}
	defer rows.Close()

	return scanFiles(rows)
}

// Count returns the tenant's file count.
func (r *FileRepository) Count(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return count, nil
}

func scanFile(row rowScanner) (*domain.File, error) {
	var f domain.File
	err := row.Scan(
		&f.ID, &f.TenantID, &f.Filename, &f.OriginalName, &f.MimeType,
		&f.Size, &f.UploadPath, &f.Status, &f.ExtractedText, &f.UploadedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanFiles(rows *sql.Rows) ([]domain.File, error) {
	var files []domain.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *file)
	}
	return files, rows.Err()
}
