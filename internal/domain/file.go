package domain

import (
	"fmt"
	"time"
)

// FileStatus tracks an uploaded file through the pipeline.
type FileStatus string

const (
	FileStatusUploaded  FileStatus = "uploaded"
	FileStatusExtracted FileStatus = "extracted"
	FileStatusAnalyzed  FileStatus = "analyzed"
	FileStatusFailed    FileStatus = "failed"
)

// File is an uploaded artifact. Status and extracted text are mutated by the
// stage handlers; files are never deleted by the pipeline.
type File struct {
	ID            string     `db:"id"             json:"id"`
	TenantID      string     `db:"tenant_id"      json:"tenant_id"`
	Filename      string     `db:"filename"       json:"filename"`
	OriginalName  string     `db:"original_name"  json:"original_name"`
	MimeType      string     `db:"mime_type"      json:"mime_type"`
	Size          int64      `db:"size"           json:"size"`
	UploadPath    string     `db:"upload_path"    json:"upload_path"`
	Status        FileStatus `db:"status"         json:"status"`
	ExtractedText *string    `db:"extracted_text" json:"extracted_text,omitempty"`
	UploadedAt    time.Time  `db:"uploaded_at"    json:"uploaded_at"`
}

// NewFile creates an uploaded file record with validation.
func NewFile(tenantID, filename, originalName, mimeType, uploadPath string, size int64) (*File, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidFile)
	}
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidFile)
	}
	if uploadPath == "" {
		return nil, fmt.Errorf("%w: upload_path is required", ErrInvalidFile)
	}

	return &File{
		TenantID:     tenantID,
		Filename:     filename,
		OriginalName: originalName,
		MimeType:     mimeType,
		Size:         size,
		UploadPath:   uploadPath,
		Status:       FileStatusUploaded,
		UploadedAt:   time.Now().UTC(),
	}, nil
}
