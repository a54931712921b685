package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/jonesrussell/gokb/internal/database"
	"github.com/jonesrussell/gokb/internal/domain"
)

var fileColumns = []string{
	"id", "tenant_id", "filename", "original_name", "mime_type",
	"size", "upload_path", "status", "extracted_text", "uploaded_at",
}

func fileRow(id, tenant string, status domain.FileStatus) *sqlmock.Rows {
	return sqlmock.NewRows(fileColumns).AddRow(
		id, tenant, "stored.txt", "notes.txt", "text/plain",
		42, "uploads/stored.txt", status, nil, time.Now(),
	)
}

func TestFileRepository_Create(t *testing.T) {
	db, mock, setupErr := sqlmock.New()
	if setupErr != nil {
		t.Fatalf("failed to create sqlmock: %v", setupErr)
	}
	defer db.Close()

	repo := database.NewFileRepository(db)

	mock.ExpectQuery("INSERT INTO files").
		WithArgs("tenant-a", "stored.txt", "notes.txt", "text/plain",
			int64(42), "uploads/stored.txt", domain.FileStatusUploaded).
		WillReturnRows(fileRow("file-1", "tenant-a", domain.FileStatusUploaded))

	file, newErr := domain.NewFile("tenant-a", "stored.txt", "notes.txt",
		"text/plain", "uploads/stored.txt", 42)
	if newErr != nil {
		t.Fatalf("NewFile() error = %v", newErr)
	}

	created, createErr := repo.Create(context.Background(), file)
	if createErr != nil {
		t.Fatalf("Create() error = %v", createErr)
	}
	if created.ID != "file-1" {
		t.Errorf("Create() id = %q, want %q", created.ID, "file-1")
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestFileRepository_UpdateStatus(t *testing.T) {
	testCases := []struct {
		name      string
		text      *string
		setupMock func(mock sqlmock.Sqlmock, text *string)
		wantErr   error
	}{
		{
			name: "stores extracted text with the status",
			text: stringPtr("extracted body"),
			setupMock: func(mock sqlmock.Sqlmock, text *string) {
				mock.ExpectExec("UPDATE files").
					WithArgs("tenant-a", "file-1", domain.FileStatusExtracted, text).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "status only update leaves text alone",
			setupMock: func(mock sqlmock.Sqlmock, text *string) {
				mock.ExpectExec("UPDATE files").
					WithArgs("tenant-a", "file-1", domain.FileStatusExtracted, nil).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "missing file returns not found",
			setupMock: func(mock sqlmock.Sqlmock, text *string) {
				mock.ExpectExec("UPDATE files").
					WithArgs("tenant-a", "file-1", domain.FileStatusExtracted, nil).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, setupErr := sqlmock.New()
			if setupErr != nil {
				t.Fatalf("failed to create sqlmock: %v", setupErr)
			}
			defer db.Close()

			repo := database.NewFileRepository(db)
			tc.setupMock(mock, tc.text)

			callErr := repo.UpdateStatus(context.Background(), "tenant-a", "file-1",
				domain.FileStatusExtracted, tc.text)
			if !errors.Is(callErr, tc.wantErr) {
				t.Errorf("UpdateStatus() error = %v, want %v", callErr, tc.wantErr)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

// stuckPattern pins the sweep predicate: any ai_analyze job for the file
// disqualifies it, whatever its status. Failed analyses go through the
// manual retry endpoint rather than being re-enqueued forever.
const stuckPattern = `(?s)FROM files f.*status = 'extracted'.*NOT EXISTS.*kind = 'ai_analyze'\s*AND j\.metadata->>'fileId' = f\.id::text`

func TestFileRepository_ListStuckExtracted(t *testing.T) {
	db, mock, setupErr := sqlmock.New()
	if setupErr != nil {
		t.Fatalf("failed to create sqlmock: %v", setupErr)
	}
	defer db.Close()

	repo := database.NewFileRepository(db)

	mock.ExpectQuery(stuckPattern).
		WithArgs("15m0s").
		WillReturnRows(fileRow("file-1", "tenant-a", domain.FileStatusExtracted))

	files, listErr := repo.ListStuckExtracted(context.Background(), 15*time.Minute)
	if listErr != nil {
		t.Fatalf("ListStuckExtracted() error = %v", listErr)
	}
	if len(files) != 1 || files[0].Status != domain.FileStatusExtracted {
		t.Errorf("ListStuckExtracted() = %+v", files)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func stringPtr(s string) *string {
	return &s
}
