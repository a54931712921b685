package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/jonesrussell/gokb/internal/database"
	"github.com/jonesrussell/gokb/internal/domain"
)

var runColumns = []string{
	"id", "tenant_id", "job_id", "status", "started_at", "finished_at",
	"result", "error", "created_at",
}

func runRow(id, tenant, jobID string, status domain.RunStatus) *sqlmock.Rows {
	return sqlmock.NewRows(runColumns).AddRow(
		id, tenant, jobID, status, nil, nil, nil, nil, time.Now(),
	)
}

func TestJobRunRepository_Create(t *testing.T) {
	db, mock, setupErr := sqlmock.New()
	if setupErr != nil {
		t.Fatalf("failed to create sqlmock: %v", setupErr)
	}
	defer db.Close()

	repo := database.NewJobRunRepository(db)

	mock.ExpectQuery("INSERT INTO job_runs").
		WithArgs("tenant-a", "job-1").
		WillReturnRows(runRow("run-1", "tenant-a", "job-1", domain.RunStatusQueued))

	run, createErr := repo.Create(context.Background(), "tenant-a", "job-1")
	if createErr != nil {
		t.Fatalf("Create() error = %v", createErr)
	}
	if run.Status != domain.RunStatusQueued {
		t.Errorf("Create() status = %q, want queued", run.Status)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestJobRunRepository_ClaimQueued(t *testing.T) {
	testCases := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantRuns  int
		wantErr   bool
	}{
		{
			name: "claims queued runs oldest first",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(runColumns).
					AddRow("run-1", "tenant-a", "job-1", domain.RunStatusRunning, time.Now(), nil, nil, nil, time.Now()).
					AddRow("run-2", "tenant-b", "job-2", domain.RunStatusRunning, time.Now(), nil, nil, nil, time.Now())
				mock.ExpectQuery("UPDATE job_runs").
					WithArgs(5).
					WillReturnRows(rows)
			},
			wantRuns: 2,
		},
		{
			name: "empty queue returns no runs",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("UPDATE job_runs").
					WithArgs(5).
					WillReturnRows(sqlmock.NewRows(runColumns))
			},
		},
		{
			name: "database error surfaces",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("UPDATE job_runs").
					WithArgs(5).
					WillReturnError(sql.ErrConnDone)
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, setupErr := sqlmock.New()
			if setupErr != nil {
				t.Fatalf("failed to create sqlmock: %v", setupErr)
			}
			defer db.Close()

			repo := database.NewJobRunRepository(db)
			tc.setupMock(mock)

			runs, claimErr := repo.ClaimQueued(context.Background(), 5)
			if (claimErr != nil) != tc.wantErr {
				t.Errorf("ClaimQueued() error = %v, wantErr %v", claimErr, tc.wantErr)
			}
			if len(runs) != tc.wantRuns {
				t.Errorf("ClaimQueued() runs = %d, want %d", len(runs), tc.wantRuns)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestJobRunRepository_UpdateStatus(t *testing.T) {
	testCases := []struct {
		name      string
		result    []byte
		errMsg    string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name:   "success stores the result payload",
			result: []byte(`{"success":true}`),
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE job_runs").
					WithArgs("tenant-a", "run-1", domain.RunStatusSucceeded, []byte(`{"success":true}`), "").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:   "failure stores the error message",
			errMsg: "handler blew up",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE job_runs").
					WithArgs("tenant-a", "run-1", domain.RunStatusSucceeded, nil, "handler blew up").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "missing run returns not found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE job_runs").
					WithArgs("tenant-a", "run-1", domain.RunStatusSucceeded, nil, "").
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

			repo := database.NewJobRunRepository(db)
			tc.setupMock(mock)

			callErr := repo.UpdateStatus(context.Background(), "tenant-a", "run-1",
				domain.RunStatusSucceeded, tc.result, tc.errMsg)
			if !errors.Is(callErr, tc.wantErr) {
				t.Errorf("UpdateStatus() error = %v, want %v", callErr, tc.wantErr)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}
