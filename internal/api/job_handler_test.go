package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/gokb/internal/api"
	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/logger"
	"github.com/jonesrussell/gokb/internal/mirror"
)

type mockJobStore struct {
	getFunc          func(tenantID, jobID string) (*domain.Job, error)
	listFunc         func(tenantID string, status domain.JobStatus) ([]domain.Job, error)
	updateStatusFunc func(tenantID, jobID string, status domain.JobStatus, errMsg string) error
	requeueFunc      func(tenantID, jobID string) error
}

func (m *mockJobStore) Get(_ context.Context, tenantID, jobID string) (*domain.Job, error) {
	if m.getFunc != nil {
		return m.getFunc(tenantID, jobID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockJobStore) List(_ context.Context, tenantID string, status domain.JobStatus) ([]domain.Job, error) {
	if m.listFunc != nil {
		return m.listFunc(tenantID, status)
	}
	return nil, nil
}

func (m *mockJobStore) UpdateStatus(_ context.Context, tenantID, jobID string, status domain.JobStatus, errMsg string) error {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(tenantID, jobID, status, errMsg)
	}
	return nil
}

func (m *mockJobStore) Requeue(_ context.Context, tenantID, jobID string) error {
	if m.requeueFunc != nil {
		return m.requeueFunc(tenantID, jobID)
	}
	return nil
}

type mockRunStore struct {
	listForJobFunc func(tenantID, jobID string) ([]domain.JobRun, error)
}

func (m *mockRunStore) ListForJob(_ context.Context, tenantID, jobID string) ([]domain.JobRun, error) {
	if m.listForJobFunc != nil {
		return m.listForJobFunc(tenantID, jobID)
	}
	return nil, nil
}

func nopRecorder() *mirror.Recorder {
	return mirror.NewRecorder(nil, false, logger.NewNopLogger())
}

func setupJobRouter(t *testing.T, handler *api.JobHandler) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)

	router := gin.New()
	v1 := router.Group("/api/v1", api.TenantMiddleware())
	v1.GET("/jobs", handler.List)
	v1.GET("/jobs/:id", handler.Get)
	v1.POST("/jobs/:id/retry", handler.Retry)
	v1.POST("/jobs/:id/cancel", handler.Cancel)

	return router
}

func jobWithStatus(id string, status domain.JobStatus) *domain.Job {
	return &domain.Job{
		ID:          id,
		TenantID:    "tenant-a",
		Kind:        domain.JobKindTextExtract,
		Status:      status,
		Priority:    domain.DefaultPriority,
		MaxAttempts: domain.DefaultMaxAttempts,
	}
}

func TestJobHandler_List(t *testing.T) {
	var gotTenant string
	var gotStatus domain.JobStatus
	jobs := &mockJobStore{
		listFunc: func(tenantID string, status domain.JobStatus) ([]domain.Job, error) {
			gotTenant = tenantID
			gotStatus = status
			return []domain.Job{*jobWithStatus("job-1", domain.JobStatusQueued)}, nil
		},
	}
	handler := api.NewJobHandler(jobs, &mockRunStore{}, nopRecorder(), logger.NewNopLogger())
	router := setupJobRouter(t, handler)

	w := httptest.NewRecorder()
	req, reqErr := http.NewRequestWithContext(t.Context(), http.MethodGet, "/api/v1/jobs?status=queued", http.NoBody)
	if reqErr != nil {
		t.Fatalf("failed to create request: %v", reqErr)
	}
	req.Header.Set("X-Tenant-ID", "tenant-a")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if gotTenant != "tenant-a" {
		t.Errorf("tenant = %q, want tenant-a", gotTenant)
	}
	if gotStatus != domain.JobStatusQueued {
		t.Errorf("status filter = %q, want queued", gotStatus)
	}
}

func TestJobHandler_List_DefaultTenant(t *testing.T) {
	var gotTenant string
	jobs := &mockJobStore{
		listFunc: func(tenantID string, _ domain.JobStatus) ([]domain.Job, error) {
			gotTenant = tenantID
			return nil, nil
		},
	}
	handler := api.NewJobHandler(jobs, &mockRunStore{}, nopRecorder(), logger.NewNopLogger())
	router := setupJobRouter(t, handler)

	w := httptest.NewRecorder()
	req, reqErr := http.NewRequestWithContext(t.Context(), http.MethodGet, "/api/v1/jobs", http.NoBody)
	if reqErr != nil {
		t.Fatalf("failed to create request: %v", reqErr)
	}
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotTenant != api.DefaultTenant {
		t.Errorf("tenant = %q, want %q", gotTenant, api.DefaultTenant)
	}
	if w.Body.String() != "[]" {
		t.Errorf("body = %q, want empty array", w.Body.String())
	}
}

func TestJobHandler_Get(t *testing.T) {
	jobs := &mockJobStore{
		getFunc: func(_, jobID string) (*domain.Job, error) {
			if jobID != "job-1" {
				return nil, domain.ErrNotFound
			}
			return jobWithStatus("job-1", domain.JobStatusSucceeded), nil
		},
	}
	runs := &mockRunStore{
		listForJobFunc: func(_, _ string) ([]domain.JobRun, error) {
			return []domain.JobRun{{ID: "run-1", JobID: "job-1", Status: domain.RunStatusSucceeded}}, nil
		},
	}
	handler := api.NewJobHandler(jobs, runs, nopRecorder(), logger.NewNopLogger())
	router := setupJobRouter(t, handler)

	w := httptest.NewRecorder()
	req, reqErr := http.NewRequestWithContext(t.Context(), http.MethodGet, "/api/v1/jobs/job-1", http.NoBody)
	if reqErr != nil {
		t.Fatalf("failed to create request: %v", reqErr)
	}
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Job  domain.Job      `json:"job"`
		Runs []domain.JobRun `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Job.ID != "job-1" {
		t.Errorf("job.id = %q, want job-1", resp.Job.ID)
	}
	if len(resp.Runs) != 1 {
		t.Errorf("runs = %d, want 1", len(resp.Runs))
	}
}

func TestJobHandler_Get_NotFound(t *testing.T) {
	handler := api.NewJobHandler(&mockJobStore{}, &mockRunStore{}, nopRecorder(), logger.NewNopLogger())
	router := setupJobRouter(t, handler)

	w := httptest.NewRecorder()
	req, reqErr := http.NewRequestWithContext(t.Context(), http.MethodGet, "/api/v1/jobs/missing", http.NoBody)
	if reqErr != nil {
		t.Fatalf("failed to create request: %v", reqErr)
	}
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestJobHandler_Retry(t *testing.T) {
	tests := []struct {
		name       string
		status     domain.JobStatus
		requeueErr error
		wantCode   int
	}{
		{name: "failed job requeued", status: domain.JobStatusFailed, wantCode: http.StatusOK},
		{name: "canceled job requeued", status: domain.JobStatusCanceled, wantCode: http.StatusOK},
		{name: "running job rejected", status: domain.JobStatusRunning, wantCode: http.StatusConflict},
		{name: "succeeded job rejected", status: domain.JobStatusSucceeded, wantCode: http.StatusConflict},
		{
			name:       "lost race with concurrent retry",
			status:     domain.JobStatusFailed,
			requeueErr: domain.ErrNotFound,
			wantCode:   http.StatusConflict,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			requeued := false
			jobs := &mockJobStore{
				getFunc: func(_, jobID string) (*domain.Job, error) {
					status := tc.status
					if requeued {
						status = domain.JobStatusQueued
					}
					return jobWithStatus(jobID, status), nil
				},
				requeueFunc: func(_, _ string) error {
					if tc.requeueErr != nil {
						return tc.requeueErr
					}
					requeued = true
					return nil
				},
			}
			handler := api.NewJobHandler(jobs, &mockRunStore{}, nopRecorder(), logger.NewNopLogger())
			router := setupJobRouter(t, handler)

			w := httptest.NewRecorder()
			req, reqErr := http.NewRequestWithContext(t.Context(), http.MethodPost, "/api/v1/jobs/job-1/retry", http.NoBody)
			if reqErr != nil {
				t.Fatalf("failed to create request: %v", reqErr)
			}
			router.ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Errorf("status = %d, want %d, body: %s", w.Code, tc.wantCode, w.Body.String())
			}
			if tc.wantCode == http.StatusConflict {
				if requeued {
					t.Error("job was requeued despite conflict")
				}
				if !strings.Contains(w.Body.String(), domain.ErrInvalidTransition.Error()) {
					t.Errorf("body = %s, want an invalid transition error", w.Body.String())
				}
			}
		})
	}
}

func TestJobHandler_Retry_NotFound(t *testing.T) {
	handler := api.NewJobHandler(&mockJobStore{}, &mockRunStore{}, nopRecorder(), logger.NewNopLogger())
	router := setupJobRouter(t, handler)

	w := httptest.NewRecorder()
	req, reqErr := http.NewRequestWithContext(t.Context(), http.MethodPost, "/api/v1/jobs/missing/retry", http.NoBody)
	if reqErr != nil {
		t.Fatalf("failed to create request: %v", reqErr)
	}
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestJobHandler_Cancel(t *testing.T) {
	tests := []struct {
		name     string
		status   domain.JobStatus
		wantCode int
	}{
		{name: "queued job canceled", status: domain.JobStatusQueued, wantCode: http.StatusOK},
		{name: "running job canceled", status: domain.JobStatusRunning, wantCode: http.StatusOK},
		{name: "succeeded job rejected", status: domain.JobStatusSucceeded, wantCode: http.StatusConflict},
		{name: "failed job rejected", status: domain.JobStatusFailed, wantCode: http.StatusConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotStatus domain.JobStatus
			var gotErrMsg string
			canceled := false
			jobs := &mockJobStore{
				getFunc: func(_, jobID string) (*domain.Job, error) {
					status := tc.status
					if canceled {
						status = domain.JobStatusCanceled
					}
					return jobWithStatus(jobID, status), nil
				},
				updateStatusFunc: func(_, _ string, status domain.JobStatus, errMsg string) error {
					gotStatus = status
					gotErrMsg = errMsg
					canceled = true
					return nil
				},
			}
			handler := api.NewJobHandler(jobs, &mockRunStore{}, nopRecorder(), logger.NewNopLogger())
			router := setupJobRouter(t, handler)

			w := httptest.NewRecorder()
			req, reqErr := http.NewRequestWithContext(t.Context(), http.MethodPost, "/api/v1/jobs/job-1/cancel", http.NoBody)
			if reqErr != nil {
				t.Fatalf("failed to create request: %v", reqErr)
			}
			router.ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Errorf("status = %d, want %d, body: %s", w.Code, tc.wantCode, w.Body.String())
			}
			if tc.wantCode == http.StatusOK {
				if gotStatus != domain.JobStatusCanceled {
					t.Errorf("update status = %q, want canceled", gotStatus)
				}
				if gotErrMsg != "canceled by user" {
					t.Errorf("error message = %q, want %q", gotErrMsg, "canceled by user")
				}
			} else {
				if canceled {
					t.Error("job was canceled despite conflict")
				}
				if !strings.Contains(w.Body.String(), domain.ErrInvalidTransition.Error()) {
					t.Errorf("body = %s, want an invalid transition error", w.Body.String())
				}
			}
		})
	}
}

func TestJobHandler_List_StoreError(t *testing.T) {
	jobs := &mockJobStore{
		listFunc: func(_ string, _ domain.JobStatus) ([]domain.Job, error) {
			return nil, errors.New("connection refused")
		},
	}
	handler := api.NewJobHandler(jobs, &mockRunStore{}, nopRecorder(), logger.NewNopLogger())
	router := setupJobRouter(t, handler)

	w := httptest.NewRecorder()
	req, reqErr := http.NewRequestWithContext(t.Context(), http.MethodGet, "/api/v1/jobs", http.NoBody)
	if reqErr != nil {
		t.Fatalf("failed to create request: %v", reqErr)
	}
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
