package worker_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/logger"
	"github.com/jonesrussell/gokb/internal/metrics"
	"github.com/jonesrussell/gokb/internal/mirror"
)

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func testRecorder() *mirror.Recorder {
	return mirror.NewRecorder(nil, false, logger.NewNopLogger())
}

// fakeJobStore is an in-memory job store honoring the claim semantics:
// Dequeue claims the highest priority queued job for a tenant and bumps its
// attempt counter.
type fakeJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	nextID int

	dequeueErr    error
	dequeueErrFor map[string]error
	exhaustedFor  map[string]int64
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:          make(map[string]*domain.Job),
		dequeueErrFor: make(map[string]error),
		exhaustedFor:  make(map[string]int64),
	}
}

func (s *fakeJobStore) add(job *domain.Job) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	stored := *job
	stored.ID = fmt.Sprintf("job-%d", s.nextID)
	s.jobs[stored.ID] = &stored
	return &stored
}

func (s *fakeJobStore) Create(_ context.Context, job *domain.Job) (*domain.Job, error) {
	return s.add(job), nil
}

func (s *fakeJobStore) Get(_ context.Context, tenantID, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) Dequeue(_ context.Context, tenantID string, enforceMaxAttempts bool) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dequeueErr != nil {
		return nil, s.dequeueErr
	}
	if err, ok := s.dequeueErrFor[tenantID]; ok {
		return nil, err
	}

	now := time.Now()
	var best *domain.Job
	for _, job := range s.jobs {
		if job.TenantID != tenantID || job.Status != domain.JobStatusQueued {
			continue
		}
		if job.ScheduledAt.After(now) {
			continue
		}
		if enforceMaxAttempts && job.Attempts >= job.MaxAttempts {
			continue
		}
		if best == nil || job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.ScheduledAt.Before(best.ScheduledAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = domain.JobStatusRunning
	best.Attempts++
	best.StartedAt = &now
	copied := *best
	return &copied, nil
}

func (s *fakeJobStore) UpdateStatus(_ context.Context, tenantID, jobID string, status domain.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return domain.ErrNotFound
	}
	// Terminal updates never downgrade a canceled job.
	if status.IsTerminal() && status != domain.JobStatusCanceled &&
		job.Status == domain.JobStatusCanceled {
		return domain.ErrNotFound
	}
	job.Status = status
	if errMsg != "" {
		job.Error = &errMsg
	}
	return nil
}

func (s *fakeJobStore) MarkExhausted(_ context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, job := range s.jobs {
		if job.TenantID == tenantID && job.Status == domain.JobStatusQueued &&
			job.Attempts >= job.MaxAttempts {
			job.Status = domain.JobStatusFailed
			count++
		}
	}
	s.exhaustedFor[tenantID] += count
	return count, nil
}

func (s *fakeJobStore) get(jobID string) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		copied := *job
		return &copied
	}
	return nil
}

// fakeRunStore is an in-memory job-run store.
type fakeRunStore struct {
	mu     sync.Mutex
	runs   map[string]*domain.JobRun
	nextID int

	createErr error
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]*domain.JobRun)}
}

func (s *fakeRunStore) Create(_ context.Context, tenantID, jobID string) (*domain.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return nil, s.createErr
	}
	s.nextID++
	run := &domain.JobRun{
		ID:        fmt.Sprintf("run-%d", s.nextID),
		TenantID:  tenantID,
		JobID:     jobID,
		Status:    domain.RunStatusQueued,
		CreatedAt: time.Now(),
	}
	s.runs[run.ID] = run
	copied := *run
	return &copied, nil
}

func (s *fakeRunStore) ClaimQueued(_ context.Context, limit int) ([]domain.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []domain.JobRun
	for i := 1; i <= s.nextID && len(claimed) < limit; i++ {
		run, ok := s.runs[fmt.Sprintf("run-%d", i)]
		if !ok || run.Status != domain.RunStatusQueued {
			continue
		}
		run.Status = domain.RunStatusRunning
		now := time.Now()
		run.StartedAt = &now
		claimed = append(claimed, *run)
	}
	return claimed, nil
}

func (s *fakeRunStore) UpdateStatus(_ context.Context, tenantID, runID string, status domain.RunStatus, result []byte, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok || run.TenantID != tenantID {
		return domain.ErrNotFound
	}
	run.Status = status
	if result != nil {
		run.Result = result
	}
	if errMsg != "" {
		run.Error = &errMsg
	}
	return nil
}

func (s *fakeRunStore) get(runID string) *domain.JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		copied := *run
		return &copied
	}
	return nil
}

func (s *fakeRunStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// fakeTenantSource returns a fixed tenant list.
type fakeTenantSource struct {
	tenants []string
	err     error
}

func (s *fakeTenantSource) ListTenants(_ context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tenants, nil
}

// fakeStuckFileStore returns a fixed list of stuck files.
type fakeStuckFileStore struct {
	files []domain.File
	err   error
}

func (s *fakeStuckFileStore) ListStuckExtracted(_ context.Context, _ time.Duration) ([]domain.File, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.files, nil
}

// fakeFileStore is an in-memory file store for handler tests.
type fakeFileStore struct {
	mu    sync.Mutex
	files map[string]*domain.File
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: make(map[string]*domain.File)}
}

func (s *fakeFileStore) add(file *domain.File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[file.ID] = file
}

func (s *fakeFileStore) Get(_ context.Context, tenantID, fileID string) (*domain.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[fileID]
	if !ok || file.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	copied := *file
	return &copied, nil
}

func (s *fakeFileStore) UpdateStatus(_ context.Context, tenantID, fileID string, status domain.FileStatus, extractedText *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[fileID]
	if !ok || file.TenantID != tenantID {
		return domain.ErrNotFound
	}
	file.Status = status
	if extractedText != nil {
		file.ExtractedText = extractedText
	}
	return nil
}

func (s *fakeFileStore) get(fileID string) *domain.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	if file, ok := s.files[fileID]; ok {
		copied := *file
		return &copied
	}
	return nil
}

// fakeKbStore collects created knowledge-base entries.
type fakeKbStore struct {
	mu      sync.Mutex
	entries []*domain.KbEntry
	err     error
}

func (s *fakeKbStore) Create(_ context.Context, entry *domain.KbEntry) (*domain.KbEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	stored := *entry
	stored.ID = fmt.Sprintf("kb-%d", len(s.entries)+1)
	s.entries = append(s.entries, &stored)
	copied := stored
	return &copied, nil
}

// fakeExtractor returns canned text.
type fakeExtractor struct {
	text string
}

func (e *fakeExtractor) Extract(_, _ string) string {
	return e.text
}

// fakeAnalyzer returns a canned analysis or error.
type fakeAnalyzer struct {
	analysis *domain.Analysis
	err      error
	gotText  string
}

func (a *fakeAnalyzer) Analyze(_ context.Context, text, _ string) (*domain.Analysis, error) {
	a.gotText = text
	if a.err != nil {
		return nil, a.err
	}
	return a.analysis, nil
}
