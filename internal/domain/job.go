package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobKind identifies the pipeline stage a job executes.
type JobKind string

const (
	// JobKindTextExtract reads an uploaded file and extracts its text.
	JobKindTextExtract JobKind = "text_extract"
	// JobKindAIAnalyze sends extracted text to the AI provider and writes a
	// knowledge-base entry.
	JobKindAIAnalyze JobKind = "ai_analyze"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether the status is a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// DefaultMaxAttempts is the default claim ceiling for a job.
const DefaultMaxAttempts = 3

// DefaultPriority is the priority assigned to pipeline jobs created by the
// upload path and by stage chaining. Higher priorities are served first.
const DefaultPriority = 100

// Job is a logical unit of requested work, owned by a single tenant.
// Retries produce new JobRuns, never new Jobs.
type Job struct {
	ID          string          `db:"id"            json:"id"`
	TenantID    string          `db:"tenant_id"     json:"tenant_id"`
	Kind        JobKind         `db:"kind"          json:"kind"`
	Status      JobStatus       `db:"status"        json:"status"`
	Priority    int             `db:"priority"      json:"priority"`
	ScheduledAt time.Time       `db:"scheduled_at"  json:"scheduled_at"`
	StartedAt   *time.Time      `db:"started_at"    json:"started_at,omitempty"`
	FinishedAt  *time.Time      `db:"finished_at"   json:"finished_at,omitempty"`
	Attempts    int             `db:"attempts"      json:"attempts"`
	MaxAttempts int             `db:"max_attempts"  json:"max_attempts"`
	Metadata    json.RawMessage `db:"metadata"      json:"metadata,omitempty"`
	Error       *string         `db:"error"         json:"error,omitempty"`
}

// CanRetry reports whether an external retry request may re-enqueue the job.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed || j.Status == JobStatusCanceled
}

// CanCancel reports whether an external cancel request may cancel the job.
// A job mid-run is cancelable; the worker guards against downgrading it
// afterwards.
func (j *Job) CanCancel() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// NewJob creates a queued job with validation. scheduledAt defaults to now
// when zero.
func NewJob(tenantID string, kind JobKind, priority int, metadata json.RawMessage) (*Job, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidJob)
	}
	if kind == "" {
		return nil, fmt.Errorf("%w: kind is required", ErrInvalidJob)
	}

	return &Job{
		TenantID:    tenantID,
		Kind:        kind,
		Status:      JobStatusQueued,
		Priority:    priority,
		ScheduledAt: time.Now().UTC(),
		MaxAttempts: DefaultMaxAttempts,
		Metadata:    metadata,
	}, nil
}

// FileMetadata is the typed metadata payload for the two built-in job kinds.
// Parsing happens at the handler boundary so a missing fileId surfaces as a
// precondition error rather than a crash.
type FileMetadata struct {
	FileID string `json:"fileId"`
}

// FileMetadataJSON encodes a file reference as a job metadata payload.
func FileMetadataJSON(fileID string) json.RawMessage {
	raw, _ := json.Marshal(FileMetadata{FileID: fileID})
	return raw
}

// ParseFileMetadata decodes and validates a job's metadata payload.
func ParseFileMetadata(raw json.RawMessage) (*FileMetadata, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: metadata is missing", ErrInvalidMetadata)
	}
	var meta FileMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if meta.FileID == "" {
		return nil, fmt.Errorf("%w: fileId is required", ErrInvalidMetadata)
	}
	return &meta, nil
}

// RunStatus represents the lifecycle state of a single execution attempt.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// JobRun records one execution attempt of a Job. A job accumulates one run
// per dispatch cycle that claims it.
type JobRun struct {
	ID         string          `db:"id"          json:"id"`
	TenantID   string          `db:"tenant_id"   json:"tenant_id"`
	JobID      string          `db:"job_id"      json:"job_id"`
	Status     RunStatus       `db:"status"      json:"status"`
	StartedAt  *time.Time      `db:"started_at"  json:"started_at,omitempty"`
	FinishedAt *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	Result     json.RawMessage `db:"result"      json:"result,omitempty"`
	Error      *string         `db:"error"       json:"error,omitempty"`
	CreatedAt  time.Time       `db:"created_at"  json:"created_at"`
}

// TextExtractResult is the success payload of a text_extract run.
type TextExtractResult struct {
	Success   bool   `json:"success"`
	NextJobID string `json:"nextJobId"`
}

// AnalyzeResult is the success payload of an ai_analyze run.
type AnalyzeResult struct {
	Success   bool   `json:"success"`
	KbEntryID string `json:"kbEntryId"`
}
