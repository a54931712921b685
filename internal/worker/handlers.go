// Package worker contains the dispatch and processing loops that drive the
// ingestion pipeline, plus the stage handlers they execute.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonesrussell/gokb/internal/analyze"
	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/logger"
	"github.com/jonesrussell/gokb/internal/mirror"
)

// JobStore is the job repository surface the pipeline needs.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) (*domain.Job, error)
	Get(ctx context.Context, tenantID, jobID string) (*domain.Job, error)
	Dequeue(ctx context.Context, tenantID string, enforceMaxAttempts bool) (*domain.Job, error)
	UpdateStatus(ctx context.Context, tenantID, jobID string, status domain.JobStatus, errMsg string) error
	MarkExhausted(ctx context.Context, tenantID string) (int64, error)
}

// RunStore is the job-run repository surface the pipeline needs.
type RunStore interface {
	Create(ctx context.Context, tenantID, jobID string) (*domain.JobRun, error)
	ClaimQueued(ctx context.Context, limit int) ([]domain.JobRun, error)
	UpdateStatus(ctx context.Context, tenantID, runID string, status domain.RunStatus, result []byte, errMsg string) error
}

// FileStore is the file repository surface the handlers need.
type FileStore interface {
	Get(ctx context.Context, tenantID, fileID string) (*domain.File, error)
	UpdateStatus(ctx context.Context, tenantID, fileID string, status domain.FileStatus, extractedText *string) error
}

// KbStore is the knowledge-base repository surface the analysis handler
// needs.
type KbStore interface {
	Create(ctx context.Context, entry *domain.KbEntry) (*domain.KbEntry, error)
}

// TextExtractor produces text from stored file bytes. Never errors;
// unsupported formats yield descriptive placeholders.
type TextExtractor interface {
	Extract(path, mimeType string) string
}

// Handler executes one pipeline stage for a claimed job. Handlers surface
// errors unchanged; retries are a job-level concern, never handled here.
type Handler interface {
	Execute(ctx context.Context, job *domain.Job) (result any, err error)
}

// Registry maps job kinds to their handlers, so new kinds slot in without
// touching the processor loop.
type Registry struct {
	handlers map[domain.JobKind]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobKind]Handler)}
}

// Register binds a handler to a job kind, replacing any previous binding.
func (r *Registry) Register(kind domain.JobKind, h Handler) {
	r.handlers[kind] = h
}

// Lookup returns the handler for a kind, or an error for unknown kinds.
func (r *Registry) Lookup(kind domain.JobKind) (Handler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown job kind: %s", kind)
	}
	return h, nil
}

// TextExtractHandler implements the text_extract stage: extract text from
// the uploaded bytes, persist it, and chain an ai_analyze job for the same
// file.
type TextExtractHandler struct {
	files     FileStore
	jobs      JobStore
	extractor TextExtractor
	recorder  *mirror.Recorder
	logger    logger.Logger
}

// NewTextExtractHandler creates the extraction stage handler.
func NewTextExtractHandler(
	files FileStore,
	jobs JobStore,
	extractor TextExtractor,
	recorder *mirror.Recorder,
	log logger.Logger,
) *TextExtractHandler {
	return &TextExtractHandler{
		files:     files,
		jobs:      jobs,
		extractor: extractor,
		recorder:  recorder,
		logger:    log,
	}
}

// Execute runs the extraction stage.
func (h *TextExtractHandler) Execute(ctx context.Context, job *domain.Job) (any, error) {
	meta, err := domain.ParseFileMetadata(job.Metadata)
	if err != nil {
		return nil, err
	}

	file, err := h.files.Get(ctx, job.TenantID, meta.FileID)
	if err != nil {
		return nil, fmt.Errorf("load file %s: %w", meta.FileID, err)
	}

	text := h.extractor.Extract(file.UploadPath, file.MimeType)
	if err := h.files.UpdateStatus(ctx, job.TenantID, file.ID, domain.FileStatusExtracted, &text); err != nil {
		return nil, fmt.Errorf("store extracted text: %w", err)
	}

	next, err := domain.NewJob(job.TenantID, domain.JobKindAIAnalyze, domain.DefaultPriority, domain.FileMetadataJSON(file.ID))
	if err != nil {
		return nil, fmt.Errorf("build analysis job: %w", err)
	}
	created, err := h.jobs.Create(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("create analysis job: %w", err)
	}

	file.Status = domain.FileStatusExtracted
	file.ExtractedText = &text
	h.recorder.RecordFile(ctx, file)
	h.recorder.RecordJob(ctx, created)

	h.logger.Info("created analysis job",
		logger.String("job_id", created.ID),
		logger.String("file_id", file.ID),
		logger.String("tenant_id", job.TenantID))

	return domain.TextExtractResult{Success: true, NextJobID: created.ID}, nil
}

// AIAnalyzeHandler implements the ai_analyze stage: send extracted text to
// the analyzer, write a knowledge-base entry, and mark the file analyzed.
type AIAnalyzeHandler struct {
	files    FileStore
	kb       KbStore
	analyzer analyze.Analyzer
	recorder *mirror.Recorder
	logger   logger.Logger
}

// NewAIAnalyzeHandler creates the analysis stage handler.
func NewAIAnalyzeHandler(
	files FileStore,
	kb KbStore,
	analyzer analyze.Analyzer,
	recorder *mirror.Recorder,
	log logger.Logger,
) *AIAnalyzeHandler {
	return &AIAnalyzeHandler{
		files:    files,
		kb:       kb,
		analyzer: analyzer,
		recorder: recorder,
		logger:   log,
	}
}

// Execute runs the analysis stage. Extraction must have completed first: a
// file without extracted text fails the run with a precondition error.
func (h *AIAnalyzeHandler) Execute(ctx context.Context, job *domain.Job) (any, error) {
	meta, err := domain.ParseFileMetadata(job.Metadata)
	if err != nil {
		return nil, err
	}

	file, err := h.files.Get(ctx, job.TenantID, meta.FileID)
	if err != nil {
		return nil, fmt.Errorf("load file %s: %w", meta.FileID, err)
	}
	if file.ExtractedText == nil || *file.ExtractedText == "" {
		return nil, fmt.Errorf("file %s has no extracted text", file.ID)
	}

	analysis, err := h.analyzer.Analyze(ctx, *file.ExtractedText, file.OriginalName)
	if err != nil {
		return nil, fmt.Errorf("analyze file %s: %w", file.ID, err)
	}

	entryMeta, _ := json.Marshal(map[string]string{
		"originalFilename": file.OriginalName,
		"mimeType":         file.MimeType,
	})
	entry, err := h.kb.Create(ctx, &domain.KbEntry{
		TenantID: job.TenantID,
		FileID:   file.ID,
		Title:    analysis.Title,
		Summary:  analysis.Summary,
		Category: domain.NormalizeCategory(analysis.Category),
		Tags:     analysis.Tags,
		Metadata: entryMeta,
	})
	if err != nil {
		return nil, fmt.Errorf("create kb entry: %w", err)
	}

	if err := h.files.UpdateStatus(ctx, job.TenantID, file.ID, domain.FileStatusAnalyzed, nil); err != nil {
		return nil, fmt.Errorf("mark file analyzed: %w", err)
	}

	file.Status = domain.FileStatusAnalyzed
	h.recorder.RecordKbEntry(ctx, entry)
	h.recorder.RecordFile(ctx, file)

	h.logger.Info("created kb entry",
		logger.String("kb_entry_id", entry.ID),
		logger.String("file_id", file.ID),
		logger.String("tenant_id", job.TenantID))

	return domain.AnalyzeResult{Success: true, KbEntryID: entry.ID}, nil
}
