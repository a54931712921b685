package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/logger"
	"github.com/jonesrussell/gokb/internal/metrics"
	"github.com/jonesrussell/gokb/internal/mirror"
)

const (
	// Shorter than the dispatch interval so the run queue drains quickly.
	defaultWorkerInterval = 5 * time.Second
	defaultBatchSize      = 5
	defaultHandlerTimeout = 60 * time.Second
)

// Processor is the execution loop. Each tick it claims a bounded batch of
// queued JobRuns across all tenants (first ready, first served), executes
// the kind-specific handler for each, and resolves the run and its parent
// job. All exception-to-state conversion happens here: handlers just return
// errors.
type Processor struct {
	jobs     JobStore
	runs     RunStore
	registry *Registry
	recorder *mirror.Recorder
	logger   logger.Logger
	metrics  *metrics.Metrics

	interval       time.Duration
	batchSize      int
	handlerTimeout time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// ProcessorConfig holds configuration options.
type ProcessorConfig struct {
	Interval       time.Duration
	BatchSize      int
	HandlerTimeout time.Duration
}

// NewProcessor creates a processor.
func NewProcessor(
	jobs JobStore,
	runs RunStore,
	registry *Registry,
	cfg ProcessorConfig,
	recorder *mirror.Recorder,
	m *metrics.Metrics,
	log logger.Logger,
) *Processor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultWorkerInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}

	return &Processor{
		jobs:           jobs,
		runs:           runs,
		registry:       registry,
		recorder:       recorder,
		logger:         log,
		metrics:        m,
		interval:       cfg.Interval,
		batchSize:      cfg.BatchSize,
		handlerTimeout: cfg.HandlerTimeout,
		stopChan:       make(chan struct{}),
	}
}

// Start begins the processing loop.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("processor started",
		logger.Duration("interval", p.interval),
		logger.Int("batch_size", p.batchSize),
		logger.Duration("handler_timeout", p.handlerTimeout))
}

// Stop gracefully stops the processor. An in-flight handler finishes its
// run; there is no live cancellation signal for claimed work.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()
	p.logger.Info("processor stopped")
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Process immediately on start.
	p.ProcessBatch(ctx)

	for {
		select {
		case <-ticker.C:
			p.ProcessBatch(ctx)
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProcessBatch claims and executes up to batchSize queued runs. Runs are
// processed sequentially; one run's failure never aborts the rest of the
// batch.
func (p *Processor) ProcessBatch(ctx context.Context) {
	runs, err := p.runs.ClaimQueued(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("failed to claim job runs", logger.Error(err))
		return
	}

	for i := range runs {
		p.processRun(ctx, &runs[i])
	}
}

func (p *Processor) processRun(ctx context.Context, run *domain.JobRun) {
	job, err := p.jobs.Get(ctx, run.TenantID, run.JobID)
	if err != nil {
		p.failRun(ctx, run, "", err)
		return
	}

	handler, err := p.registry.Lookup(job.Kind)
	if err != nil {
		p.failRun(ctx, run, job.Kind, err)
		return
	}

	start := time.Now()
	result, err := p.executeHandler(ctx, handler, job)
	p.metrics.HandlerDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		p.failRun(ctx, run, job.Kind, err)
		return
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		p.failRun(ctx, run, job.Kind, marshalErr)
		return
	}

	if err := p.runs.UpdateStatus(ctx, run.TenantID, run.ID, domain.RunStatusSucceeded, payload, ""); err != nil {
		p.logger.Error("failed to mark run succeeded",
			logger.String("run_id", run.ID),
			logger.Error(err))
	}
	p.resolveJob(ctx, run, domain.JobStatusSucceeded, "")

	p.metrics.RunsProcessed.WithLabelValues(string(job.Kind), "succeeded").Inc()
	p.logger.Info("completed job run",
		logger.String("tenant_id", run.TenantID),
		logger.String("run_id", run.ID),
		logger.String("job_id", run.JobID),
		logger.String("kind", string(job.Kind)),
		logger.Duration("elapsed", time.Since(start)))
}

// executeHandler runs a handler under the per-handler timeout so a hung
// analyzer call cannot pin a batch slot forever.
func (p *Processor) executeHandler(ctx context.Context, handler Handler, job *domain.Job) (any, error) {
	handlerCtx, cancel := context.WithTimeout(ctx, p.handlerTimeout)
	defer cancel()

	return handler.Execute(handlerCtx, job)
}

func (p *Processor) failRun(ctx context.Context, run *domain.JobRun, kind domain.JobKind, cause error) {
	p.metrics.RunsProcessed.WithLabelValues(string(kind), "failed").Inc()
	p.logger.Error("job run failed",
		logger.String("tenant_id", run.TenantID),
		logger.String("run_id", run.ID),
		logger.String("job_id", run.JobID),
		logger.Error(cause))

	if err := p.runs.UpdateStatus(ctx, run.TenantID, run.ID, domain.RunStatusFailed, nil, cause.Error()); err != nil {
		p.logger.Error("failed to mark run failed",
			logger.String("run_id", run.ID),
			logger.Error(err))
	}
	p.resolveJob(ctx, run, domain.JobStatusFailed, cause.Error())
}

// resolveJob moves the parent job to a terminal state. The store refuses to
// downgrade a canceled job; that shows up as ErrNotFound and means a cancel
// request won the race while the run was in flight.
func (p *Processor) resolveJob(ctx context.Context, run *domain.JobRun, status domain.JobStatus, errMsg string) {
	err := p.jobs.UpdateStatus(ctx, run.TenantID, run.JobID, status, errMsg)
	if err == nil {
		if job, getErr := p.jobs.Get(ctx, run.TenantID, run.JobID); getErr == nil {
			p.recorder.RecordJob(ctx, job)
		}
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn("job not updated, likely canceled mid-run",
			logger.String("job_id", run.JobID),
			logger.String("intended_status", string(status)))
		return
	}
	p.logger.Error("failed to update job status",
		logger.String("job_id", run.JobID),
		logger.Error(err))
}
