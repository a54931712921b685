package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/logger"
	"github.com/jonesrussell/gokb/internal/metrics"
	"github.com/jonesrussell/gokb/internal/mirror"
)

const (
	defaultDispatchInterval  = 10 * time.Second
	defaultRecoveryInterval  = 5 * time.Minute
	defaultStuckExtractedAge = 15 * time.Minute
)

// TenantSource enumerates the tenant partitions eligible for dispatch. The
// set is re-read every tick, so staleness is bounded by one poll interval.
type TenantSource interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// StuckFileStore finds files left in the extracted state whose analysis
// job was never created; implemented by database.FileRepository.
type StuckFileStore interface {
	ListStuckExtracted(ctx context.Context, olderThan time.Duration) ([]domain.File, error)
}

// Dispatcher is the scheduler loop. Each tick it attempts one atomic job
// claim per tenant and materializes a queued JobRun for every claim; JobRuns
// originate nowhere else. One claim attempt per tenant per tick keeps a busy
// tenant from starving the others.
type Dispatcher struct {
	jobs     JobStore
	runs     RunStore
	tenants  TenantSource
	stuck    StuckFileStore
	recorder *mirror.Recorder
	logger   logger.Logger
	metrics  *metrics.Metrics

	interval           time.Duration
	enforceMaxAttempts bool
	recoveryInterval   time.Duration
	stuckExtractedAge  time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// DispatcherConfig holds configuration options.
type DispatcherConfig struct {
	Interval time.Duration
	// EnforceMaxAttempts makes the attempt ceiling hard: exhausted queued
	// jobs fail permanently instead of staying claimable forever.
	EnforceMaxAttempts bool
	RecoveryInterval   time.Duration
	StuckExtractedAge  time.Duration
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	jobs JobStore,
	runs RunStore,
	tenants TenantSource,
	stuck StuckFileStore,
	cfg DispatcherConfig,
	recorder *mirror.Recorder,
	m *metrics.Metrics,
	log logger.Logger,
) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultDispatchInterval
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = defaultRecoveryInterval
	}
	if cfg.StuckExtractedAge <= 0 {
		cfg.StuckExtractedAge = defaultStuckExtractedAge
	}

	return &Dispatcher{
		jobs:               jobs,
		runs:               runs,
		tenants:            tenants,
		stuck:              stuck,
		recorder:           recorder,
		logger:             log,
		metrics:            m,
		interval:           cfg.Interval,
		enforceMaxAttempts: cfg.EnforceMaxAttempts,
		recoveryInterval:   cfg.RecoveryInterval,
		stuckExtractedAge:  cfg.StuckExtractedAge,
		stopChan:           make(chan struct{}),
	}
}

// Start begins the dispatch loop and the stuck-file recovery goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(ctx)

	d.wg.Add(1)
	go d.runRecovery(ctx)

	d.logger.Info("dispatcher started",
		logger.Duration("interval", d.interval),
		logger.Bool("enforce_max_attempts", d.enforceMaxAttempts))
}

// Stop gracefully stops the dispatcher.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	close(d.stopChan)
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// Dispatch immediately on start.
	d.Dispatch(ctx)

	for {
		select {
		case <-ticker.C:
			d.Dispatch(ctx)
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch runs one tick: enumerate tenants and attempt one claim each.
// A tenant enumeration failure aborts the whole tick; the next tick retries
// from scratch. Per-tenant failures are logged and do not abort the rest.
func (d *Dispatcher) Dispatch(ctx context.Context) {
	tenants, err := d.tenants.ListTenants(ctx)
	if err != nil {
		d.logger.Error("failed to enumerate tenants, aborting tick", logger.Error(err))
		return
	}

	for _, tenantID := range tenants {
		if err := d.dispatchTenant(ctx, tenantID); err != nil {
			d.logger.Error("dispatch failed for tenant",
				logger.String("tenant_id", tenantID),
				logger.Error(err))
		}
	}
}

func (d *Dispatcher) dispatchTenant(ctx context.Context, tenantID string) error {
	if d.enforceMaxAttempts {
		exhausted, err := d.jobs.MarkExhausted(ctx, tenantID)
		if err != nil {
			return err
		}
		if exhausted > 0 {
			d.logger.Warn("failed jobs that exhausted max attempts",
				logger.String("tenant_id", tenantID),
				logger.Int64("count", exhausted))
		}
	}

	job, err := d.jobs.Dequeue(ctx, tenantID, d.enforceMaxAttempts)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	run, err := d.runs.Create(ctx, tenantID, job.ID)
	if err != nil {
		return err
	}

	d.recorder.RecordJob(ctx, job)
	d.metrics.JobsDispatched.WithLabelValues(string(job.Kind)).Inc()

	d.logger.Info("dispatched job",
		logger.String("tenant_id", tenantID),
		logger.String("job_id", job.ID),
		logger.String("run_id", run.ID),
		logger.String("kind", string(job.Kind)),
		logger.Int("attempts", job.Attempts))
	return nil
}

// runRecovery periodically re-enqueues analysis for files stuck in the
// extracted state because a crash landed between the file update and the
// chained job insert. Files whose analysis job exists but failed are left
// to the manual retry endpoint, so a deterministically failing analysis is
// not re-run forever.
func (d *Dispatcher) runRecovery(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.recoverStuckFiles(ctx)
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) recoverStuckFiles(ctx context.Context) {
	files, err := d.stuck.ListStuckExtracted(ctx, d.stuckExtractedAge)
	if err != nil {
		d.logger.Error("stuck file sweep failed", logger.Error(err))
		return
	}

	for i := range files {
		file := &files[i]
		job, err := domain.NewJob(file.TenantID, domain.JobKindAIAnalyze, domain.DefaultPriority, domain.FileMetadataJSON(file.ID))
		if err != nil {
			d.logger.Error("failed to build recovery job",
				logger.String("file_id", file.ID),
				logger.Error(err))
			continue
		}
		created, err := d.jobs.Create(ctx, job)
		if err != nil {
			d.logger.Error("failed to create recovery job",
				logger.String("file_id", file.ID),
				logger.Error(err))
			continue
		}

		d.recorder.RecordJob(ctx, created)
		d.logger.Warn("re-enqueued analysis for stuck file",
			logger.String("tenant_id", file.TenantID),
			logger.String("file_id", file.ID),
			logger.String("job_id", created.ID))
	}
}
