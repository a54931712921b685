package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/logger"
	"github.com/jonesrussell/gokb/internal/metrics"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultBatchSize      = 100
	defaultPublishTimeout = 10 * time.Second
	stalePublishingAge    = 5 * time.Minute
	cleanupRetention      = 7 * 24 * time.Hour
	cleanupInterval       = 1 * time.Hour
	recoveryInterval      = 1 * time.Minute
	retryBatchDivisor     = 2 // retry batch = batchSize / divisor
)

// OutboxStore is the repository surface the publisher drains; implemented by
// database.MirrorRepository.
type OutboxStore interface {
	FetchPending(ctx context.Context, limit int) ([]domain.MirrorEntry, error)
	FetchRetryable(ctx context.Context, limit int) ([]domain.MirrorEntry, error)
	MarkPublished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errorMsg string) error
	ResetToPending(ctx context.Context, olderThan time.Duration) (int64, error)
	CleanupPublished(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Publisher polls the mirror outbox and publishes entries to Redis Pub/Sub.
type Publisher struct {
	store   OutboxStore
	redis   redis.UniversalClient
	logger  logger.Logger
	metrics *metrics.Metrics

	pollInterval   time.Duration
	batchSize      int
	publishTimeout time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// PublisherConfig holds configuration options.
type PublisherConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	PublishTimeout time.Duration
}

// NewPublisher creates a mirror publisher.
func NewPublisher(
	store OutboxStore,
	redisClient redis.UniversalClient,
	cfg PublisherConfig,
	m *metrics.Metrics,
	log logger.Logger,
) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	return &Publisher{
		store:          store,
		redis:          redisClient,
		logger:         log,
		metrics:        m,
		pollInterval:   cfg.PollInterval,
		batchSize:      cfg.BatchSize,
		publishTimeout: cfg.PublishTimeout,
		stopChan:       make(chan struct{}),
	}
}

// Start begins the polling loop plus cleanup and recovery goroutines.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)

	p.wg.Add(1)
	go p.runCleanup(ctx)

	p.wg.Add(1)
	go p.runRecovery(ctx)

	p.logger.Info("mirror publisher started",
		logger.Duration("poll_interval", p.pollInterval),
		logger.Int("batch_size", p.batchSize))
}

// Stop gracefully stops the publisher.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()
	p.logger.Info("mirror publisher stopped")
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.processOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.processOnce(ctx)
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Publisher) processOnce(ctx context.Context) {
	pending, err := p.store.FetchPending(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("failed to fetch pending mirror entries", logger.Error(err))
	} else if len(pending) > 0 {
		p.publishBatch(ctx, pending)
	}

	// Retry batch is smaller to prioritize fresh changes, but never zero
	// or failed entries would sit in the outbox forever.
	retryLimit := p.batchSize / retryBatchDivisor
	if retryLimit < 1 {
		retryLimit = 1
	}
	retryable, err := p.store.FetchRetryable(ctx, retryLimit)
	if err != nil {
		p.logger.Error("failed to fetch retryable mirror entries", logger.Error(err))
	} else if len(retryable) > 0 {
		p.publishBatch(ctx, retryable)
	}
}

func (p *Publisher) publishBatch(ctx context.Context, entries []domain.MirrorEntry) {
	for i := range entries {
		p.publishOne(ctx, &entries[i])
	}
}

func (p *Publisher) publishOne(ctx context.Context, entry *domain.MirrorEntry) {
	pubCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	channel := entry.Channel()
	if err := p.redis.Publish(pubCtx, channel, []byte(entry.Payload)).Err(); err != nil {
		p.handlePublishError(ctx, entry, fmt.Errorf("redis publish: %w", err))
		return
	}

	if markErr := p.store.MarkPublished(ctx, entry.ID); markErr != nil {
		// The message went out; a failed bookkeeping update will be retried
		// as a duplicate publish, which the mirror upsert absorbs.
		p.logger.Error("failed to mark mirror entry as published",
			logger.String("mirror_id", entry.ID),
			logger.Error(markErr))
	}

	p.metrics.MirrorPublished.WithLabelValues("published").Inc()
	p.logger.Debug("published mirror entry",
		logger.String("entity", string(entry.Entity)),
		logger.String("entity_id", entry.EntityID),
		logger.String("channel", channel),
		logger.Int("retry_count", entry.RetryCount))
}

func (p *Publisher) handlePublishError(ctx context.Context, entry *domain.MirrorEntry, err error) {
	p.metrics.MirrorPublished.WithLabelValues("failed").Inc()
	p.logger.Error("failed to publish mirror entry",
		logger.String("mirror_id", entry.ID),
		logger.String("entity_id", entry.EntityID),
		logger.Int("retry_count", entry.RetryCount),
		logger.Error(err))

	if markErr := p.store.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
		p.logger.Error("failed to mark mirror entry as failed",
			logger.String("mirror_id", entry.ID),
			logger.Error(markErr))
	}
}

// runCleanup periodically removes old published entries.
func (p *Publisher) runCleanup(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := p.store.CleanupPublished(ctx, cleanupRetention)
			if err != nil {
				p.logger.Error("mirror cleanup failed", logger.Error(err))
			} else if deleted > 0 {
				p.logger.Info("cleaned up old mirror entries",
					logger.Int64("deleted", deleted))
			}
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runRecovery resets stale "publishing" entries back to "pending".
func (p *Publisher) runRecovery(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reset, err := p.store.ResetToPending(ctx, stalePublishingAge)
			if err != nil {
				p.logger.Error("mirror recovery failed", logger.Error(err))
			} else if reset > 0 {
				p.logger.Warn("recovered stale mirror entries",
					logger.Int64("reset", reset))
			}
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}
