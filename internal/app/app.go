// Package app wires the service together and manages its lifecycle.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/gokb/internal/analyze"
	"github.com/jonesrussell/gokb/internal/api"
	"github.com/jonesrussell/gokb/internal/config"
	"github.com/jonesrussell/gokb/internal/database"
	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/extract"
	"github.com/jonesrussell/gokb/internal/logger"
	"github.com/jonesrussell/gokb/internal/metrics"
	"github.com/jonesrussell/gokb/internal/mirror"
	"github.com/jonesrussell/gokb/internal/worker"
)

// DefaultShutdownTimeout bounds graceful HTTP shutdown.
const DefaultShutdownTimeout = 30 * time.Second

const redisPingTimeout = 5 * time.Second

// App holds the assembled service.
type App struct {
	config      *config.Config
	logger      logger.Logger
	db          *sql.DB
	redisClient *redis.Client

	dispatcher *worker.Dispatcher
	processor  *worker.Processor
	publisher  *mirror.Publisher
	server     *api.Server
}

// Options contains configuration for creating a new App.
type Options struct {
	ConfigPath string
	Version    string
}

// New creates an App with all dependencies initialized.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Service.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", cfg.Service.Name),
		logger.String("version", opts.Version),
	)

	db, err := database.NewPostgresConnection(cfg.Database.DSN())
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Mirror.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
			_ = db.Close()
			_ = appLogger.Sync()
			return nil, fmt.Errorf("connect to Redis: %w", pingErr)
		}
	}

	if err := os.MkdirAll(cfg.Upload.Dir, 0o755); err != nil {
		_ = db.Close()
		_ = appLogger.Sync()
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	jobRepo := database.NewJobRepository(db)
	runRepo := database.NewJobRunRepository(db)
	fileRepo := database.NewFileRepository(db)
	kbRepo := database.NewKbRepository(db)
	userRepo := database.NewUserRepository(db)
	mirrorRepo := database.NewMirrorRepository(db)

	registry := prometheus.NewRegistry()
	appMetrics := metrics.New(registry)

	recorder := mirror.NewRecorder(mirrorRepo, cfg.Mirror.Enabled, appLogger)

	analyzer := analyze.NewClient(analyze.Config{
		APIKey:    cfg.Anthropic.APIKey,
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
	})

	handlers := worker.NewRegistry()
	handlers.Register(domain.JobKindTextExtract,
		worker.NewTextExtractHandler(fileRepo, jobRepo, extract.New(), recorder, appLogger))
	handlers.Register(domain.JobKindAIAnalyze,
		worker.NewAIAnalyzeHandler(fileRepo, kbRepo, analyzer, recorder, appLogger))

	enforce := true
	if cfg.Dispatch.EnforceMaxAttempts != nil {
		enforce = *cfg.Dispatch.EnforceMaxAttempts
	}
	dispatcher := worker.NewDispatcher(jobRepo, runRepo, userRepo, fileRepo,
		worker.DispatcherConfig{
			Interval:           cfg.Dispatch.Interval,
			EnforceMaxAttempts: enforce,
			RecoveryInterval:   cfg.Dispatch.RecoveryInterval,
			StuckExtractedAge:  cfg.Dispatch.StuckExtractedAge,
		},
		recorder, appMetrics, appLogger)

	processor := worker.NewProcessor(jobRepo, runRepo, handlers,
		worker.ProcessorConfig{
			Interval:       cfg.Worker.Interval,
			BatchSize:      cfg.Worker.BatchSize,
			HandlerTimeout: cfg.Worker.HandlerTimeout,
		},
		recorder, appMetrics, appLogger)

	var publisher *mirror.Publisher
	if cfg.Mirror.Enabled {
		publisher = mirror.NewPublisher(mirrorRepo, redisClient,
			mirror.PublisherConfig{
				PollInterval:   cfg.Mirror.PollInterval,
				BatchSize:      cfg.Mirror.BatchSize,
				PublishTimeout: cfg.Mirror.PublishTimeout,
			},
			appMetrics, appLogger)
	}

	fileHandler := api.NewFileHandler(fileRepo, jobRepo, recorder, appLogger,
		cfg.Upload.Dir, cfg.Upload.MaxSizeBytes)
	jobHandler := api.NewJobHandler(jobRepo, runRepo, recorder, appLogger)
	kbHandler := api.NewKbHandler(kbRepo, appLogger)
	statsHandler := api.NewStatsHandler(jobRepo, fileRepo, kbRepo, appLogger)
	userHandler := api.NewUserHandler(userRepo, appLogger)

	var mirrorStats api.MirrorStatsSource
	if cfg.Mirror.Enabled {
		mirrorStats = mirrorRepo
	}
	router := api.NewRouter(fileHandler, jobHandler, kbHandler, statsHandler,
		userHandler, db, redisClient, mirrorStats, registry, cfg.Service.Debug)
	server := api.NewServer(router, cfg.Service.Port, appLogger)

	return &App{
		config:      cfg,
		logger:      appLogger,
		db:          db,
		redisClient: redisClient,
		dispatcher:  dispatcher,
		processor:   processor,
		publisher:   publisher,
		server:      server,
	}, nil
}

// Run starts the background loops and the HTTP server, then blocks until a
// shutdown signal arrives or the server fails.
func (a *App) Run(ctx context.Context) error {
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	a.dispatcher.Start(workerCtx)
	a.processor.Start(workerCtx)
	if a.publisher != nil {
		a.publisher.Start(workerCtx)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		a.logger.Info("shutting down gracefully", logger.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server error", logger.Error(err))
			runErr = err
		}
	case <-ctx.Done():
	}

	a.stop(workerCancel)
	a.logger.Info("service stopped")
	return runErr
}

// stop shuts down the HTTP server and the background loops in order.
func (a *App) stop(workerCancel context.CancelFunc) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", logger.Error(err))
	}

	workerCancel()
	a.dispatcher.Stop()
	a.processor.Stop()
	if a.publisher != nil {
		a.publisher.Stop()
	}
}

// Close releases connections and flushes logs.
func (a *App) Close() error {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close Redis client", logger.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", logger.Error(err))
		}
	}
	return a.logger.Sync()
}

// Logger returns the application logger.
func (a *App) Logger() logger.Logger {
	return a.logger
}
