package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/gokb/internal/domain"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	healthCheckTimeout   = 2 * time.Second
	serviceVersion       = "1.0.0"
)

// MirrorStatsSource reports outbox backlog counts for the health check;
// implemented by database.MirrorRepository.
type MirrorStatsSource interface {
	GetStats(ctx context.Context) (*domain.MirrorStats, error)
}

// Router holds the API handlers and the connections the health check pings.
type Router struct {
	files *FileHandler
	jobs  *JobHandler
	kb    *KbHandler
	stats *StatsHandler
	users *UserHandler

	db          *sql.DB
	redisClient *redis.Client
	mirrorStats MirrorStatsSource
	registry    *prometheus.Registry
	debug       bool
}

// NewRouter creates a router over the service handlers. redisClient and
// mirrorStats are nil when mirroring is disabled.
func NewRouter(
	files *FileHandler,
	jobs *JobHandler,
	kb *KbHandler,
	stats *StatsHandler,
	users *UserHandler,
	db *sql.DB,
	redisClient *redis.Client,
	mirrorStats MirrorStatsSource,
	registry *prometheus.Registry,
	debug bool,
) *Router {
	return &Router{
		files:       files,
		jobs:        jobs,
		kb:          kb,
		stats:       stats,
		users:       users,
		db:          db,
		redisClient: redisClient,
		mirrorStats: mirrorStats,
		registry:    registry,
		debug:       debug,
	}
}

// SetupRoutes builds the gin engine with middleware and all routes.
func (r *Router) SetupRoutes() *gin.Engine {
	if !r.debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", r.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	v1.Use(TenantMiddleware())

	files := v1.Group("/files")
	files.POST("", r.files.Upload)
	files.GET("", r.files.List)
	files.GET("/:id", r.files.Get)

	jobs := v1.Group("/jobs")
	jobs.GET("", r.jobs.List)
	jobs.GET("/:id", r.jobs.Get)
	jobs.POST("/:id/retry", r.jobs.Retry)
	jobs.POST("/:id/cancel", r.jobs.Cancel)

	kb := v1.Group("/kb")
	kb.GET("", r.kb.List)
	kb.GET("/categories", r.kb.Categories)

	v1.GET("/stats", r.stats.Get)

	users := v1.Group("/users")
	users.POST("", r.users.Create)
	users.GET("/:username", r.users.Get)

	return router
}

// healthCheck reports service health, degraded when a dependency is down.
func (r *Router) healthCheck(c *gin.Context) {
	health := gin.H{
		"status":  healthStatusHealthy,
		"service": "gokb",
		"version": serviceVersion,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	dbConnected := true
	if err := r.db.PingContext(ctx); err != nil {
		dbConnected = false
		health["status"] = healthStatusDegraded
	}
	health["database"] = gin.H{"connected": dbConnected}

	if r.redisClient != nil {
		redisConnected := true
		if err := r.redisClient.Ping(ctx).Err(); err != nil {
			redisConnected = false
			health["status"] = healthStatusDegraded
		}
		health["redis"] = gin.H{"connected": redisConnected}
	}

	if r.mirrorStats != nil {
		if stats, err := r.mirrorStats.GetStats(ctx); err == nil {
			health["mirror_outbox"] = stats
		} else {
			health["status"] = healthStatusDegraded
		}
	}

	c.JSON(http.StatusOK, health)
}
