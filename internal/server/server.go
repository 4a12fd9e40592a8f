// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/txscreen/txscreen/internal/audit"
	"github.com/txscreen/txscreen/internal/cache"
	"github.com/txscreen/txscreen/internal/circuitbreaker"
	"github.com/txscreen/txscreen/internal/config"
	"github.com/txscreen/txscreen/internal/decision"
	"github.com/txscreen/txscreen/internal/engine"
	"github.com/txscreen/txscreen/internal/feature"
	"github.com/txscreen/txscreen/internal/health"
	"github.com/txscreen/txscreen/internal/idgen"
	"github.com/txscreen/txscreen/internal/ingest"
	"github.com/txscreen/txscreen/internal/logging"
	"github.com/txscreen/txscreen/internal/metrics"
	"github.com/txscreen/txscreen/internal/publish"
	"github.com/txscreen/txscreen/internal/ratelimit"
	"github.com/txscreen/txscreen/internal/realtime"
	"github.com/txscreen/txscreen/internal/rules"
	"github.com/txscreen/txscreen/internal/scoring"
	"github.com/txscreen/txscreen/internal/security"
	"github.com/txscreen/txscreen/internal/validation"
)

const (
	cacheBreakerThreshold = 5
	cacheBreakerOpen      = 30 * time.Second
	ingestBuffer          = 1024
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	store       audit.Store
	backend     cache.Backend
	engine      *engine.Engine
	source      *ingest.ChanSource
	consumer    *ingest.Consumer
	feedHub     *realtime.Hub
	publisher   publish.Publisher
	healthReg   *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore sets a custom audit store (for testing)
func WithStore(store audit.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithPublisher sets a custom decision publisher (for testing)
func WithPublisher(p publish.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set store/publisher/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}

			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			if err := db.Ping(); err != nil {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			s.db = db
			pgStore := audit.NewPostgresStore(db)
			if err := pgStore.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate decision store", "error", err)
			}
			s.store = pgStore
			s.logger.Info("using PostgreSQL decision store", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.store = audit.NewMemoryStore()
			s.logger.Info("using in-memory decision store (data will not persist)")
		}
	}

	// Feature cache: in-process backend behind a circuit breaker.
	s.backend = cache.NewMemory()
	breaker := circuitbreaker.New(cacheBreakerThreshold, cacheBreakerOpen)
	profiles := feature.NewProfileCache(s.backend, breaker, cfg.ProfileTTL, cfg.CacheOpTimeout, s.logger)
	velocity := feature.NewVelocityTracker(s.backend, breaker, cfg.VelocityRetention, cfg.CacheOpTimeout, s.logger)

	// Decision result publisher
	if s.publisher == nil {
		if cfg.PublishWebhookURL != "" {
			if err := security.ValidateEndpointURL(cfg.PublishWebhookURL); err != nil {
				return nil, fmt.Errorf("invalid PUBLISH_WEBHOOK_URL: %w", err)
			}
			s.publisher = publish.NewWebhookPublisher(cfg.PublishWebhookURL, cfg.PublishSecret, s.logger)
			s.logger.Info("publishing decisions via webhook", "topic", cfg.PublishTopic)
		} else {
			s.publisher = publish.NewMemoryPublisher()
			s.logger.Info("no publish endpoint configured, decisions kept in memory")
		}
	}

	// Live decision feed
	s.feedHub = realtime.NewHub(s.logger)

	// Decision engine
	s.engine = engine.New(
		profiles,
		velocity,
		rules.NewEvaluator(cfg.RuleVersion),
		scoring.NewHeuristic(),
		s.store,
		s.publisher,
		cfg.PublishTopic,
		s.logger,
		engine.WithBroadcaster(s.feedHub),
	)

	// Async ingestion: submitted transactions are evaluated by a worker pool.
	s.source = ingest.NewChanSource(ingestBuffer)
	s.consumer = ingest.NewConsumer(s.source, func(ctx context.Context, txn decision.Transaction) error {
		_, err := s.engine.Evaluate(ctx, &txn)
		return err
	}, cfg.Workers, s.logger)

	// Health checks
	s.healthReg = health.NewRegistry()
	s.healthReg.Register("cache", func(ctx context.Context) health.Status {
		if err := s.backend.Ping(ctx); err != nil {
			return health.Status{Name: "cache", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "cache", Healthy: true}
	})
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (review tooling runs on separate origins)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	rlCfg.BurstSize = s.cfg.RateLimitRPM / 6
	if rlCfg.BurstSize < 10 {
		rlCfg.BurstSize = 10
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket decision feed
	s.router.GET("/ws/decisions", func(c *gin.Context) {
		s.feedHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/api/v1")

	// Synchronous evaluation: one transaction in, one decision out.
	v1.POST("/decisions/evaluate", s.evaluateHandler)

	// Async ingestion: enqueue for the worker pool, respond immediately.
	v1.POST("/transactions", s.submitHandler)

	// Decision query surface
	audit.NewHandler(s.store).RegisterRoutes(v1)

	// Feed stats
	v1.GET("/feed/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.feedHub.Stats())
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "txscreen",
		"description": "Real-time transaction risk screening",
		"version":     "0.1.0",
		"ruleVersion": s.cfg.RuleVersion,
	})
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"rule_version", s.cfg.RuleVersion,
			"workers", s.cfg.Workers,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start the decision feed hub
	go s.feedHub.Run(runCtx)

	// Start ingestion workers
	s.consumer.Start(runCtx)

	// Collect DB pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stop accepting new work, let buffered deliveries drain.
	s.source.Close()
	s.consumer.Wait()

	// Cancel the context for remaining background goroutines (feed hub, stats)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Drain in-flight decision side effects
	s.engine.Close()

	if err := s.publisher.Close(); err != nil {
		s.logger.Error("publisher close error", "error", err)
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
