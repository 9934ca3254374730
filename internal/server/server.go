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

	"github.com/atticswap/atticswap/internal/catalog"
	"github.com/atticswap/atticswap/internal/config"
	"github.com/atticswap/atticswap/internal/escrow"
	"github.com/atticswap/atticswap/internal/events"
	"github.com/atticswap/atticswap/internal/health"
	"github.com/atticswap/atticswap/internal/idgen"
	"github.com/atticswap/atticswap/internal/ledger"
	"github.com/atticswap/atticswap/internal/logging"
	"github.com/atticswap/atticswap/internal/metrics"
	"github.com/atticswap/atticswap/internal/ratelimit"
	"github.com/atticswap/atticswap/internal/realtime"
	"github.com/atticswap/atticswap/internal/security"
	"github.com/atticswap/atticswap/internal/traces"
	"github.com/atticswap/atticswap/internal/trade"
	"github.com/atticswap/atticswap/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	ledgerService  *ledger.Service
	ledgerStore    ledger.Store
	catalogService *catalog.Service
	tradeService   *trade.Service
	tradeStore     trade.Store
	sweeper        *trade.Sweeper
	webhookStore   events.Store
	dispatcher     *events.Dispatcher
	realtimeHub    *realtime.Hub
	rateLimiter    *ratelimit.Limiter
	healthReg      *health.Registry
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	tracesShutdown func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.ledgerStore = ledger.NewPostgresStore(db)
		s.catalogService = catalog.NewService(catalog.NewPostgresStore(db))
		s.tradeStore = trade.NewPostgresStore(db)
		s.webhookStore = events.NewPostgresStore(db)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		ledgerMem := ledger.NewMemoryStore()
		escrowMem := escrow.NewMemoryStore()
		s.ledgerStore = ledgerMem
		s.catalogService = catalog.NewService(catalog.NewMemoryStore())
		s.tradeStore = trade.NewMemoryStore(ledgerMem, escrowMem)
		s.webhookStore = events.NewMemoryStore()
	}

	s.ledgerService = ledger.NewService(s.ledgerStore, cfg.SignupGrantAmount())
	s.logger.Info("token ledger enabled", "signupGrant", cfg.SignupGrant)

	s.dispatcher = events.NewDispatcher(s.webhookStore)
	s.logger.Info("webhooks enabled")

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Settlement core: webhook emitter and realtime feed listen for outcomes.
	sink := multiSink{
		events.NewEmitter(s.dispatcher, s.logger),
		realtime.NewSink(s.realtimeHub),
	}
	s.tradeService = trade.NewService(s.tradeStore).
		WithCatalog(s.catalogService).
		WithEvents(sink)

	s.sweeper = trade.NewSweeper(s.tradeService, s.tradeStore, cfg.EscrowTTL, cfg.SweepInterval)
	if cfg.EscrowTTL > 0 {
		s.logger.Info("escrow expiry sweep enabled", "ttl", cfg.EscrowTTL, "interval", cfg.SweepInterval)
	}

	s.setupHealthChecks()

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

func (s *Server) setupHealthChecks() {
	s.healthReg = health.NewRegistry()

	s.healthReg.Register("storage", func(ctx context.Context) health.Status {
		if s.db == nil {
			return health.Status{Name: "storage", Healthy: true, Detail: "in-memory"}
		}
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			return health.Status{Name: "storage", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "storage", Healthy: true, Detail: "postgres"}
	})

	s.healthReg.Register("realtime", func(ctx context.Context) health.Status {
		stats := s.realtimeHub.Stats()
		return health.Status{
			Name:    "realtime",
			Healthy: true,
			Detail:  fmt.Sprintf("%d clients", stats["connectedClients"]),
		}
	})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
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

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		limCfg.BurstSize = s.cfg.RateLimitRPS * 2
	}
	s.rateLimiter = ratelimit.New(limCfg)
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
			requestID = idgen.Hex(16)
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

// authMiddleware resolves the acting user from the X-User-ID header.
// A real deployment would verify a session token here; the trusted
// header keeps the settlement semantics testable without an identity
// provider.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_user",
				"message": "X-User-ID header is required",
			})
			return
		}
		if !validation.IsValidUserID(userID) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_user",
				"message": "X-User-ID must be 1-64 characters of letters, digits, underscore, or hyphen",
			})
			return
		}
		c.Set("authUserID", userID)
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// WebSocket for real-time streaming
	v1.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// Accounts (public: signup is open, balances are readable)
	ledgerHandler := ledger.NewHandler(s.ledgerService)
	ledgerHandler.RegisterRoutes(v1)

	// Catalog: reads are public, listing an item requires auth
	catalogHandler := catalog.NewHandler(s.catalogService)
	catalogHandler.RegisterRoutes(v1)

	protectedCatalog := v1.Group("")
	protectedCatalog.Use(s.authMiddleware())
	catalogHandler.RegisterProtectedRoutes(protectedCatalog)

	// Trades: reads are public, settlement operations require auth
	tradeHandler := trade.NewHandler(s.tradeService)
	tradeHandler.RegisterRoutes(v1)

	protectedTrades := v1.Group("")
	protectedTrades.Use(s.authMiddleware())
	tradeHandler.RegisterProtectedRoutes(protectedTrades)

	// Webhook subscriptions (always owned by the authenticated user)
	webhookHandler := events.NewHandler(s.webhookStore)
	protectedWebhooks := v1.Group("")
	protectedWebhooks.Use(s.authMiddleware())
	webhookHandler.RegisterRoutes(protectedWebhooks)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Atticswap",
		"description": "Token escrow and settlement for the decluttering marketplace",
		"version":     "0.1.0",
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, statuses := s.healthReg.CheckAll(ctx)
	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no OTLP endpoint is configured)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start escrow expiry sweep
	go s.sweeper.Run(runCtx)

	// Collect connection pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

	// Cancel the context for all background goroutines (hub, sweeper)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Flush traces
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
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

// -----------------------------------------------------------------------------
// Event fan-out
// -----------------------------------------------------------------------------

// multiSink fans settlement outcomes out to every registered sink.
type multiSink []trade.EventSink

func (m multiSink) TradeOpened(ctx context.Context, txn *trade.Transaction) {
	for _, s := range m {
		s.TradeOpened(ctx, txn)
	}
}

func (m multiSink) TradeConfirmed(ctx context.Context, txn *trade.Transaction) {
	for _, s := range m {
		s.TradeConfirmed(ctx, txn)
	}
}

func (m multiSink) TradeCancelled(ctx context.Context, txn *trade.Transaction) {
	for _, s := range m {
		s.TradeCancelled(ctx, txn)
	}
}
