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

	"github.com/mbd888/silkroad/internal/compliance"
	"github.com/mbd888/silkroad/internal/config"
	"github.com/mbd888/silkroad/internal/health"
	"github.com/mbd888/silkroad/internal/idgen"
	"github.com/mbd888/silkroad/internal/invoices"
	"github.com/mbd888/silkroad/internal/logging"
	"github.com/mbd888/silkroad/internal/metrics"
	"github.com/mbd888/silkroad/internal/pricing"
	"github.com/mbd888/silkroad/internal/ratelimit"
	"github.com/mbd888/silkroad/internal/realtime"
	"github.com/mbd888/silkroad/internal/retry"
	"github.com/mbd888/silkroad/internal/sanctions"
	"github.com/mbd888/silkroad/internal/security"
	"github.com/mbd888/silkroad/internal/settlement"
	"github.com/mbd888/silkroad/internal/traces"
	"github.com/mbd888/silkroad/internal/validation"
)

// DefaultDrainDelay gives load balancers time to stop sending traffic.
const DefaultDrainDelay = 5 * time.Second

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg        *config.Config
	version    string
	screenings sanctions.Store
	screener   *sanctions.Screener
	invoices   *invoices.Service
	gates      *compliance.Manager
	gateReaper *compliance.Reaper
	simulator  *settlement.Simulator
	hub        *realtime.Hub
	checks     *health.Registry

	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	gateClock       compliance.Clock
	settlementClock settlement.Clock
	drainDelay      time.Duration

	// gateCtx parents every gate sequence; cancelled on shutdown.
	gateCtx      context.Context
	cancelGates  context.CancelFunc
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

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithGateClock paces compliance gates with c (for testing)
func WithGateClock(c compliance.Clock) Option {
	return func(s *Server) {
		s.gateClock = c
	}
}

// WithSettlementClock paces settlement simulations with c (for testing)
func WithSettlementClock(c settlement.Clock) Option {
	return func(s *Server) {
		s.settlementClock = c
	}
}

// WithDrainDelay overrides DefaultDrainDelay.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: DefaultDrainDelay,
	}

	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		invoiceStore    invoices.Store
		settlementStore settlement.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		policy := retry.StartupPolicy
		policy.Logger = s.logger
		if err := retry.Do(context.Background(), policy, "database ping", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return db.PingContext(ctx)
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.screenings = sanctions.NewPostgresStore(db)
		invoiceStore = invoices.NewPostgresStore(db)
		settlementStore = settlement.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.screenings = sanctions.NewMemoryStore()
		invoiceStore = invoices.NewMemoryStore()
		settlementStore = settlement.NewDemoStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Realtime notifications
	s.hub = realtime.NewHub(s.logger)

	// Sanctions screening (demo mode without an API key)
	s.screener = sanctions.New(cfg.RangeAPIKey, cfg.RangeAPIURL,
		sanctions.WithTimeout(cfg.ScreeningTimeout),
		sanctions.WithStore(s.screenings),
		sanctions.WithLogger(s.logger),
	)
	if !s.screener.Configured() {
		s.logger.Warn("RANGE_API_KEY not set, sanctions screening runs in demo mode")
	}

	// Invoice listings
	s.invoices = invoices.NewService(invoiceStore, s.logger).WithNotifier(&hubNotifier{hub: s.hub})

	// Compliance gates
	s.gateCtx, s.cancelGates = context.WithCancel(context.Background())
	s.gates = compliance.NewManager(s.screener, s.invoices, compliance.ManagerConfig{
		Delays: compliance.Delays{
			Identity:      cfg.GateIdentityDelay,
			Screening:     cfg.GateScreeningDelay,
			Accreditation: cfg.GateAccreditationDelay,
		},
		Clock:       s.gateClock,
		Logger:      s.logger,
		Observer:    compliance.ObserverFunc(s.publishGate),
		BaseContext: s.gateCtx,
	})
	s.gateReaper = compliance.NewReaper(s.gates, compliance.DefaultGateTTL, s.logger)

	// Settlement simulator
	simOpts := []settlement.Option{
		settlement.WithLogger(s.logger),
		settlement.WithNotify(s.publishSettlement),
	}
	if s.settlementClock != nil {
		simOpts = append(simOpts, settlement.WithClock(s.settlementClock))
	}
	s.simulator = settlement.NewSimulator(settlementStore, simOpts...)

	// Health checks
	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", health.Database(s.db))
	}
	s.checks.Register("realtime", health.Running("realtime", s.hub.Running))
	s.checks.Register("gate_reaper", health.Running("gate_reaper", s.gateReaper.Running))
	s.checks.Register("sanctions", health.Informational("sanctions", s.screener.Status))

	// Setup Gin
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

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(traces.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = idgen.WithPrefix(idgen.PrefixRequest)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
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
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Notifications
	s.router.GET("/ws", gin.WrapF(s.hub.HandleWebSocket))

	v1 := s.router.Group("/v1")

	pricing.NewHandler().RegisterRoutes(v1)

	screenings := v1.Group("")
	screenings.Use(validation.AddressParamMiddleware())
	sanctions.NewHandler(s.screener, s.screenings).RegisterRoutes(screenings)

	invoices.NewHandler(s.invoices).RegisterRoutes(v1)
	compliance.NewHandler(s.gates).RegisterRoutes(v1)

	settlements := settlement.NewHandler(s.simulator)
	settlements.RegisterRoutes(v1)

	// Settlement console; open when ADMIN_SECRET is unset
	admin := v1.Group("")
	admin.Use(security.AdminMiddleware(s.cfg.AdminSecret))
	settlements.RegisterAdminRoutes(admin)

	v1.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Gates     int             `json:"activeGates"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    statuses,
		Gates:     s.gates.Len(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// startBackground launches the hub, the gate reaper and the DB stats
// collector. They stop when ctx is cancelled.
func (s *Server) startBackground(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.gateReaper.Start(ctx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(ctx, s.db, 15*time.Second)
	}
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
		// Settlement streams run for several seconds.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"screening", s.screener.Status(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.startBackground(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		s.cleanup()
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

	// Give load balancers time to stop sending traffic
	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	s.cleanup()
	s.logger.Info("server stopped")
	return shutdownErr
}

// cleanup stops background work and releases resources. Safe to call twice.
func (s *Server) cleanup() {
	// Cancel the context for all background goroutines (hub, reaper, collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	s.gateReaper.Stop()
	s.gates.CloseAll()
	s.cancelGates()
	s.logger.Info("compliance gates closed")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
		s.db = nil
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Realtime adapters
// -----------------------------------------------------------------------------

func (s *Server) publishGate(snap compliance.Snapshot) {
	s.hub.Publish(realtime.EventGateChanged, snap.GateID, snap.WalletAddress, snap)
}

func (s *Server) publishSettlement(n settlement.Notification) {
	s.hub.Publish(realtime.EventSettlementProgress, n.SettlementID, "", n)
}

// hubNotifier adapts realtime.Hub to invoices.Notifier
type hubNotifier struct {
	hub *realtime.Hub
}

func (n *hubNotifier) InvoiceListed(inv *invoices.Invoice) {
	n.hub.Publish(realtime.EventInvoiceListed, inv.ID, inv.Supplier, inv)
}

func (n *hubNotifier) InvoiceSold(inv *invoices.Invoice) {
	n.hub.Publish(realtime.EventInvoiceSold, inv.ID, inv.Buyer, inv)
}
