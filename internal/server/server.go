// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/veilpay/riskengine/internal/audit"
	"github.com/veilpay/riskengine/internal/config"
	"github.com/veilpay/riskengine/internal/engine"
	"github.com/veilpay/riskengine/internal/explain"
	"github.com/veilpay/riskengine/internal/feature"
	"github.com/veilpay/riskengine/internal/health"
	"github.com/veilpay/riskengine/internal/history"
	"github.com/veilpay/riskengine/internal/logging"
	"github.com/veilpay/riskengine/internal/metrics"
	"github.com/veilpay/riskengine/internal/model"
	"github.com/veilpay/riskengine/internal/ratelimit"
	"github.com/veilpay/riskengine/internal/realtime"
	"github.com/veilpay/riskengine/internal/rules"
	"github.com/veilpay/riskengine/internal/security"
	"github.com/veilpay/riskengine/internal/traces"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	svc          *engine.Service
	sink         audit.Sink
	hub          *realtime.Hub
	healthReg    *health.Registry
	rateLimiter  *ratelimit.Limiter
	redis        *history.RedisStore // nil if using in-memory history
	db           *sql.DB             // nil if using in-memory audit
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	traceStop    func(context.Context) error

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

// New creates a new server instance. Model artifacts are loaded eagerly;
// a missing or malformed artifact fails startup rather than serving
// unscoreable traffic.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Model artifacts
	params, err := feature.LoadNormParams(cfg.NormParamsPath)
	if err != nil {
		return nil, fmt.Errorf("load normalization params: %w", err)
	}
	transformer, err := feature.NewTransformer(params)
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}
	static, err := model.LoadEnsemble(cfg.StaticModelPath)
	if err != nil {
		return nil, fmt.Errorf("load static model: %w", err)
	}
	sequential, err := model.LoadRecurrent(cfg.SequentialModelPath)
	if err != nil {
		return nil, fmt.Errorf("load sequential model: %w", err)
	}
	if static.NumFeatures != transformer.Dim() || sequential.InputDim != transformer.Dim() {
		return nil, fmt.Errorf("artifact dimension mismatch: transformer=%d static=%d sequential=%d",
			transformer.Dim(), static.NumFeatures, sequential.InputDim)
	}
	if sequential.Window != cfg.WindowSize {
		return nil, fmt.Errorf("sequential model window %d does not match configured window %d",
			sequential.Window, cfg.WindowSize)
	}
	s.logger.Info("model artifacts loaded",
		"features", transformer.Dim(),
		"trees", len(static.Trees),
		"window", sequential.Window,
	)
	modelDetail := fmt.Sprintf("%d trees, %d-step window", len(static.Trees), sequential.Window)
	s.healthReg.Register("models", func(context.Context) health.Status {
		// Artifacts are immutable after load; reaching this point means
		// both models are in memory.
		return health.Status{Name: "models", Healthy: true, Detail: modelDetail}
	})

	// History store (Redis if REDIS_URL set, otherwise in-memory)
	var store history.Store
	if cfg.RedisURL != "" {
		rs, err := history.NewRedisStore(cfg.RedisURL, cfg.WindowSize)
		if err != nil {
			return nil, fmt.Errorf("connect history store: %w", err)
		}
		s.redis = rs
		store = rs
		s.healthReg.Register("redis", func(ctx context.Context) health.Status {
			if err := rs.Ping(ctx); err != nil {
				return health.Status{Name: "redis", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "redis", Healthy: true}
		})
		s.logger.Info("using Redis history store")
	} else {
		store = history.NewMemoryStore(cfg.WindowSize)
		s.logger.Info("using in-memory history store (windows will not persist)")
	}

	// Audit sink (Postgres if DATABASE_URL set, otherwise in-memory)
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

		sink := audit.NewPostgresSink(db)
		if err := sink.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate audit sink", "error", err)
		}
		s.sink = sink
		s.healthReg.Register("postgres", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "postgres", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "postgres", Healthy: true}
		})
		s.logger.Info("using PostgreSQL audit sink", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.sink = audit.NewMemorySink(10000)
		s.logger.Info("using in-memory audit sink (events will not persist)")
	}

	// Rule engine
	th, err := s.buildThresholds()
	if err != nil {
		return nil, err
	}
	ruleEngine := rules.NewEngine(th)

	// Scoring pipeline
	s.svc = engine.NewService(
		transformer,
		static,
		sequential,
		store,
		ruleEngine,
		explain.NewGenerator(transformer.FeatureNames(), cfg.TopFactors),
		s.sink,
		engine.Options{
			WindowSize:       cfg.WindowSize,
			StaticWeight:     cfg.StaticWeight,
			SequentialWeight: cfg.SequentialWeight,
			FlagThreshold:    cfg.FlagThreshold,
			BlockThreshold:   cfg.BlockThreshold,
		},
		s.logger,
	)

	// Decision feed
	s.hub = realtime.NewHub(s.logger)
	s.svc.SetPublisher(s.hub.BroadcastDecision)
	s.logger.Info("decision feed enabled")

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

// buildThresholds assembles the rule tuning. A rules config file takes the
// whole rule layer over from the individual environment tunables; trusted
// devices from the environment apply either way.
func (s *Server) buildThresholds() (rules.Thresholds, error) {
	var th rules.Thresholds
	if s.cfg.RulesConfigPath != "" {
		loaded, err := rules.LoadThresholds(s.cfg.RulesConfigPath)
		if err != nil {
			return th, fmt.Errorf("load rules config: %w", err)
		}
		th = loaded
		s.logger.Info("rule thresholds loaded from file", "path", s.cfg.RulesConfigPath)
	} else {
		th = rules.DefaultThresholds()
		th.HighAmount = s.cfg.HighAmountThreshold
		th.CriticalAmount = s.cfg.CriticalAmountThreshold
		th.VelocityLimit = s.cfg.VelocityLimit
		th.UnusualHourStart = s.cfg.UnusualHourStart
		th.UnusualHourEnd = s.cfg.UnusualHourEnd
		th.MaxTravelSpeedKmh = s.cfg.MaxTravelSpeedKmh
	}
	th.Trust(s.cfg.TrustedDevices...)
	return th, nil
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(security.RequestSizeMiddleware(security.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
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
			requestID = generateRequestID()
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

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	engine.NewHandler(s.svc, s.sink, s.logger).RegisterRoutes(v1)
	v1.GET("/feed", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	v1.GET("/feed/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse is the full health-check payload.
type HealthResponse struct {
	Status    string          `json:"status"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
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

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Checks:    checks,
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

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	traceStop, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.traceStop = traceStop
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

	go s.hub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

	// Cancel the context for background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.cfg.IsProduction() {
		// Give load balancers time to stop sending traffic
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}
	if s.traceStop != nil {
		if err := s.traceStop(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler { return s.router }
