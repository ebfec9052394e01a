package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"contrib.go.opencensus.io/integrations/ocsql"

	"github.com/leadforge/leadforge/config"
	"github.com/leadforge/leadforge/internal/database"
	"github.com/leadforge/leadforge/internal/domain"
	httpHandler "github.com/leadforge/leadforge/internal/http"
	"github.com/leadforge/leadforge/internal/http/middleware"
	"github.com/leadforge/leadforge/internal/repository"
	"github.com/leadforge/leadforge/internal/service"
	"github.com/leadforge/leadforge/pkg/cache"
	"github.com/leadforge/leadforge/pkg/formula"
	"github.com/leadforge/leadforge/pkg/logger"
	"github.com/leadforge/leadforge/pkg/ratelimiter"
	"github.com/leadforge/leadforge/pkg/tracing"
)

// Development fallbacks, used only when ENVIRONMENT=development leaves them unset
const (
	devSecretKey = "leadforge-development-secret-key"
	devJWTSecret = "leadforge-development-jwt-secret"
)

// AppInterface defines the interface for the App
type AppInterface interface {
	Initialize() error
	Start() error
	Shutdown(ctx context.Context) error

	// Getters for app components accessed in tests
	GetConfig() *config.Config
	GetLogger() logger.Logger
	GetMux() *http.ServeMux
	GetDB() *sql.DB

	GetCalculatedColumnRepository() domain.CalculatedColumnRepository
	GetWebhookRepository() domain.WebhookRepository
	GetWebhookDeliveryRepository() domain.WebhookDeliveryRepository

	// Server status methods
	IsServerCreated() bool
	WaitForServerStart(ctx context.Context) bool

	// Methods for initialization steps
	InitDB() error
	InitTracing() error
	InitRepositories() error
	InitServices() error
	InitHandlers() error

	// Graceful shutdown methods
	SetShutdownTimeout(timeout time.Duration)
	GetActiveRequestCount() int64
	GetShutdownContext() context.Context
}

// App encapsulates the application dependencies and configuration
type App struct {
	config *config.Config
	logger logger.Logger
	db     *sql.DB

	// Repositories
	calculatedColumnRepo domain.CalculatedColumnRepository
	calculatedResultRepo domain.CalculatedResultRepository
	webhookRepo          domain.WebhookRepository
	webhookDeliveryRepo  domain.WebhookDeliveryRepository
	preferenceRepo       domain.PreferenceRepository

	// Services
	formulaService          *service.FormulaService
	calculatedColumnService *service.CalculatedColumnService
	webhookService          *service.WebhookService
	webhookDispatcher       *service.WebhookDispatcher
	webhookRetryPoller      *service.WebhookRetryPoller
	resultSweeper           *service.CalculatedResultSweeper
	preferenceService       *service.PreferenceService
	rateLimiter             *ratelimiter.RateLimiter
	astCache                *cache.InMemoryCache[formula.Node]

	// HTTP handlers
	mux    *http.ServeMux
	server *http.Server

	// Server synchronization
	serverMu      sync.RWMutex
	serverStarted chan struct{}

	// Background workers stop when shutdownCtx is cancelled
	workersWg sync.WaitGroup

	// Graceful shutdown management
	shutdownCtx     context.Context
	shutdownCancel  context.CancelFunc
	activeRequests  int64
	requestWg       sync.WaitGroup
	shutdownTimeout time.Duration
}

// AppOption defines a functional option for configuring the App
type AppOption func(*App)

// WithMockDB configures the app to use a mock database
func WithMockDB(db *sql.DB) AppOption {
	return func(a *App) {
		a.db = db
	}
}

// WithLogger sets a custom logger
func WithLogger(logger logger.Logger) AppOption {
	return func(a *App) {
		a.logger = logger
	}
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, opts ...AppOption) AppInterface {
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	app := &App{
		config:          cfg,
		mux:             http.NewServeMux(),
		serverStarted:   make(chan struct{}),
		shutdownCtx:     shutdownCtx,
		shutdownCancel:  shutdownCancel,
		shutdownTimeout: shutdownTimeout,
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.logger == nil {
		app.logger = newLogger(&cfg.Log)
	}

	return app
}

func newLogger(cfg *config.LogConfig) logger.Logger {
	log, err := logger.NewLoggerWithFile(cfg.Level, logger.FileOptions{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		log = logger.NewLoggerWithLevel(cfg.Level)
		log.WithField("error", err.Error()).Warn("Log file unavailable, logging to stdout only")
	}
	return log
}

// InitTracing initializes OpenCensus tracing
func (a *App) InitTracing() error {
	tracingConfig := &a.config.Tracing

	if err := tracing.InitTracing(tracingConfig); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if tracingConfig.Enabled {
		a.logger.WithField("trace_exporter", tracingConfig.TraceExporter).
			WithField("metrics_exporter", tracingConfig.MetricsExporter).
			WithField("sampling_rate", tracingConfig.SamplingProbability).
			Info("Tracing initialized successfully")
	}

	return nil
}

// InitDB connects to the database and applies the schema
func (a *App) InitDB() error {
	ctx := context.Background()

	if a.db == nil {
		a.logger.WithField("host", a.config.Database.Host).
			WithField("port", a.config.Database.Port).
			WithField("dbname", a.config.Database.DBName).
			WithField("sslmode", a.config.Database.SSLMode).
			Info("Connecting to database")

		// If tracing is enabled, wrap the postgres driver
		driverName := "postgres"
		if a.config.Tracing.Enabled {
			var err error
			driverName, err = ocsql.Register(driverName, ocsql.WithAllTraceOptions())
			if err != nil {
				return fmt.Errorf("failed to register opencensus sql driver: %w", err)
			}
			a.logger.Info("Database driver wrapped with OpenCensus tracing")
		}

		db, err := database.Open(ctx, &a.config.Database, driverName)
		if err != nil {
			return err
		}
		a.db = db
	}

	if err := database.InitializeDatabase(ctx, a.db); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	a.logger.Info("Database schema ready")
	return nil
}

// InitRepositories initializes all repositories
func (a *App) InitRepositories() error {
	if a.db == nil {
		return fmt.Errorf("database must be initialized before repositories")
	}

	a.calculatedColumnRepo = repository.NewCalculatedColumnRepository(a.db)
	a.calculatedResultRepo = repository.NewCalculatedResultRepository(a.db)
	a.webhookRepo = repository.NewWebhookRepository(a.db, a.secretKey())
	a.webhookDeliveryRepo = repository.NewWebhookDeliveryRepository(a.db)
	a.preferenceRepo = repository.NewPreferenceRepository(a.db)

	return nil
}

// InitServices initializes all application services
func (a *App) InitServices() error {
	if a.webhookRepo == nil {
		return fmt.Errorf("repositories must be initialized before services")
	}

	cfg := a.config

	a.astCache = cache.NewInMemoryCache[formula.Node](cfg.Formulas.ASTCacheSize, time.Minute)
	a.formulaService = service.NewFormulaService(a.astCache, cfg.Formulas.ASTCacheTTL, nil, a.logger)

	enricher := service.NewEnrichmentClient(cfg.Enrichment.Endpoint, cfg.Enrichment.APIKey, cfg.Enrichment.Timeout, a.logger)
	a.calculatedColumnService = service.NewCalculatedColumnService(
		a.calculatedColumnRepo,
		a.calculatedResultRepo,
		a.formulaService,
		enricher,
		cfg.Formulas.BatchConcurrency,
		a.logger,
	)
	a.resultSweeper = service.NewCalculatedResultSweeper(a.calculatedResultRepo, cfg.Formulas.ResultSweepInterval, a.logger)

	a.webhookService = service.NewWebhookService(a.webhookRepo, a.webhookDeliveryRepo, a.logger)

	pool := service.NewDeliveryPool(cfg.Webhooks.WorkerCount, cfg.Webhooks.QueueSize, a.logger)
	a.webhookDispatcher = service.NewWebhookDispatcher(
		a.webhookRepo,
		a.webhookDeliveryRepo,
		pool,
		tracing.WrapHTTPClient(&http.Client{}),
		a.logger,
	)

	if cfg.Webhooks.RetryPollerEnabled {
		a.webhookRetryPoller = service.NewWebhookRetryPoller(
			a.webhookDeliveryRepo,
			a.webhookDispatcher,
			service.RetryPollerConfig{
				PollInterval:  cfg.Webhooks.RetryPollInterval,
				BatchSize:     cfg.Webhooks.RetryBatchSize,
				RetentionDays: cfg.Webhooks.DeliveryRetentionDays,
			},
			a.logger,
		)
	}

	a.preferenceService = service.NewPreferenceService(a.preferenceRepo, a.logger)

	a.rateLimiter = ratelimiter.NewRateLimiter()
	a.rateLimiter.SetPolicy(httpHandler.RateLimitTrigger, cfg.RateLimits.TriggerPerMinute, time.Minute)
	a.rateLimiter.SetPolicy(httpHandler.RateLimitEvaluate, cfg.RateLimits.EvaluatePerMinute, time.Minute)

	return nil
}

// InitHandlers registers every HTTP route on a fresh mux
func (a *App) InitHandlers() error {
	if a.webhookService == nil {
		return fmt.Errorf("services must be initialized before handlers")
	}

	a.mux = http.NewServeMux()
	getJWTSecret := a.jwtSecretFunc()

	httpHandler.NewHealthHandler(a.db, a.logger).RegisterRoutes(a.mux)
	httpHandler.NewFormulaHandler(a.formulaService, a.rateLimiter, getJWTSecret, a.logger).RegisterRoutes(a.mux)
	httpHandler.NewCalculatedColumnHandler(a.calculatedColumnService, a.rateLimiter, getJWTSecret, a.logger).RegisterRoutes(a.mux)
	httpHandler.NewWebhookHandler(a.webhookService, a.webhookDispatcher, a.rateLimiter, getJWTSecret, a.logger).RegisterRoutes(a.mux)
	httpHandler.NewPreferenceHandler(a.preferenceService, getJWTSecret, a.logger).RegisterRoutes(a.mux)

	return nil
}

// secretKey returns the key used to encrypt webhook secrets at rest
func (a *App) secretKey() string {
	if a.config.Security.SecretKey == "" && a.config.IsDevelopment() {
		a.logger.Warn("SECRET_KEY is not set, using the development key")
		return devSecretKey
	}
	return a.config.Security.SecretKey
}

func (a *App) jwtSecretFunc() func() ([]byte, error) {
	secret := a.config.Security.JWTSecret
	if secret == "" && a.config.IsDevelopment() {
		a.logger.Warn("JWT_SECRET is not set, using the development secret")
		secret = devJWTSecret
	}
	return func() ([]byte, error) {
		if secret == "" {
			return nil, errors.New("JWT secret is not configured")
		}
		return []byte(secret), nil
	}
}

// startWorkers launches the delivery pool and the periodic jobs. They all
// stop when the shutdown context is cancelled.
func (a *App) startWorkers() {
	ctx := a.shutdownCtx

	a.webhookDispatcher.Start(ctx)

	if a.webhookRetryPoller != nil {
		a.workersWg.Add(1)
		go func() {
			defer a.workersWg.Done()
			a.webhookRetryPoller.Start(ctx)
		}()
	}

	a.workersWg.Add(1)
	go func() {
		defer a.workersWg.Done()
		a.resultSweeper.Start(ctx)
	}()
}

// Start starts the background workers and the HTTP server
func (a *App) Start() error {
	var handler http.Handler = a.mux

	handler = a.gracefulShutdownMiddleware(handler)

	if a.config.Tracing.Enabled {
		handler = middleware.TracingMiddleware(handler)
		a.logger.Info("OpenCensus tracing middleware enabled")
	}

	handler = middleware.CORSMiddleware(a.config.Server.CORSAllowOrigin)(handler)

	a.startWorkers()

	addr := fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port)
	a.logger.WithField("address", addr).Info("Server starting")

	a.serverMu.Lock()
	if a.serverStarted != nil {
		select {
		case <-a.serverStarted:
		default:
			close(a.serverStarted)
		}
	}
	a.serverStarted = make(chan struct{})

	a.server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverStarted := a.serverStarted
	a.serverMu.Unlock()

	close(serverStarted)

	return a.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Starting graceful shutdown...")

	// Signal shutdown to all components
	a.shutdownCancel()

	a.serverMu.RLock()
	server := a.server
	a.serverMu.RUnlock()

	if server == nil {
		a.logger.Info("No server to shutdown")
		return a.cleanupResources(ctx)
	}

	a.logger.WithField("active_requests", a.getActiveRequestCount()).Info("Active requests at shutdown start")

	shutdownTimeout := a.shutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < shutdownTimeout {
			shutdownTimeout = remaining - time.Second
			if shutdownTimeout < 0 {
				shutdownTimeout = 0
			}
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	serverShutdownDone := make(chan error, 1)
	go func() {
		a.logger.WithField("timeout", shutdownTimeout.String()).Info("Starting HTTP server shutdown")
		serverShutdownDone <- server.Shutdown(shutdownCtx)
	}()

	requestsDone := make(chan struct{})
	go func() {
		a.requestWg.Wait()
		close(requestsDone)
	}()

	var shutdownErr error
	select {
	case err := <-serverShutdownDone:
		shutdownErr = err
		a.logger.Info("HTTP server shutdown completed")
	case <-shutdownCtx.Done():
		a.logger.Warn("Shutdown timeout reached")
		shutdownErr = fmt.Errorf("shutdown timeout exceeded")
	}

	if shutdownErr == nil {
		select {
		case <-requestsDone:
		case <-time.After(2 * time.Second):
			if activeCount := a.getActiveRequestCount(); activeCount > 0 {
				a.logger.WithField("active_requests", activeCount).Warn("Some requests still active, proceeding with shutdown")
			}
		}
	}

	if cleanupErr := a.cleanupResources(ctx); cleanupErr != nil {
		a.logger.WithField("error", cleanupErr.Error()).Error("Error during resource cleanup")
		if shutdownErr == nil {
			shutdownErr = cleanupErr
		}
	}

	if shutdownErr != nil {
		a.logger.WithField("error", shutdownErr.Error()).Error("Graceful shutdown completed with errors")
	} else {
		a.logger.Info("Graceful shutdown completed successfully")
	}

	return shutdownErr
}

// cleanupResources stops the workers and closes the database. Deliveries still
// queued in memory are dropped; their records become due again after the
// recovery lease and the retry poller picks them up.
func (a *App) cleanupResources(ctx context.Context) error {
	a.logger.Info("Cleaning up resources...")

	if a.webhookDispatcher != nil {
		a.webhookDispatcher.Stop()
	}
	a.workersWg.Wait()

	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}
	if a.astCache != nil {
		a.astCache.Stop()
	}

	if a.db != nil {
		if a.config.Tracing.Enabled {
			if err := ocsql.RecordStats(a.db, 5*time.Second); err != nil {
				a.logger.WithField("error", err.Error()).Error("Failed to record final database stats for tracing")
			}
		}

		a.logger.Info("Closing database connection")
		if err := a.db.Close(); err != nil {
			a.logger.WithField("error", err.Error()).Error("Error closing database connection")
			return err
		}
	}

	a.logger.Info("Resource cleanup completed")
	return nil
}

// IsServerCreated safely checks if the server has been created
func (a *App) IsServerCreated() bool {
	a.serverMu.RLock()
	defer a.serverMu.RUnlock()
	return a.server != nil
}

// WaitForServerStart waits for the server to be created.
// Returns false if ctx expires first.
func (a *App) WaitForServerStart(ctx context.Context) bool {
	a.serverMu.RLock()
	started := a.serverStarted
	a.serverMu.RUnlock()

	if started == nil {
		a.logger.Error("serverStarted channel is nil - server initialization error")
		<-ctx.Done()
		return false
	}

	select {
	case <-started:
		return a.IsServerCreated()
	case <-ctx.Done():
		return false
	}
}

// Initialize sets up all components of the application
func (a *App) Initialize() error {
	a.logger.WithField("version", a.config.Version).Info("Starting LeadForge API")

	if err := a.InitTracing(); err != nil {
		return err
	}

	if err := a.InitDB(); err != nil {
		return err
	}

	if err := a.InitRepositories(); err != nil {
		return err
	}

	if err := a.InitServices(); err != nil {
		return err
	}

	if err := a.InitHandlers(); err != nil {
		return err
	}

	a.logger.Info("Application successfully initialized")
	return nil
}

// GetConfig returns the app's configuration
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetLogger returns the app's logger
func (a *App) GetLogger() logger.Logger {
	return a.logger
}

// GetMux returns the app's HTTP multiplexer
func (a *App) GetMux() *http.ServeMux {
	return a.mux
}

// GetDB returns the app's database connection
func (a *App) GetDB() *sql.DB {
	return a.db
}

func (a *App) GetCalculatedColumnRepository() domain.CalculatedColumnRepository {
	return a.calculatedColumnRepo
}

func (a *App) GetWebhookRepository() domain.WebhookRepository {
	return a.webhookRepo
}

func (a *App) GetWebhookDeliveryRepository() domain.WebhookDeliveryRepository {
	return a.webhookDeliveryRepo
}

func (a *App) incrementActiveRequests() {
	atomic.AddInt64(&a.activeRequests, 1)
	a.requestWg.Add(1)
}

func (a *App) decrementActiveRequests() {
	atomic.AddInt64(&a.activeRequests, -1)
	a.requestWg.Done()
}

func (a *App) getActiveRequestCount() int64 {
	return atomic.LoadInt64(&a.activeRequests)
}

// GetActiveRequestCount returns the current number of active requests
func (a *App) GetActiveRequestCount() int64 {
	return a.getActiveRequestCount()
}

// SetShutdownTimeout sets the timeout for graceful shutdown
func (a *App) SetShutdownTimeout(timeout time.Duration) {
	a.shutdownTimeout = timeout
}

// GetShutdownContext returns the context cancelled when shutdown begins
func (a *App) GetShutdownContext() context.Context {
	return a.shutdownCtx
}

func (a *App) isShuttingDown() bool {
	select {
	case <-a.shutdownCtx.Done():
		return true
	default:
		return false
	}
}

// gracefulShutdownMiddleware tracks active requests and refuses new ones once
// shutdown has begun
func (a *App) gracefulShutdownMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.isShuttingDown() {
			httpHandler.WriteJSONError(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}

		a.incrementActiveRequests()
		defer a.decrementActiveRequests()

		next.ServeHTTP(w, r)
	})
}

// Ensure App implements AppInterface
var _ AppInterface = (*App)(nil)
