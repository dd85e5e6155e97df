package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/promptcraft/promptcraft-hybrid/auth"
	"github.com/promptcraft/promptcraft-hybrid/config"
	"github.com/promptcraft/promptcraft-hybrid/handlers"
	"github.com/promptcraft/promptcraft-hybrid/internal/observability"
	"github.com/promptcraft/promptcraft-hybrid/internal/stream"
	"github.com/promptcraft/promptcraft-hybrid/middleware"
	"github.com/promptcraft/promptcraft-hybrid/repositories"
	"github.com/promptcraft/promptcraft-hybrid/repositories/sqlstore"
	"github.com/promptcraft/promptcraft-hybrid/services/alerting"
	"github.com/promptcraft/promptcraft-hybrid/services/dashboard"
	"github.com/promptcraft/promptcraft-hybrid/services/monitor"
	"github.com/promptcraft/promptcraft-hybrid/services/ratelimit"
	"github.com/promptcraft/promptcraft-hybrid/services/retention"
	"github.com/promptcraft/promptcraft-hybrid/services/security"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config        *config.Config
	ValidationErr error
	Logger        *zap.Logger
	Metrics       *observability.Metrics

	// Storage
	RepoFactory *sqlstore.RepositoryFactory
	DB          *sqlstore.DB
	Repos       *repositories.Repositories
	TxManager   repositories.TransactionManager

	// Security pipeline
	Monitor        *monitor.Monitor
	AlertEngine    *alerting.Engine
	Stream         *stream.Hub
	EventSink      observability.EventSink
	SecurityLogger *security.SecurityLogger
	Dashboard      *dashboard.Service
	Retention      *retention.Service

	// Auth. Tokens is nil when no JWT secret is configured.
	Tokens         *auth.Validator
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *ratelimit.Limiter

	// HTTP
	HealthHandler   *handlers.HealthHandler
	SecurityHandler *handlers.SecurityHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDependencies creates and wires up all application dependencies.
// validationErr is the outcome of validating cfg; it is surfaced through the
// health endpoints rather than aborting startup.
func NewDependencies(ctx context.Context, cfg *config.Config, validationErr error, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:        cfg,
		ValidationErr: validationErr,
		Logger:        logger,
		Metrics:       observability.NewMetrics(),
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initSecurity(cfg); err != nil {
		_ = deps.RepoFactory.Close()
		return nil, fmt.Errorf("failed to initialize security pipeline: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		_ = deps.EventSink.Close()
		_ = deps.RepoFactory.Close()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.initRateLimit(cfg)
	deps.initHandlers(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the store and makes sure the schema exists
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := sqlstore.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.HealthCheck(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("database health check failed: %w", err)
	}

	if err := d.DB.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("driver", d.DB.Driver()),
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

func (d *Dependencies) initRepositories() {
	d.Repos = d.RepoFactory.NewRepositories()
	d.TxManager = d.RepoFactory.GetTransactionManager()
	d.Logger.Info("repositories initialized")
}

// initSecurity wires the monitor, alert engine, stream hub and the
// asynchronous security logger that feeds them
func (d *Dependencies) initSecurity(cfg *config.Config) error {
	d.Monitor = monitor.NewMonitor(monitor.ConfigFrom(cfg.Monitoring), d.Metrics, d.Logger.Named("monitor"))

	rules := alerting.DefaultRules()
	if cfg.Alerting.RulesFile != "" {
		loaded, err := alerting.LoadRules(cfg.Alerting.RulesFile)
		if err != nil {
			return fmt.Errorf("failed to load alert rules: %w", err)
		}
		rules = loaded
	}

	notifiers := []alerting.Notifier{alerting.NewLogNotifier(d.Logger.Named("alerts"))}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, cfg.Alerting.WebhookTimeout))
	}

	engine, err := alerting.NewEngine(d.Repos.Alerts, rules, d.Metrics, d.Logger.Named("alerting"), alerting.Config{
		DefaultCooldown: cfg.Alerting.DefaultCooldown,
		NotifyTimeout:   cfg.Alerting.WebhookTimeout,
	}, alerting.WithNotifiers(notifiers...))
	if err != nil {
		return fmt.Errorf("failed to create alert engine: %w", err)
	}
	d.AlertEngine = engine

	d.Stream = stream.NewHub(cfg.Server.CORSOrigins, d.Metrics, d.Logger.Named("stream"))
	d.EventSink = observability.NewFileEventSink(cfg.Observability)

	pipeline := security.Pipeline{
		Sink:        d.EventSink,
		Monitor:     d.Monitor,
		Broadcaster: d.Stream,
	}
	if cfg.Alerting.Enabled {
		pipeline.Alerts = d.AlertEngine
	} else {
		d.Logger.Warn("alerting disabled, events will not be evaluated against rules")
	}

	d.SecurityLogger = security.NewSecurityLogger(d.Repos.SecurityEvents, d.Metrics, pipeline, d.Logger.Named("security"), security.Config{
		BufferSize:  cfg.Monitoring.EventBufferSize,
		WorkerCount: cfg.Monitoring.WorkerCount,
	})

	d.Dashboard = dashboard.NewService(d.Repos.SecurityEvents, d.Repos.Alerts, d.Monitor, d.Logger.Named("dashboard"))
	d.Retention = retention.NewService(d.TxManager, d.Repos, d.SecurityLogger, cfg.Monitoring.RetentionDays, d.Logger.Named("retention"))

	d.Logger.Info("security pipeline initialized",
		zap.Int("alert_rules", len(rules)),
		zap.Int("notifiers", len(notifiers)),
		zap.Bool("alerting_enabled", cfg.Alerting.Enabled))
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Security.JWTSecret == "" {
		d.Logger.Warn("JWT secret not configured, security API will reject every request")
		// Use reject-all validator so protected routes return 401
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.SecurityLogger, d.Monitor, d.Logger)
		return nil
	}

	validator, err := auth.NewValidator(auth.Config{
		Secret:   cfg.Security.JWTSecret,
		Issuer:   cfg.Security.JWTIssuer,
		Audience: cfg.Security.JWTAudience,
		Leeway:   cfg.Security.JWTLeeway,
	})
	if err != nil {
		return err
	}
	d.Tokens = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.SecurityLogger, d.Monitor, d.Logger)
	d.Logger.Info("JWT authentication initialized")
	return nil
}

func (d *Dependencies) initRateLimit(cfg *config.Config) {
	d.RateLimiter = ratelimit.NewLimiter(cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst)
	if !d.RateLimiter.Enabled() {
		d.Logger.Warn("rate limiting disabled")
	}
}

func (d *Dependencies) initHandlers(cfg *config.Config) {
	d.HealthHandler = handlers.NewHealthHandler(cfg, d.ValidationErr, d.DB, d.SecurityLogger, d.Logger)
	d.SecurityHandler = handlers.NewSecurityHandler(handlers.SecurityServices{
		Dashboard:    d.Dashboard,
		Alerts:       d.AlertEngine,
		Events:       d.SecurityLogger,
		Monitor:      d.Monitor,
		Retention:    d.Retention,
		Stream:       d.Stream,
		DefaultHours: cfg.Monitoring.DashboardDefaultHours,
	}, d.Logger)
}

// rejectAllValidator rejects all tokens (used when no JWT secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, errors.New("authentication not configured")
}

// Start launches the background components (stream hub, rule file watcher,
// rate limiter pruning) and the security logger workers.
func (d *Dependencies) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Stream.Run(ctx)
	}()

	if d.RateLimiter.Enabled() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.RateLimiter.Run(ctx, time.Minute)
		}()
	}

	if d.Config.Alerting.Enabled && d.Config.Alerting.WatchRulesFile && d.Config.Alerting.RulesFile != "" {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.AlertEngine.Watch(ctx, d.Config.Alerting.RulesFile); err != nil {
				d.Logger.Error("alert rule watcher stopped", zap.Error(err))
			}
		}()
	}

	if err := d.SecurityLogger.Start(); err != nil {
		cancel()
		d.wg.Wait()
		return fmt.Errorf("failed to start security logger: %w", err)
	}
	return nil
}

// Close gracefully shuts down all dependencies. Queued security events are
// drained before the stream hub and the store go away.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Stop closes the event sink once the workers are done with it
	sinkClosed := false
	if d.SecurityLogger != nil && d.SecurityLogger.Running() {
		sinkClosed = true
		timeout := d.Config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.SecurityLogger.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop security logger: %w", err))
		}
	}

	if d.cancel != nil {
		d.cancel()
		d.wg.Wait()
	}

	if d.EventSink != nil && !sinkClosed {
		if err := d.EventSink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event sink: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
