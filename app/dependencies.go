package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/routeguard/config"
	"github.com/upb/routeguard/internal/access"
	"github.com/upb/routeguard/internal/manifest"
	"github.com/upb/routeguard/internal/observability"
	"github.com/upb/routeguard/middleware"
	"github.com/upb/routeguard/repositories"
	"github.com/upb/routeguard/repositories/postgres"
	"github.com/upb/routeguard/services/audit"
	"github.com/upb/routeguard/services/guard"
	"github.com/upb/routeguard/services/routes"
	"github.com/upb/routeguard/tokens"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Routes    repositories.RouteRepository
	AuditLogs repositories.AuditRepository
	TxManager repositories.TransactionManager

	// Services
	Builtins     *access.Registry
	RouteCache   *routes.RouteCache
	Catalog      *routes.Catalog
	AuditService *audit.AuditService
	Guard        *guard.Service
	Metrics      *observability.Metrics

	// Auth
	TokenValidator   middleware.TokenValidator
	AuthMiddleware   *middleware.AuthMiddleware
	AccessMiddleware *middleware.AccessMiddleware

	stopCleanup chan struct{}
}

// Storage is the persistence wired into the services. Leaving Repos nil
// serves the built-in routes only and disables auditing.
type Storage struct {
	DB        *postgres.DB
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager
}

// NewDependencies connects to PostgreSQL and wires up all application dependencies.
// builtins are the routes guarding the HTTP API.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, builtins []access.RouteDefinition) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	deps, err := Wire(cfg, logger, builtins, Storage{
		DB:        factory.GetDB(),
		Repos:     factory.NewRepositories(),
		TxManager: factory.GetTransactionManager(),
	})
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	deps.RepoFactory = factory

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// Wire builds the services on top of storage. The returned dependencies own
// running background workers and must be closed.
func Wire(cfg *config.Config, logger *zap.Logger, builtins []access.RouteDefinition, storage Storage) (*Dependencies, error) {
	deps := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		DB:        storage.DB,
		TxManager: storage.TxManager,
		Metrics:   observability.NewMetrics(),
	}
	if storage.Repos != nil {
		deps.Routes = storage.Repos.Routes
		deps.AuditLogs = storage.Repos.AuditLogs
	}

	if err := deps.initBuiltins(cfg, builtins); err != nil {
		return nil, fmt.Errorf("failed to load built-in routes: %w", err)
	}
	if err := deps.initAudit(cfg); err != nil {
		return nil, fmt.Errorf("failed to start audit service: %w", err)
	}
	deps.initCatalog(cfg)
	deps.initGuard()
	deps.initAuth(cfg)
	if err := deps.initGauges(); err != nil {
		_ = deps.Close(context.Background())
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return deps, nil
}

// initBuiltins registers the code-defined routes followed by the manifest routes
func (d *Dependencies) initBuiltins(cfg *config.Config, builtins []access.RouteDefinition) error {
	defs := append([]access.RouteDefinition(nil), builtins...)

	if cfg.Routes.ManifestPath != "" {
		m, err := manifest.LoadFromFile(cfg.Routes.ManifestPath)
		if err != nil {
			return err
		}
		defs = append(defs, m.Routes...)
		d.Logger.Info("route manifest loaded",
			zap.String("path", cfg.Routes.ManifestPath),
			zap.Int("routes", len(m.Routes)))
	}

	registry, err := access.NewRegistry(defs...)
	if err != nil {
		return err
	}
	d.Builtins = registry
	return nil
}

func (d *Dependencies) initAudit(cfg *config.Config) error {
	if d.AuditLogs == nil {
		d.Logger.Warn("no audit repository configured, access audit disabled")
		return nil
	}

	auditCfg := audit.DefaultConfig()
	if cfg.Audit.BufferSize > 0 {
		auditCfg.BufferSize = cfg.Audit.BufferSize
	}
	if cfg.Audit.WorkerCount > 0 {
		auditCfg.WorkerCount = cfg.Audit.WorkerCount
	}

	d.AuditService = audit.NewAuditService(d.AuditLogs, d.Logger, auditCfg)
	return d.AuditService.Start()
}

func (d *Dependencies) initCatalog(cfg *config.Config) {
	d.RouteCache = routes.NewRouteCache(cfg.Routes.CacheSize, cfg.Routes.CacheTTL)
	d.stopCleanup = make(chan struct{})
	if cfg.Routes.CleanupInterval > 0 {
		go d.RouteCache.StartCleanupWorker(cfg.Routes.CleanupInterval, d.stopCleanup)
	}

	d.Catalog = routes.NewCatalog(d.Builtins, d.Routes, d.TxManager, d.RouteCache, d.Logger)
	if d.AuditService != nil {
		d.Catalog.SetRecorder(d.AuditService)
	}
}

func (d *Dependencies) initGuard() {
	var auditor guard.Auditor
	if d.AuditService != nil {
		auditor = d.AuditService
	}
	d.Guard = guard.NewService(d.Catalog, auditor, d.Metrics, d.Logger)
	d.AccessMiddleware = middleware.NewAccessMiddleware(d.Guard, d.Logger)
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWKSURL == "" {
		d.Logger.Warn("token validation not configured, every caller is anonymous")
		d.AuthMiddleware = middleware.NewAuthMiddleware(nil, d.Logger)
		return
	}

	d.TokenValidator = tokens.NewValidator(tokens.Config{
		JWKSURL:     cfg.Auth.JWKSURL,
		Issuer:      cfg.Auth.Issuer,
		Audience:    cfg.Auth.Audience,
		RolesClaim:  cfg.Auth.RolesClaim,
		CacheTTL:    cfg.Auth.JWKSCacheTTL,
		HTTPTimeout: cfg.Auth.HTTPTimeout,
	})
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.TokenValidator, d.Logger)
	d.Logger.Info("token validation enabled",
		zap.String("issuer", cfg.Auth.Issuer),
		zap.String("roles_claim", cfg.Auth.RolesClaim))
}

type gauge struct {
	name  string
	help  string
	value func() float64
}

// initGauges exports the state of the caches and the audit queue
func (d *Dependencies) initGauges() error {
	gauges := []gauge{{
		name:  "routeguard_route_cache_entries",
		help:  "Stored route definitions held in the cache.",
		value: func() float64 { return float64(d.RouteCache.Stats().Size) },
	}}
	if d.AuditService != nil {
		gauges = append(gauges, gauge{
			name:  "routeguard_audit_pending_events",
			help:  "Audit events waiting for a worker.",
			value: func() float64 { return float64(d.AuditService.GetStats().PendingEvents) },
		})
	}
	if stats := d.TokenStats(); stats != nil {
		gauges = append(gauges, gauge{
			name:  "routeguard_signing_keys_cached",
			help:  "Parsed signing keys held in the cache.",
			value: func() float64 { return float64(stats.GetCacheStats().CachedKeys) },
		})
	}

	for _, g := range gauges {
		if err := d.Metrics.RegisterGauge(g.name, g.help, g.value); err != nil {
			return err
		}
	}
	return nil
}

// DatabaseHealth returns the database as a health source, or nil without a database
func (d *Dependencies) DatabaseHealth() interface{ HealthCheck(context.Context) error } {
	if d.DB == nil {
		return nil
	}
	return d.DB
}

// TokenStats returns the signing key cache as a stats source, or nil when
// tokens are not validated
func (d *Dependencies) TokenStats() interface{ GetCacheStats() tokens.CacheStats } {
	stats, ok := d.TokenValidator.(interface{ GetCacheStats() tokens.CacheStats })
	if !ok {
		return nil
	}
	return stats
}

// AuditStats returns the audit service as a stats source, or nil when auditing is disabled
func (d *Dependencies) AuditStats() interface{ GetStats() audit.Stats } {
	if d.AuditService == nil {
		return nil
	}
	return d.AuditService
}

// Close gracefully shuts down all dependencies. Pending audit events are
// drained before the database is closed.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.stopCleanup != nil {
		close(d.stopCleanup)
		d.stopCleanup = nil
	}

	if d.AuditService != nil {
		timeout := d.Config.Audit.StopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}
		if err := d.AuditService.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}
	return nil
}
