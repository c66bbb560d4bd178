package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskops/policy-core/config"
	"github.com/taskops/policy-core/handlers"
	"github.com/taskops/policy-core/middleware"
	"github.com/taskops/policy-core/repositories"
	"github.com/taskops/policy-core/repositories/postgres"
	"github.com/taskops/policy-core/services/distributor"
	"github.com/taskops/policy-core/services/engine"
	"github.com/taskops/policy-core/services/ledger"
	"github.com/taskops/policy-core/services/registry"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Services
	Ledger      *ledger.Service
	Registry    *registry.Service
	Engine      *engine.Engine
	Distributor *distributor.Distributor

	// Handlers
	DecisionHandler  *handlers.DecisionHandler
	RegistryHandler  *handlers.RegistryHandler
	TelemetryHandler *handlers.TelemetryHandler
	AuditHandler     *handlers.AuditHandler
	HealthHandler    *handlers.HealthHandler

	// Middleware
	ServiceTokenMiddleware *middleware.ServiceTokenMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps.initServices(cfg)
	deps.initHandlers(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connections and the factory
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := factory.InitSchemas(ctx); err != nil {
		return fmt.Errorf("failed to initialize schemas: %w", err)
	}

	d.Repos = factory.NewRepositories()
	d.TxManager = factory.GetTransactionManager()

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initServices wires the ledger, registry, engine and distributor
func (d *Dependencies) initServices(cfg *config.Config) {
	d.Ledger = ledger.NewService(d.Repos.AuditEvents, d.Logger)
	d.Registry = registry.NewService(d.Repos, d.TxManager, d.Ledger, d.Logger)

	d.Engine = engine.New(engine.Config{
		BaselineTaskTypes: cfg.Engine.BaselineTaskTypes,
		ApprovalThreshold: cfg.Engine.ApprovalThreshold,
		DenyThreshold:     cfg.Engine.DenyThreshold,
	})

	d.Distributor = distributor.New(d.Registry, distributor.Config{
		PollInterval: cfg.Distributor.PollInterval,
	}, d.Logger)
}

// initHandlers builds the HTTP handlers on top of the services
func (d *Dependencies) initHandlers(cfg *config.Config) {
	d.DecisionHandler = handlers.NewDecisionHandler(d.Engine, d.Distributor, d.Ledger, d.Logger)
	d.RegistryHandler = handlers.NewRegistryHandler(
		d.Registry,
		d.Distributor,
		cfg.Distributor.ReflectionAttempts,
		cfg.Distributor.ReflectionInterval,
		d.Logger,
	)
	d.TelemetryHandler = handlers.NewTelemetryHandler(d.Repos.Observations, d.Ledger, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.Ledger, d.Logger)

	var sqlDB *sql.DB
	if d.DB != nil {
		sqlDB = d.DB.DB
	}
	d.HealthHandler = handlers.NewHealthHandler(sqlDB, d.Logger)

	d.ServiceTokenMiddleware = middleware.NewServiceTokenMiddleware(
		cfg.Auth.ServiceTokenSecret,
		cfg.Auth.TokenIssuer,
		d.Logger,
	)
}

// Start launches background components
func (d *Dependencies) Start() error {
	if err := d.Distributor.Start(); err != nil {
		return fmt.Errorf("failed to start distributor: %w", err)
	}
	return nil
}

// Shutdown stops background components and closes connections
func (d *Dependencies) Shutdown() error {
	if d.Distributor != nil {
		if err := d.Distributor.Stop(); err != nil {
			d.Logger.Warn("distributor stop failed", zap.Error(err))
		}
	}
	if d.RepoFactory != nil {
		return d.RepoFactory.Close()
	}
	return nil
}
