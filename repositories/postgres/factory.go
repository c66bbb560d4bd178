package postgres

import (
	"context"

	"github.com/taskops/policy-core/config"
	"github.com/taskops/policy-core/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db      *DB
	auditDB *DB // Optional: separate DB for the audit ledger
	logger  *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{db: db, logger: logger}

	if cfg.AuditDatabase != nil {
		auditDB, err := NewDB(*cfg.AuditDatabase, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		f.auditDB = auditDB
	}

	return f, nil
}

// InitSchemas initializes the registry schema, and the audit schema on
// whichever database holds the ledger.
func (f *RepositoryFactory) InitSchemas(ctx context.Context) error {
	if err := f.db.InitSchema(ctx); err != nil {
		return err
	}
	auditDB := f.db
	if f.auditDB != nil {
		auditDB = f.auditDB
	}
	return auditDB.InitAuditSchema(ctx)
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	auditDB := f.db
	if f.auditDB != nil {
		auditDB = f.auditDB
	}
	return &repositories.Repositories{
		Rules:        NewRuleRepository(f.db, f.logger),
		Revisions:    NewRevisionRepository(f.db, f.logger),
		PublishLog:   NewPublishLogRepository(f.db, f.logger),
		AuditEvents:  NewAuditEventRepository(auditDB, f.logger),
		Observations: NewObservationRepository(f.db, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.auditDB != nil {
		_ = f.auditDB.Close()
	}
	return f.db.Close()
}
