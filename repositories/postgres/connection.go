package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/taskops/policy-core/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the registry schema: rules, revisions and the
// publish log. The audit chain lives in InitAuditSchema so it can be pointed
// at a separate database.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Policy rules: one allow-list entry per uniqueness key.
		CREATE TABLE IF NOT EXISTS policy_rules (
			id UUID PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL,
			task_type VARCHAR(255) NOT NULL,
			tenant_id VARCHAR(255) NOT NULL,
			scope_pattern VARCHAR(255) NOT NULL,
			constraints JSONB,
			enabled BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(workflow_id, task_type, tenant_id, scope_pattern)
		);

		-- Policy revisions: immutable snapshots, at most one active.
		CREATE TABLE IF NOT EXISTS policy_revisions (
			id UUID PRIMARY KEY,
			revision_id VARCHAR(255) NOT NULL UNIQUE,
			status VARCHAR(50) NOT NULL,
			payload JSONB NOT NULL,
			author VARCHAR(255) NOT NULL,
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			published_at TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT false
		);

		-- Append-only log of registry publish/rollback actions.
		CREATE TABLE IF NOT EXISTS publish_log (
			id UUID PRIMARY KEY,
			revision_id VARCHAR(255) NOT NULL,
			action VARCHAR(50) NOT NULL,
			actor VARCHAR(255) NOT NULL,
			result VARCHAR(50) NOT NULL,
			details TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Execution telemetry feed backing candidates().
		CREATE TABLE IF NOT EXISTS task_observations (
			task_type VARCHAR(255) NOT NULL,
			workflow_id VARCHAR(255) NOT NULL,
			count BIGINT NOT NULL DEFAULT 0,
			last_seen TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (task_type, workflow_id)
		);

		CREATE INDEX IF NOT EXISTS idx_policy_rules_task_type ON policy_rules(task_type);
		CREATE INDEX IF NOT EXISTS idx_policy_rules_enabled ON policy_rules(enabled);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_policy_revisions_single_active
			ON policy_revisions(is_active) WHERE is_active;
		CREATE INDEX IF NOT EXISTS idx_publish_log_revision_id ON publish_log(revision_id);
		CREATE INDEX IF NOT EXISTS idx_task_observations_last_seen ON task_observations(last_seen);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitAuditSchema initializes the audit event chain. Run against the main
// database, or against a separate audit database when one is configured.
func (db *DB) InitAuditSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_events (
			id UUID PRIMARY KEY,
			actor VARCHAR(255) NOT NULL,
			action VARCHAR(100) NOT NULL,
			target VARCHAR(255) NOT NULL,
			decision VARCHAR(50) NOT NULL DEFAULT '',
			policy_id VARCHAR(255) NOT NULL DEFAULT '',
			policy_version VARCHAR(255) NOT NULL DEFAULT '',
			risk_score INTEGER NOT NULL DEFAULT 0,
			request_id VARCHAR(255) NOT NULL DEFAULT '',
			prev_hash VARCHAR(64) NOT NULL DEFAULT '',
			event_hash VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		-- Every record chains from exactly one predecessor hash (the genesis
		-- record from the empty string), so two writers racing for the same
		-- tail cannot both commit.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_events_prev_hash ON audit_events(prev_hash);
		CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_events_request_id ON audit_events(request_id);
		CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}
