// pkg/connector/auditstore.go
package connector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/config"
)

// AuditStoreConnector implements the DatabaseConnector interface for the
// Postgres audit store
type AuditStoreConnector struct {
	db     *sql.DB
	logger *zap.Logger
	cfg    *config.AuditStoreConfig
}

// Tables the engine depends on. Validate fails fast when one is missing
// rather than surfacing the miss as a mid-run query error.
var requiredAuditTables = []string{
	"mdc_validation_config",
	"mdc_validation_result",
	"purge_fix_queue",
}

// NewAuditStoreConnector creates and initializes a new audit store connector
func NewAuditStoreConnector(ctx context.Context, cfg *config.AuditStoreConfig) (*AuditStoreConnector, error) {
	logger := zap.L().Named("auditstore-connector")

	// Log connection attempt
	logger.Info("Connecting to audit store",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.String("user", cfg.User))

	// Open database connection
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit store connection: %w", err)
	}

	// Configure connection pool
	ApplyConnectionSettings(
		db,
		cfg.MaxOpenConns,
		cfg.MaxIdleConns,
		cfg.ConnMaxLifetime,
		cfg.ConnMaxIdleTime,
	)

	// Set statement timeout if configured
	if cfg.StatementTimeout > 0 {
		_, err = db.ExecContext(
			ctx,
			fmt.Sprintf("SET statement_timeout = %d", cfg.StatementTimeout.Milliseconds()),
		)
		if err != nil {
			logger.Warn("Failed to set statement timeout", zap.Error(err))
		}
	}

	// Verify connection
	if err := PingWithTimeout(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to audit store: %w", err)
	}

	connector := &AuditStoreConnector{
		db:     db,
		logger: logger,
		cfg:    cfg,
	}

	LogConnectionStats(logger, cfg.Database, db)
	return connector, nil
}

// DB returns the underlying database connection
func (c *AuditStoreConnector) DB() *sql.DB {
	return c.db
}

// Validate verifies the audit store connection and that the engine's
// tables exist
func (c *AuditStoreConnector) Validate() error {
	// Check database version
	var version string
	err := c.db.QueryRow("SELECT version()").Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to query audit store version: %w", err)
	}
	c.logger.Info("Connected to audit store", zap.String("version", version))

	for _, table := range requiredAuditTables {
		var exists bool
		err := c.db.QueryRow(`
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required audit table %s does not exist", table)
		}
	}

	c.logger.Info("Audit store connection validated",
		zap.String("database", c.cfg.Database),
		zap.String("host", c.cfg.Host),
		zap.Int("port", c.cfg.Port))

	return nil
}

// Close closes the database connection
func (c *AuditStoreConnector) Close() error {
	c.logger.Info("Closing audit store connection")
	LogConnectionStats(c.logger, c.cfg.Database, c.db)
	return c.db.Close()
}

// ExecWithTimeout executes a statement with a timeout
func (c *AuditStoreConnector) ExecWithTimeout(
	ctx context.Context,
	query string,
	timeout time.Duration,
	args ...interface{},
) (sql.Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.ExecContext(queryCtx, query, args...)
}

// QueryWithTimeout executes a query with a timeout
func (c *AuditStoreConnector) QueryWithTimeout(
	ctx context.Context,
	query string,
	timeout time.Duration,
	args ...interface{},
) (*sql.Rows, error) {
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.QueryContext(queryCtx, query, args...)
}
