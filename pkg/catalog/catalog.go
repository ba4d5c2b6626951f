// pkg/catalog/catalog.go
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/connector"
	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

// Service lists the columns of a warehouse table. The column-count check
// and the query builder's identifier allow-list are built on it.
type Service interface {
	Columns(ctx context.Context, owner, table string) (*model.TableMetadata, error)
}

// SQLCatalog implements Service against the warehouse information schema.
type SQLCatalog struct {
	warehouse    connector.DatabaseConnector
	logger       *zap.Logger
	queryTimeout time.Duration
}

// NewSQLCatalog creates a catalog service over the warehouse connection.
func NewSQLCatalog(warehouse connector.DatabaseConnector, logger *zap.Logger) *SQLCatalog {
	return &SQLCatalog{
		warehouse:    warehouse,
		logger:       logger,
		queryTimeout: time.Minute,
	}
}

// Columns retrieves column metadata for a table in ordinal order.
func (c *SQLCatalog) Columns(ctx context.Context, owner, table string) (*model.TableMetadata, error) {
	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			IS_NULLABLE
		FROM
			INFORMATION_SCHEMA.COLUMNS
		WHERE
			TABLE_SCHEMA = ? AND
			TABLE_NAME = ?
		ORDER BY
			ORDINAL_POSITION
	`

	rows, err := c.warehouse.QueryWithTimeout(ctx, query, c.queryTimeout,
		strings.ToUpper(owner), strings.ToUpper(table))
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer rows.Close()

	columns := make([]model.Column, 0)
	for rows.Next() {
		var (
			name       string
			dataType   string
			isNullable string
		)

		if err := rows.Scan(&name, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}

		columns = append(columns, model.Column{
			Name:     name,
			DataType: dataType,
			Nullable: isNullable == "YES",
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s has no columns in catalog", owner, table)
	}

	c.logger.Debug("Retrieved table metadata",
		zap.String("owner", owner),
		zap.String("table", table),
		zap.Int("columns", len(columns)))

	return &model.TableMetadata{
		Owner:   owner,
		Table:   table,
		Columns: columns,
	}, nil
}
