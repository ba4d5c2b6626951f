// pkg/remediation/purger.go
package remediation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/connector"
)

// Purger executes the forced purge of retained rows for one destination
// table inside an open tablespace episode.
type Purger interface {
	Purge(ctx context.Context, owner, destination string, episodeID string) (int64, error)
}

// ProcedurePurger invokes the warehouse's forced-purge stored procedure,
// which deletes destination rows keyed by the table's purge definition
// and records the episode against the deletion for audit.
type ProcedurePurger struct {
	warehouse   connector.DatabaseConnector
	logger      *zap.Logger
	execTimeout time.Duration
}

// NewProcedurePurger creates the procedure-backed purger.
func NewProcedurePurger(warehouse connector.DatabaseConnector, logger *zap.Logger) *ProcedurePurger {
	return &ProcedurePurger{
		warehouse:   warehouse,
		logger:      logger,
		execTimeout: 30 * time.Minute,
	}
}

// WithExecTimeout sets the purge procedure timeout. Large backlogs on
// wide tables can run long.
func (p *ProcedurePurger) WithExecTimeout(timeout time.Duration) *ProcedurePurger {
	p.execTimeout = timeout
	return p
}

// Purge runs the forced purge and returns the number of rows removed.
func (p *ProcedurePurger) Purge(ctx context.Context, owner, destination, episodeID string) (int64, error) {
	p.logger.Info("Executing forced purge",
		zap.String("table", destination),
		zap.String("episodeId", episodeID))

	rows, err := p.warehouse.QueryWithTimeout(ctx,
		"CALL MDC_FORCED_PURGE(?, ?, ?)",
		p.execTimeout, owner, destination, episodeID)
	if err != nil {
		return 0, fmt.Errorf("forced purge failed for %s.%s: %w", owner, destination, err)
	}
	defer rows.Close()

	var purged int64
	if rows.Next() {
		if err := rows.Scan(&purged); err != nil {
			return 0, fmt.Errorf("failed to scan purge row count for %s: %w", destination, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error reading purge result for %s: %w", destination, err)
	}

	p.logger.Info("Forced purge completed",
		zap.String("table", destination),
		zap.Int64("rowsPurged", purged))
	return purged, nil
}
