// pkg/validation/distinctcount.go
package validation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
	"github.com/dataforgetx/ds-portfolio/pkg/period"
)

// runDistinctCount tracks the distinct cardinality of one column, or of
// a configured conditional expression over it, per period against the
// prior period. Shares classification and persistence with the row
// count executor.
func (e *Engine) runDistinctCount(ctx context.Context, cfg *model.ValidationConfig, win period.Window, runID string) error {
	if cfg.TargetColumn == nil || *cfg.TargetColumn == "" {
		return fmt.Errorf("distinct count config %d for %s has no target column", cfg.ID, cfg.FullName())
	}
	column := *cfg.TargetColumn

	query, err := buildDistinctCountAtPeriod(
		cfg.Owner, cfg.TableName, cfg.PeriodColumn, column, cfg.ColumnExpr, cfg.WhereFilter)
	if err != nil {
		return err
	}

	for p := win.Start; p <= win.End; p++ {
		observed, err := e.singleCount(ctx, query, p)
		if err != nil {
			e.logger.Error("Distinct count failed for period, continuing",
				zap.String("table", cfg.FullName()),
				zap.String("column", column),
				zap.Int("periodId", p),
				zap.Error(err))
			continue
		}

		var prior *int64
		priorCount, err := e.singleCount(ctx, query, p-1)
		if err != nil {
			e.logger.Warn("Prior period distinct count unavailable",
				zap.String("table", cfg.FullName()),
				zap.String("column", column),
				zap.Int("periodId", p-1),
				zap.Error(err))
		} else {
			prior = &priorCount
		}

		if err := e.persistCountResult(ctx, cfg, p, &column, nil, observed, prior, runID); err != nil {
			e.logger.Error("Failed to persist distinct count result, continuing",
				zap.String("table", cfg.FullName()),
				zap.String("column", column),
				zap.Int("periodId", p),
				zap.Error(err))
		}
	}

	return nil
}
