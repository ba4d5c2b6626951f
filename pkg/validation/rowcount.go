// pkg/validation/rowcount.go
package validation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
	"github.com/dataforgetx/ds-portfolio/pkg/period"
)

// runRowCount validates per-period row counts against the immediately
// prior period. Plain tables get one grouped range query; tables with a
// registered alternate load column use a per-period loop on that
// column; tables with grouping columns get one result per group value.
func (e *Engine) runRowCount(ctx context.Context, cfg *model.ValidationConfig, win period.Window, runID string) error {
	periodCol := cfg.PeriodColumn
	altCol, hasAlt := e.registry.AlternateLoadColumn(cfg.TableName)
	if hasAlt {
		periodCol = altCol
	}

	if groups := cfg.GroupColumnList(); len(groups) > 0 {
		return e.rowCountGrouped(ctx, cfg, win, periodCol, groups, runID)
	}
	if hasAlt {
		return e.rowCountPerPeriod(ctx, cfg, win, periodCol, runID)
	}
	return e.rowCountRange(ctx, cfg, win, periodCol, runID)
}

// rowCountGrouped counts per group value per period. Groups are keyed
// by the concatenated group column values; a group absent from the
// prior period has no baseline and passes.
func (e *Engine) rowCountGrouped(ctx context.Context, cfg *model.ValidationConfig, win period.Window, periodCol string, groups []string, runID string) error {
	query, err := buildGroupedCountAtPeriod(cfg.Owner, cfg.TableName, periodCol, groups, cfg.WhereFilter)
	if err != nil {
		return err
	}

	for p := win.Start; p <= win.End; p++ {
		counts, err := e.groupedCounts(ctx, query, len(groups), p)
		if err != nil {
			e.logger.Error("Grouped row count failed for period, continuing",
				zap.String("table", cfg.FullName()),
				zap.Int("periodId", p),
				zap.Error(err))
			continue
		}

		priorCounts, err := e.groupedCounts(ctx, query, len(groups), p-1)
		if err != nil {
			e.logger.Warn("Prior period grouped counts unavailable",
				zap.String("table", cfg.FullName()),
				zap.Int("periodId", p-1),
				zap.Error(err))
			priorCounts = nil
		}

		for group, observed := range counts {
			var prior *int64
			if priorCount, ok := priorCounts[group]; ok {
				prior = &priorCount
			}

			groupValue := group
			if err := e.persistCountResult(ctx, cfg, p, nil, &groupValue, observed, prior, runID); err != nil {
				e.logger.Error("Failed to persist grouped row count result, continuing",
					zap.String("table", cfg.FullName()),
					zap.String("groupValue", group),
					zap.Int("periodId", p),
					zap.Error(err))
			}
		}
	}

	return nil
}

// groupedCounts runs a grouped count query and keys the counts by the
// pipe-joined group column values.
func (e *Engine) groupedCounts(ctx context.Context, query string, groupCols int, periodID int) (map[string]int64, error) {
	rows, err := e.warehouse.QueryWithTimeout(ctx, query, e.queryTimeout, periodID)
	if err != nil {
		return nil, fmt.Errorf("grouped count query failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	values := make([]sql.NullString, groupCols)
	scanDest := make([]interface{}, 0, groupCols+1)
	for i := range values {
		scanDest = append(scanDest, &values[i])
	}
	var count int64
	scanDest = append(scanDest, &count)

	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return nil, fmt.Errorf("failed to scan grouped count: %w", err)
		}
		parts := make([]string, groupCols)
		for i, v := range values {
			if v.Valid {
				parts[i] = v.String
			}
		}
		counts[strings.Join(parts, "|")] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grouped counts: %w", err)
	}
	return counts, nil
}

// rowCountRange covers the whole window with one grouped query. The
// prior count for the first period of the window is unknown by design:
// the query does not reach before the window, and an undefined baseline
// classifies as Pass.
func (e *Engine) rowCountRange(ctx context.Context, cfg *model.ValidationConfig, win period.Window, periodCol, runID string) error {
	query, err := buildCountByPeriodRange(cfg.Owner, cfg.TableName, periodCol, cfg.WhereFilter)
	if err != nil {
		return err
	}

	rows, err := e.warehouse.QueryWithTimeout(ctx, query, e.queryTimeout, win.Start, win.End)
	if err != nil {
		return fmt.Errorf("row count query failed for %s: %w", cfg.FullName(), err)
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var periodID int
		var count int64
		if err := rows.Scan(&periodID, &count); err != nil {
			return fmt.Errorf("failed to scan row count for %s: %w", cfg.FullName(), err)
		}
		counts[periodID] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating row counts for %s: %w", cfg.FullName(), err)
	}

	for p := win.Start; p <= win.End; p++ {
		observed := counts[p]

		var prior *int64
		if p > win.Start {
			priorCount := counts[p-1]
			prior = &priorCount
		}

		if err := e.persistCountResult(ctx, cfg, p, nil, nil, observed, prior, runID); err != nil {
			e.logger.Error("Failed to persist row count result, continuing",
				zap.String("table", cfg.FullName()),
				zap.Int("periodId", p),
				zap.Error(err))
		}
	}

	return nil
}

// rowCountPerPeriod counts each period and its predecessor individually.
// One bad period is logged and skipped, never aborts the entry.
func (e *Engine) rowCountPerPeriod(ctx context.Context, cfg *model.ValidationConfig, win period.Window, periodCol, runID string) error {
	query, err := buildCountAtPeriod(cfg.Owner, cfg.TableName, periodCol, cfg.WhereFilter, nil)
	if err != nil {
		return err
	}

	for p := win.Start; p <= win.End; p++ {
		observed, err := e.singleCount(ctx, query, p)
		if err != nil {
			e.logger.Error("Row count failed for period, continuing",
				zap.String("table", cfg.FullName()),
				zap.Int("periodId", p),
				zap.Error(err))
			continue
		}

		var prior *int64
		priorCount, err := e.singleCount(ctx, query, p-1)
		if err != nil {
			e.logger.Warn("Prior period count unavailable",
				zap.String("table", cfg.FullName()),
				zap.Int("periodId", p-1),
				zap.Error(err))
		} else {
			prior = &priorCount
		}

		if err := e.persistCountResult(ctx, cfg, p, nil, nil, observed, prior, runID); err != nil {
			e.logger.Error("Failed to persist row count result, continuing",
				zap.String("table", cfg.FullName()),
				zap.Int("periodId", p),
				zap.Error(err))
		}
	}

	return nil
}

// persistCountResult classifies a count against its prior and appends
// one result row. Shared by the row count and distinct count executors.
func (e *Engine) persistCountResult(
	ctx context.Context,
	cfg *model.ValidationConfig,
	periodID int,
	columnName *string,
	groupValue *string,
	observed int64,
	prior *int64,
	runID string,
) error {
	var pctPtr *float64
	message := "no prior period baseline"
	if pct, ok := PctChangeCounts(observed, prior); ok {
		bounded := ClampPct(pct)
		pctPtr = &bounded
		message = fmt.Sprintf("count %d vs prior %d (%.2f%%)", observed, *prior, bounded)
	}

	status, severity := Classify(pctPtr, cfg.ThresholdPct)

	return e.store.InsertResult(ctx, &model.ValidationResult{
		RunID:         runID,
		Owner:         cfg.Owner,
		TableName:     cfg.TableName,
		Kind:          cfg.Kind,
		PeriodID:      periodID,
		ColumnName:    columnName,
		GroupValue:    groupValue,
		ObservedCount: observed,
		PriorCount:    prior,
		PctChange:     pctPtr,
		Status:        status,
		Severity:      severity,
		Message:       message,
		Email:         cfg.Email,
	})
}
