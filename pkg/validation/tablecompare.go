// pkg/validation/tablecompare.go
package validation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
	"github.com/dataforgetx/ds-portfolio/pkg/period"
)

// runTableCompare compares the target table's row count against its
// configured counterpart at the current period. Tables grouped by a
// load timestamp, and entries carrying an explicit compare group
// column, cannot be sliced by a shared period id, so they fall back to
// a total-count comparison of both sides.
func (e *Engine) runTableCompare(ctx context.Context, cfg *model.ValidationConfig, win period.Window, runID string) error {
	if cfg.CompareTable == nil || *cfg.CompareTable == "" {
		return fmt.Errorf("table compare config %d for %s has no compare table", cfg.ID, cfg.FullName())
	}
	compareTable := *cfg.CompareTable

	simplified := cfg.CompareGroup != nil && *cfg.CompareGroup != ""
	if e.registry.IsLoadTimestampTable(cfg.TableName) || e.registry.IsLoadTimestampTable(compareTable) {
		simplified = true
	}

	var observed, compared int64
	var err error
	if simplified {
		observed, compared, err = e.compareTotals(ctx, cfg, compareTable)
	} else {
		observed, compared, err = e.compareAtPeriod(ctx, cfg, compareTable, win.End)
	}
	if err != nil {
		return err
	}

	matched := observed == compared
	matchStatus := "MATCH"
	status := model.StatusPass
	severity := model.SeverityLow
	message := fmt.Sprintf("Match: %d rows on both sides", observed)
	if !matched {
		matchStatus = "NO_MATCH"
		status = model.StatusError
		severity = model.SeverityHigh
		diff := observed - compared
		if diff < 0 {
			diff = -diff
		}
		message = fmt.Sprintf("No match: %d vs %s %d (diff %d)",
			observed, compareTable, compared, diff)
	}

	e.logger.Debug("Table comparison finished",
		zap.String("table", cfg.FullName()),
		zap.String("compareTable", compareTable),
		zap.Bool("simplified", simplified),
		zap.Bool("matched", matched))

	compareCount := compared
	return e.store.InsertResult(ctx, &model.ValidationResult{
		RunID:         runID,
		Owner:         cfg.Owner,
		TableName:     cfg.TableName,
		Kind:          cfg.Kind,
		PeriodID:      win.End,
		ObservedCount: observed,
		Status:        status,
		Severity:      severity,
		Message:       message,
		Email:         cfg.Email,
		CompareTable:  &compareTable,
		CompareCount:  &compareCount,
		MatchStatus:   &matchStatus,
	})
}

// compareAtPeriod counts both sides at one period id, assuming the
// counterpart shares the target's period column.
func (e *Engine) compareAtPeriod(ctx context.Context, cfg *model.ValidationConfig, compareTable string, periodID int) (int64, int64, error) {
	targetQuery, err := buildCountAtPeriod(cfg.Owner, cfg.TableName, cfg.PeriodColumn, cfg.WhereFilter, nil)
	if err != nil {
		return 0, 0, err
	}
	compareQuery, err := buildCountAtPeriod(cfg.Owner, compareTable, cfg.PeriodColumn, nil, cfg.CompareSource)
	if err != nil {
		return 0, 0, err
	}

	observed, err := e.singleCount(ctx, targetQuery, periodID)
	if err != nil {
		return 0, 0, fmt.Errorf("target count failed for %s: %w", cfg.FullName(), err)
	}
	compared, err := e.singleCount(ctx, compareQuery, periodID)
	if err != nil {
		return 0, 0, fmt.Errorf("compare count failed for %s: %w", compareTable, err)
	}
	return observed, compared, nil
}

// compareTotals counts both sides without a period slice.
func (e *Engine) compareTotals(ctx context.Context, cfg *model.ValidationConfig, compareTable string) (int64, int64, error) {
	targetQuery, err := buildTotalCount(cfg.Owner, cfg.TableName, cfg.WhereFilter, nil)
	if err != nil {
		return 0, 0, err
	}
	compareQuery, err := buildTotalCount(cfg.Owner, compareTable, nil, cfg.CompareSource)
	if err != nil {
		return 0, 0, err
	}

	observed, err := e.singleCount(ctx, targetQuery)
	if err != nil {
		return 0, 0, fmt.Errorf("target total count failed for %s: %w", cfg.FullName(), err)
	}
	compared, err := e.singleCount(ctx, compareQuery)
	if err != nil {
		return 0, 0, fmt.Errorf("compare total count failed for %s: %w", compareTable, err)
	}
	return observed, compared, nil
}
