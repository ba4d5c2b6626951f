// pkg/validation/columncount.go
package validation

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
	"github.com/dataforgetx/ds-portfolio/pkg/period"
)

// rollingPeriods is the trailing average depth for the column count
// check: a full year of monthly loads.
const rollingPeriods = 12

// runColumnCount counts non-null values per column per period and
// classifies against both the prior period and, when a full year of
// history exists, the trailing 12-period average. Whichever deviates
// more decides the status. LOB columns and registry-excluded audit
// columns are skipped.
func (e *Engine) runColumnCount(ctx context.Context, cfg *model.ValidationConfig, win period.Window, runID string) error {
	meta, err := e.catalog.Columns(ctx, cfg.Owner, cfg.TableName)
	if err != nil {
		return fmt.Errorf("catalog introspection failed for %s: %w", cfg.FullName(), err)
	}

	columns := make([]model.Column, 0, len(meta.Columns))
	for _, col := range meta.Columns {
		if col.IsLOB() || e.registry.IsExcludedColumn(col.Name) {
			continue
		}
		if strings.EqualFold(col.Name, cfg.PeriodColumn) {
			continue // counting the period column is the row count check
		}
		columns = append(columns, col)
	}

	if len(columns) == 0 {
		e.logger.Warn("No countable columns for table",
			zap.String("table", cfg.FullName()))
		return nil
	}

	counter := newColumnCounter(e, cfg)

	for p := win.Start; p <= win.End; p++ {
		for _, col := range columns {
			if err := e.columnCountOne(ctx, cfg, counter, col.Name, p, runID); err != nil {
				e.logger.Error("Column count failed for period, continuing",
					zap.String("table", cfg.FullName()),
					zap.String("column", col.Name),
					zap.Int("periodId", p),
					zap.Error(err))
			}
		}
	}

	return nil
}

func (e *Engine) columnCountOne(
	ctx context.Context,
	cfg *model.ValidationConfig,
	counter *columnCounter,
	column string,
	periodID int,
	runID string,
) error {
	observed, err := counter.count(ctx, column, periodID)
	if err != nil {
		return err
	}

	var prior *int64
	priorCount, err := counter.count(ctx, column, periodID-1)
	if err != nil {
		e.logger.Warn("Prior period column count unavailable",
			zap.String("table", cfg.FullName()),
			zap.String("column", column),
			zap.Int("periodId", periodID-1),
			zap.Error(err))
	} else {
		prior = &priorCount
	}

	var pctPrior *float64
	if pct, ok := PctChangeCounts(observed, prior); ok {
		bounded := ClampPct(pct)
		pctPrior = &bounded
	}

	// Trailing average only when twelve consecutive loaded periods end
	// at this one.
	var avgPtr, pctAvgPtr *float64
	avg, ok, err := counter.rollingAverage(ctx, column, periodID)
	if err != nil {
		e.logger.Warn("Rolling average unavailable",
			zap.String("table", cfg.FullName()),
			zap.String("column", column),
			zap.Int("periodId", periodID),
			zap.Error(err))
	} else if ok {
		avgPtr = &avg
		if pct, defined := PctChange(float64(observed), avg); defined {
			bounded := ClampPct(pct)
			pctAvgPtr = &bounded
		}
	}

	// Worst-case selection: classify on whichever deviation is larger.
	classifyOn := pctPrior
	if pctAvgPtr != nil && (classifyOn == nil || math.Abs(*pctAvgPtr) > math.Abs(*classifyOn)) {
		classifyOn = pctAvgPtr
	}
	status, severity := Classify(classifyOn, cfg.ThresholdPct)

	message := columnCountMessage(observed, prior, pctPrior, avgPtr, pctAvgPtr)

	return e.store.InsertResult(ctx, &model.ValidationResult{
		RunID:          runID,
		Owner:          cfg.Owner,
		TableName:      cfg.TableName,
		Kind:           cfg.Kind,
		PeriodID:       periodID,
		ColumnName:     &column,
		ObservedCount:  observed,
		PriorCount:     prior,
		PctChange:      pctPrior,
		AvgCount:       avgPtr,
		PctChangeVsAvg: pctAvgPtr,
		Status:         status,
		Severity:       severity,
		Message:        message,
		Email:          cfg.Email,
	})
}

func columnCountMessage(observed int64, prior *int64, pctPrior, avg, pctAvg *float64) string {
	msg := fmt.Sprintf("non-null count %d", observed)
	if prior != nil && pctPrior != nil {
		msg += fmt.Sprintf(", prior %d (%.2f%%)", *prior, *pctPrior)
	} else {
		msg += ", no prior baseline"
	}
	if avg != nil && pctAvg != nil {
		msg += fmt.Sprintf(", 12-period avg %.1f (%.2f%%)", *avg, *pctAvg)
	}
	return msg
}

// columnCounter memoizes per-column and per-period counts so the
// rolling average does not requery periods the window already visited.
type columnCounter struct {
	engine    *Engine
	cfg       *model.ValidationConfig
	colCounts map[string]map[int]int64
	rowCounts map[int]int64
}

func newColumnCounter(e *Engine, cfg *model.ValidationConfig) *columnCounter {
	return &columnCounter{
		engine:    e,
		cfg:       cfg,
		colCounts: make(map[string]map[int]int64),
		rowCounts: make(map[int]int64),
	}
}

// count returns the non-null count of a column at one period, memoized.
func (c *columnCounter) count(ctx context.Context, column string, periodID int) (int64, error) {
	if periods, ok := c.colCounts[column]; ok {
		if n, ok := periods[periodID]; ok {
			return n, nil
		}
	}

	query, err := buildNonNullCountAtPeriod(
		c.cfg.Owner, c.cfg.TableName, c.cfg.PeriodColumn, column, c.cfg.WhereFilter)
	if err != nil {
		return 0, err
	}

	n, err := c.engine.singleCount(ctx, query, periodID)
	if err != nil {
		return 0, err
	}

	if c.colCounts[column] == nil {
		c.colCounts[column] = make(map[int]int64)
	}
	c.colCounts[column][periodID] = n
	return n, nil
}

// loaded reports whether the table has any rows at a period, memoized.
func (c *columnCounter) loaded(ctx context.Context, periodID int) (bool, error) {
	if n, ok := c.rowCounts[periodID]; ok {
		return n > 0, nil
	}

	query, err := buildCountAtPeriod(
		c.cfg.Owner, c.cfg.TableName, c.cfg.PeriodColumn, c.cfg.WhereFilter, nil)
	if err != nil {
		return false, err
	}

	n, err := c.engine.singleCount(ctx, query, periodID)
	if err != nil {
		return false, err
	}
	c.rowCounts[periodID] = n
	return n > 0, nil
}

// rollingAverage returns the mean non-null count over the 12 periods
// ending at periodID. ok=false when any of those periods has no load:
// a gap breaks the consecutive-history requirement.
func (c *columnCounter) rollingAverage(ctx context.Context, column string, periodID int) (float64, bool, error) {
	var sum int64
	for p := periodID - rollingPeriods + 1; p <= periodID; p++ {
		hasLoad, err := c.loaded(ctx, p)
		if err != nil {
			return 0, false, err
		}
		if !hasLoad {
			return 0, false, nil
		}

		n, err := c.count(ctx, column, p)
		if err != nil {
			return 0, false, err
		}
		sum += n
	}

	return float64(sum) / rollingPeriods, true, nil
}
