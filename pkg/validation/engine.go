// pkg/validation/engine.go
package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/catalog"
	"github.com/dataforgetx/ds-portfolio/pkg/config"
	"github.com/dataforgetx/ds-portfolio/pkg/connector"
	"github.com/dataforgetx/ds-portfolio/pkg/model"
	"github.com/dataforgetx/ds-portfolio/pkg/period"
)

// Engine drives a validation run: it walks the config registry, computes
// each table's time window, executes the configured check, and persists
// classified results. Failures are contained at the smallest unit that
// makes sense, one period or one config entry, and only a run-level
// failure (no determinable current period) surfaces to the caller.
type Engine struct {
	store              *Store
	warehouse          connector.DatabaseConnector
	resolver           *period.Resolver
	catalog            catalog.Service
	registry           *config.Registry
	logger             *zap.Logger
	queryTimeout       time.Duration
	maxCheckQueryBytes int
}

// NewEngine creates a validation engine.
func NewEngine(
	store *Store,
	warehouse connector.DatabaseConnector,
	resolver *period.Resolver,
	catalogSvc catalog.Service,
	registry *config.Registry,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		store:              store,
		warehouse:          warehouse,
		resolver:           resolver,
		catalog:            catalogSvc,
		registry:           registry,
		logger:             logger,
		queryTimeout:       5 * time.Minute,
		maxCheckQueryBytes: 32 * 1024,
	}
}

// WithQueryTimeout sets the per-query timeout for warehouse counts.
func (e *Engine) WithQueryTimeout(timeout time.Duration) *Engine {
	e.queryTimeout = timeout
	return e
}

// WithMaxCheckQueryBytes sets the size limit for data-validation query
// text. Oversized queries are rejected with an Error result, never
// silently truncated.
func (e *Engine) WithMaxCheckQueryBytes(n int) *Engine {
	e.maxCheckQueryBytes = n
	return e
}

// RunOptions controls a validation run.
type RunOptions struct {
	// Window overrides the resolver's default window when set.
	Window *period.Window

	// GenerateReport marks the run summary as report-worthy; the caller
	// owns dispatching it.
	GenerateReport bool
}

// EntryError records one config entry whose executor failed outright.
type EntryError struct {
	ConfigID int64
	Owner    string
	Table    string
	Kind     model.CheckKind
	Err      error
}

// RunSummary is the operator-facing outcome of one validation run.
type RunSummary struct {
	RunID          string
	Window         period.Window
	Entries        int
	Failed         []EntryError
	StartTime      time.Time
	Duration       time.Duration
	GenerateReport bool
}

// RunAll executes every active config entry. A failed entry is counted
// and logged, never fatal; the only fatal condition is an unresolvable
// current period.
func (e *Engine) RunAll(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	configs, err := e.store.ActiveConfigs(ctx)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, configs, opts)
}

// RunTable executes all active config entries for one table,
// auto-discovered from the registry.
func (e *Engine) RunTable(ctx context.Context, table string, opts RunOptions) (*RunSummary, error) {
	configs, err := e.store.ActiveConfigsForTable(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		e.logger.Warn("No active validation configs for table", zap.String("table", table))
	}
	return e.run(ctx, configs, opts)
}

func (e *Engine) run(ctx context.Context, configs []model.ValidationConfig, opts RunOptions) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:          uuid.New().String(),
		StartTime:      time.Now(),
		GenerateReport: opts.GenerateReport,
	}

	var win period.Window
	if opts.Window != nil {
		win = *opts.Window
	} else {
		var err error
		win, err = e.resolver.Window(ctx)
		if err != nil {
			// Run-level failure: without a current period nothing can
			// be validated. Log and re-raise.
			e.logger.Error("Cannot determine validation window", zap.Error(err))
			return nil, err
		}
	}
	summary.Window = win

	e.logger.Info("Starting validation run",
		zap.String("runId", summary.RunID),
		zap.Int("basePeriod", win.Start),
		zap.Int("currentPeriod", win.End),
		zap.Int("configs", len(configs)))

	for i := range configs {
		cfg := &configs[i]
		summary.Entries++

		entryWin := e.resolver.TableWindow(cfg, win)
		if err := e.executeConfig(ctx, cfg, entryWin, summary.RunID); err != nil {
			summary.Failed = append(summary.Failed, EntryError{
				ConfigID: cfg.ID,
				Owner:    cfg.Owner,
				Table:    cfg.TableName,
				Kind:     cfg.Kind,
				Err:      err,
			})
			e.logger.Error("Validation config entry failed",
				zap.Int64("configId", cfg.ID),
				zap.String("owner", cfg.Owner),
				zap.String("table", cfg.TableName),
				zap.String("kind", string(cfg.Kind)),
				zap.Error(err))
		}
	}

	summary.Duration = time.Since(summary.StartTime)
	e.logger.Info("Validation run completed",
		zap.String("runId", summary.RunID),
		zap.Int("entries", summary.Entries),
		zap.Int("failed", len(summary.Failed)),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// ExecuteCheck runs one check by config id. A config id that no longer
// resolves is a logged no-op: the registry row raced away between
// discovery and execution.
func (e *Engine) ExecuteCheck(ctx context.Context, configID int64, win period.Window, runID string) error {
	cfg, err := e.store.Config(ctx, configID)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			e.logger.Warn("Validation config disappeared, skipping",
				zap.Int64("configId", configID))
			return nil
		}
		return err
	}
	return e.executeConfig(ctx, cfg, win, runID)
}

func (e *Engine) executeConfig(ctx context.Context, cfg *model.ValidationConfig, win period.Window, runID string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.logger.Debug("Executing check",
		zap.Int64("configId", cfg.ID),
		zap.String("table", cfg.FullName()),
		zap.String("kind", string(cfg.Kind)),
		zap.Int("periodStart", win.Start),
		zap.Int("periodEnd", win.End))

	switch cfg.Kind {
	case model.CheckRowCount:
		return e.runRowCount(ctx, cfg, win, runID)
	case model.CheckColumnCount:
		return e.runColumnCount(ctx, cfg, win, runID)
	case model.CheckTableCompare:
		return e.runTableCompare(ctx, cfg, win, runID)
	case model.CheckDistinctCount:
		return e.runDistinctCount(ctx, cfg, win, runID)
	case model.CheckDataValidation:
		return e.runDataValidation(ctx, cfg, win, runID)
	}
	return fmt.Errorf("unknown check kind %q", cfg.Kind)
}

// singleCount runs a count query expected to return exactly one row with
// one numeric column.
func (e *Engine) singleCount(ctx context.Context, query string, args ...interface{}) (int64, error) {
	rows, err := e.warehouse.QueryWithTimeout(ctx, query, e.queryTimeout, args...)
	if err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("error reading count: %w", err)
		}
		return 0, fmt.Errorf("count query returned no rows")
	}

	var count int64
	if err := rows.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to scan count: %w", err)
	}
	return count, nil
}
