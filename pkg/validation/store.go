// pkg/validation/store.go
package validation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

// ErrConfigNotFound indicates a config id no longer resolves. Executors
// treat it as a stale or racing registry entry, not a failure.
var ErrConfigNotFound = errors.New("validation config not found")

const configColumns = `
	config_id, owner, table_name, check_kind, active, period_column,
	group_columns, compare_table, compare_source, compare_group_column,
	where_filter, target_column, column_expr, check_query, threshold_pct,
	responsible_email, notes, priority, window_start, window_end,
	created_at, updated_at`

// Store reads the validation config registry and appends result rows in
// the audit store.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore wraps an audit store connection.
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     sqlx.NewDb(db, "postgres"),
		logger: logger,
	}
}

// Config fetches one registry entry by id.
func (s *Store) Config(ctx context.Context, id int64) (*model.ValidationConfig, error) {
	var cfg model.ValidationConfig
	query := fmt.Sprintf(
		"SELECT %s FROM mdc_validation_config WHERE config_id = $1", configColumns)

	if err := s.db.GetContext(ctx, &cfg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrConfigNotFound, id)
		}
		return nil, fmt.Errorf("failed to load validation config %d: %w", id, err)
	}

	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// ActiveConfigs returns every active registry entry, high priority first
// so analysts see critical tables fail early in the run log.
func (s *Store) ActiveConfigs(ctx context.Context) ([]model.ValidationConfig, error) {
	var configs []model.ValidationConfig
	query := fmt.Sprintf(`
		SELECT %s FROM mdc_validation_config
		WHERE active = TRUE
		ORDER BY
			CASE priority WHEN 'HIGH' THEN 0 WHEN 'MEDIUM' THEN 1 ELSE 2 END,
			owner, table_name, config_id`, configColumns)

	if err := s.db.SelectContext(ctx, &configs, query); err != nil {
		return nil, fmt.Errorf("failed to load active validation configs: %w", err)
	}

	for i := range configs {
		applyConfigDefaults(&configs[i])
	}
	return configs, nil
}

// ActiveConfigsForTable returns the active registry entries for one
// table, any owner, case-insensitive.
func (s *Store) ActiveConfigsForTable(ctx context.Context, table string) ([]model.ValidationConfig, error) {
	var configs []model.ValidationConfig
	query := fmt.Sprintf(`
		SELECT %s FROM mdc_validation_config
		WHERE active = TRUE AND UPPER(table_name) = $1
		ORDER BY config_id`, configColumns)

	if err := s.db.SelectContext(ctx, &configs, query, strings.ToUpper(table)); err != nil {
		return nil, fmt.Errorf("failed to load validation configs for table %s: %w", table, err)
	}

	for i := range configs {
		applyConfigDefaults(&configs[i])
	}
	return configs, nil
}

// ResultsForRun returns every result row of one run, worst status
// first, for report assembly.
func (s *Store) ResultsForRun(ctx context.Context, runID string) ([]model.ValidationResult, error) {
	var results []model.ValidationResult
	query := `
		SELECT result_id, run_id, owner, table_name, check_kind, period_id,
		       column_name, group_value, observed_count, prior_count,
		       pct_change, avg_count, pct_change_vs_avg, status, severity,
		       message, responsible_email, compare_table, compare_count,
		       match_status, run_date
		FROM mdc_validation_result
		WHERE run_id = $1
		ORDER BY
			CASE status WHEN 'ERROR' THEN 0 WHEN 'WARNING' THEN 1 ELSE 2 END,
			owner, table_name, period_id`

	if err := s.db.SelectContext(ctx, &results, query, runID); err != nil {
		return nil, fmt.Errorf("failed to load results for run %s: %w", runID, err)
	}
	return results, nil
}

// InsertResult appends one result row. This is the final step of each
// executor's per-period iteration, so failures propagate: a result that
// cannot be recorded means the period must be treated as failed.
func (s *Store) InsertResult(ctx context.Context, res *model.ValidationResult) error {
	if res.RunDate.IsZero() {
		res.RunDate = time.Now()
	}

	query := `
		INSERT INTO mdc_validation_result (
			run_id, owner, table_name, check_kind, period_id,
			column_name, group_value, observed_count, prior_count,
			pct_change, avg_count, pct_change_vs_avg, status, severity,
			message, responsible_email, compare_table, compare_count,
			match_status, run_date
		) VALUES (
			:run_id, :owner, :table_name, :check_kind, :period_id,
			:column_name, :group_value, :observed_count, :prior_count,
			:pct_change, :avg_count, :pct_change_vs_avg, :status, :severity,
			:message, :responsible_email, :compare_table, :compare_count,
			:match_status, :run_date
		)`

	if _, err := s.db.NamedExecContext(ctx, query, res); err != nil {
		return fmt.Errorf("failed to insert validation result for %s.%s period %d: %w",
			res.Owner, res.TableName, res.PeriodID, err)
	}

	s.logger.Debug("Persisted validation result",
		zap.String("table", res.TableName),
		zap.String("kind", string(res.Kind)),
		zap.Int("periodId", res.PeriodID),
		zap.String("status", string(res.Status)))

	return nil
}

// applyConfigDefaults fills registry defaults the population scripts may
// have left null.
func applyConfigDefaults(cfg *model.ValidationConfig) {
	if cfg.PeriodColumn == "" {
		cfg.PeriodColumn = "RPT_PERIOD"
	}
	if cfg.ThresholdPct == 0 {
		cfg.ThresholdPct = model.DefaultThresholdPct
	}
	if cfg.Priority == "" {
		cfg.Priority = model.PriorityMedium
	}
}
