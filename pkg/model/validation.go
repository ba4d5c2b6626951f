package model

import (
	"fmt"
	"strings"
	"time"
)

// CheckKind identifies which executor consumes a validation config entry.
type CheckKind string

const (
	CheckRowCount       CheckKind = "ROW_COUNT"
	CheckColumnCount    CheckKind = "COLUMN_COUNT"
	CheckTableCompare   CheckKind = "TABLE_COMPARE"
	CheckDistinctCount  CheckKind = "DISTINCT_COUNT"
	CheckDataValidation CheckKind = "DATA_VALIDATION"
)

// Valid reports whether the kind is one of the five known check kinds.
func (k CheckKind) Valid() bool {
	switch k {
	case CheckRowCount, CheckColumnCount, CheckTableCompare, CheckDistinctCount, CheckDataValidation:
		return true
	}
	return false
}

// Status classifies a validation outcome.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusWarning Status = "WARNING"
	StatusError   Status = "ERROR"
)

// Severity accompanies a status; the classifier keeps the two in lockstep.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Rank orders severities for monotonicity checks (Low < Medium < High).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	}
	return -1
}

// Priority is the analyst-facing triage priority of a config entry.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// DefaultThresholdPct is the percentage-change threshold applied when a
// config entry does not carry its own.
const DefaultThresholdPct = 10.0

// ValidationConfig is one row of the validation configuration registry:
// one (table, kind, optional dimension) to check each run.
type ValidationConfig struct {
	ID            int64     `db:"config_id"`
	Owner         string    `db:"owner"`
	TableName     string    `db:"table_name"`
	Kind          CheckKind `db:"check_kind"`
	Active        bool      `db:"active"`
	PeriodColumn  string    `db:"period_column"`
	GroupColumns  *string   `db:"group_columns"` // comma-separated
	CompareTable  *string   `db:"compare_table"`
	CompareSource *string   `db:"compare_source"` // external source link qualifier
	CompareGroup  *string   `db:"compare_group_column"`
	WhereFilter   *string   `db:"where_filter"`
	TargetColumn  *string   `db:"target_column"`    // distinct-count column
	ColumnExpr    *string   `db:"column_expr"`      // optional conditional expression
	CheckQuery    *string   `db:"check_query"`      // data-validation query text
	ThresholdPct  float64   `db:"threshold_pct"`    // 0-100
	Email         string    `db:"responsible_email"`
	Notes         *string   `db:"notes"`
	Priority      Priority  `db:"priority"`
	WindowStart   *int      `db:"window_start"` // explicit period override
	WindowEnd     *int      `db:"window_end"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// GroupColumnList splits the comma-separated grouping columns, trimmed,
// empty entries dropped.
func (c *ValidationConfig) GroupColumnList() []string {
	if c.GroupColumns == nil || strings.TrimSpace(*c.GroupColumns) == "" {
		return nil
	}
	parts := strings.Split(*c.GroupColumns, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cols = append(cols, p)
		}
	}
	return cols
}

// FullName returns the owner-qualified table name.
func (c *ValidationConfig) FullName() string {
	return fmt.Sprintf("%s.%s", c.Owner, c.TableName)
}

// Validate enforces the registry invariants before an entry is used.
func (c *ValidationConfig) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("unknown check kind %q for %s", c.Kind, c.FullName())
	}
	if c.ThresholdPct < 0 || c.ThresholdPct > 100 {
		return fmt.Errorf("threshold %.2f out of range [0,100] for %s", c.ThresholdPct, c.FullName())
	}
	return nil
}

// ValidationResult is one append-only audit row per (table, period,
// check dimension) outcome. Never updated after insert.
type ValidationResult struct {
	ID             int64     `db:"result_id"`
	RunID          string    `db:"run_id"`
	Owner          string    `db:"owner"`
	TableName      string    `db:"table_name"`
	Kind           CheckKind `db:"check_kind"`
	PeriodID       int       `db:"period_id"`
	ColumnName     *string   `db:"column_name"`
	GroupValue     *string   `db:"group_value"`
	ObservedCount  int64     `db:"observed_count"`
	PriorCount     *int64    `db:"prior_count"`
	PctChange      *float64  `db:"pct_change"`
	AvgCount       *float64  `db:"avg_count"`         // 12-period rolling average (column count only)
	PctChangeVsAvg *float64  `db:"pct_change_vs_avg"` // column count only
	Status         Status    `db:"status"`
	Severity       Severity  `db:"severity"`
	Message        string    `db:"message"`
	Email          string    `db:"responsible_email"` // denormalized from config
	CompareTable   *string   `db:"compare_table"`     // table compare only
	CompareCount   *int64    `db:"compare_count"`
	MatchStatus    *string   `db:"match_status"`
	RunDate        time.Time `db:"run_date"`
}
