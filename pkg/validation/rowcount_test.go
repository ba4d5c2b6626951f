// pkg/validation/rowcount_test.go
package validation

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/config"
	"github.com/dataforgetx/ds-portfolio/pkg/model"
	"github.com/dataforgetx/ds-portfolio/pkg/period"
)

// stubConnector adapts a sqlmock database to the connector interface.
type stubConnector struct {
	db *sql.DB
}

func (s *stubConnector) DB() *sql.DB     { return s.db }
func (s *stubConnector) Validate() error { return nil }
func (s *stubConnector) Close() error    { return s.db.Close() }

func (s *stubConnector) QueryWithTimeout(ctx context.Context, query string, _ time.Duration, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *stubConnector) ExecWithTimeout(ctx context.Context, query string, _ time.Duration, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()

	warehouseDB, warehouseMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { warehouseDB.Close() })

	auditDB, auditMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { auditDB.Close() })

	logger := zap.NewNop()
	store := NewStore(auditDB, logger)
	engine := NewEngine(store, &stubConnector{db: warehouseDB}, nil, nil, &config.Registry{}, logger)

	return engine, warehouseMock, auditMock
}

func expectResultInsert(auditMock sqlmock.Sqlmock, periodID int, observed interface{}, prior interface{}, pct interface{}, status, severity string) {
	auditMock.ExpectExec("INSERT INTO mdc_validation_result").
		WithArgs(
			sqlmock.AnyArg(), // run_id
			"MDC",            // owner
			"CASE_FACT",      // table_name
			"ROW_COUNT",      // check_kind
			periodID,
			nil, // column_name
			nil, // group_value
			observed,
			prior,
			pct,
			nil, // avg_count
			nil, // pct_change_vs_avg
			status,
			severity,
			sqlmock.AnyArg(), // message
			"etl-team@example.gov",
			nil,              // compare_table
			nil,              // compare_count
			nil,              // match_status
			sqlmock.AnyArg(), // run_date
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

// A three-period window where the table grew 6% then dropped a quarter:
// the first period has no baseline and passes, the growth lands in the
// warning band, and the drop is an error.
func TestRowCountRangeClassification(t *testing.T) {
	engine, warehouseMock, auditMock := newTestEngine(t)

	countQuery := regexp.QuoteMeta(
		"SELECT RPT_PERIOD, COUNT(*) FROM MDC.CASE_FACT WHERE RPT_PERIOD BETWEEN ? AND ? GROUP BY RPT_PERIOD ORDER BY RPT_PERIOD")
	warehouseMock.ExpectQuery(countQuery).
		WithArgs(100, 102).
		WillReturnRows(sqlmock.NewRows([]string{"RPT_PERIOD", "COUNT"}).
			AddRow(100, 50).
			AddRow(101, 53).
			AddRow(102, 40))

	expectResultInsert(auditMock, 100, int64(50), nil, nil, "PASS", "LOW")
	expectResultInsert(auditMock, 101, int64(53), int64(50), 6.0, "WARNING", "MEDIUM")
	expectResultInsert(auditMock, 102, int64(40), int64(53), -24.53, "ERROR", "HIGH")

	cfg := &model.ValidationConfig{
		ID:           1,
		Owner:        "MDC",
		TableName:    "CASE_FACT",
		Kind:         model.CheckRowCount,
		PeriodColumn: "RPT_PERIOD",
		ThresholdPct: 10,
		Email:        "etl-team@example.gov",
	}

	err := engine.runRowCount(context.Background(), cfg, period.Window{Start: 100, End: 102}, "run-1")
	require.NoError(t, err)
	require.NoError(t, warehouseMock.ExpectationsWereMet())
	require.NoError(t, auditMock.ExpectationsWereMet())
}

// An alternate load column forces the per-period path even without
// grouping columns, and the query must use the registered column.
func TestRowCountAlternateLoadColumn(t *testing.T) {
	warehouseDB, warehouseMock, err := sqlmock.New()
	require.NoError(t, err)
	defer warehouseDB.Close()

	auditDB, auditMock, err := sqlmock.New()
	require.NoError(t, err)
	defer auditDB.Close()

	logger := zap.NewNop()
	registry := &config.Registry{
		AlternateLoadColumns: map[string]string{"CASE_FACT": "LOAD_PERIOD"},
	}
	engine := NewEngine(NewStore(auditDB, logger), &stubConnector{db: warehouseDB}, nil, nil, registry, logger)

	countQuery := regexp.QuoteMeta("SELECT COUNT(*) FROM MDC.CASE_FACT WHERE LOAD_PERIOD = ?")
	warehouseMock.ExpectQuery(countQuery).WithArgs(102).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(40))
	warehouseMock.ExpectQuery(countQuery).WithArgs(101).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(40))

	auditMock.ExpectExec("INSERT INTO mdc_validation_result").
		WillReturnResult(sqlmock.NewResult(1, 1))

	cfg := &model.ValidationConfig{
		ID:           2,
		Owner:        "MDC",
		TableName:    "CASE_FACT",
		Kind:         model.CheckRowCount,
		PeriodColumn: "RPT_PERIOD",
		ThresholdPct: 10,
	}

	err = engine.runRowCount(context.Background(), cfg, period.Window{Start: 102, End: 102}, "run-2")
	require.NoError(t, err)
	require.NoError(t, warehouseMock.ExpectationsWereMet())
	require.NoError(t, auditMock.ExpectationsWereMet())
}
