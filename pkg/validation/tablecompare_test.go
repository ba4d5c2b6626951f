// pkg/validation/tablecompare_test.go
package validation

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/config"
	"github.com/dataforgetx/ds-portfolio/pkg/model"
	"github.com/dataforgetx/ds-portfolio/pkg/period"
)

func compareConfig() *model.ValidationConfig {
	compareTable := "CASE_STAGING"
	return &model.ValidationConfig{
		ID:           5,
		Owner:        "MDC",
		TableName:    "CASE_FACT",
		Kind:         model.CheckTableCompare,
		PeriodColumn: "RPT_PERIOD",
		CompareTable: &compareTable,
		ThresholdPct: 10,
		Email:        "etl-team@example.gov",
	}
}

func TestTableCompareMatch(t *testing.T) {
	engine, warehouseMock, auditMock := newTestEngine(t)

	warehouseMock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(*) FROM MDC.CASE_FACT WHERE RPT_PERIOD = ?")).
		WithArgs(102).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(500))
	warehouseMock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(*) FROM MDC.CASE_STAGING WHERE RPT_PERIOD = ?")).
		WithArgs(102).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(500))

	auditMock.ExpectExec("INSERT INTO mdc_validation_result").
		WithArgs(
			sqlmock.AnyArg(), "MDC", "CASE_FACT", "TABLE_COMPARE", 102,
			nil, nil, int64(500), nil, nil, nil, nil,
			"PASS", "LOW", sqlmock.AnyArg(), "etl-team@example.gov",
			"CASE_STAGING", int64(500), "MATCH", sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := engine.runTableCompare(context.Background(), compareConfig(), period.Window{Start: 100, End: 102}, "run-3")
	require.NoError(t, err)
	require.NoError(t, warehouseMock.ExpectationsWereMet())
	require.NoError(t, auditMock.ExpectationsWereMet())
}

func TestTableCompareMismatch(t *testing.T) {
	engine, warehouseMock, auditMock := newTestEngine(t)

	warehouseMock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(*) FROM MDC.CASE_FACT WHERE RPT_PERIOD = ?")).
		WithArgs(102).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(500))
	warehouseMock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(*) FROM MDC.CASE_STAGING WHERE RPT_PERIOD = ?")).
		WithArgs(102).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(480))

	auditMock.ExpectExec("INSERT INTO mdc_validation_result").
		WithArgs(
			sqlmock.AnyArg(), "MDC", "CASE_FACT", "TABLE_COMPARE", 102,
			nil, nil, int64(500), nil, nil, nil, nil,
			"ERROR", "HIGH", sqlmock.AnyArg(), "etl-team@example.gov",
			"CASE_STAGING", int64(480), "NO_MATCH", sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := engine.runTableCompare(context.Background(), compareConfig(), period.Window{Start: 100, End: 102}, "run-4")
	require.NoError(t, err)
	require.NoError(t, warehouseMock.ExpectationsWereMet())
	require.NoError(t, auditMock.ExpectationsWereMet())
}

// Load-timestamp tables cannot be sliced by period, so both sides are
// counted whole.
func TestTableCompareLoadTimestampFallsBackToTotals(t *testing.T) {
	warehouseDB, warehouseMock, err := sqlmock.New()
	require.NoError(t, err)
	defer warehouseDB.Close()

	auditDB, auditMock, err := sqlmock.New()
	require.NoError(t, err)
	defer auditDB.Close()

	logger := zap.NewNop()
	registry := &config.Registry{LoadTimestampTables: []string{"CASE_FACT"}}
	engine := NewEngine(NewStore(auditDB, logger), &stubConnector{db: warehouseDB}, nil, nil, registry, logger)

	warehouseMock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(*) FROM MDC.CASE_FACT WHERE 1 = 1")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(1000))
	warehouseMock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(*) FROM MDC.CASE_STAGING WHERE 1 = 1")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(1000))

	auditMock.ExpectExec("INSERT INTO mdc_validation_result").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = engine.runTableCompare(context.Background(), compareConfig(), period.Window{Start: 100, End: 102}, "run-5")
	require.NoError(t, err)
	require.NoError(t, warehouseMock.ExpectationsWereMet())
	require.NoError(t, auditMock.ExpectationsWereMet())
}

func TestTableCompareMissingCompareTable(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	cfg := compareConfig()
	cfg.CompareTable = nil
	err := engine.runTableCompare(context.Background(), cfg, period.Window{Start: 100, End: 102}, "run-6")
	require.Error(t, err)
}
