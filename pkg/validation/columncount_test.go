// pkg/validation/columncount_test.go
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

// fakeCatalog serves a fixed column list.
type fakeCatalog struct {
	meta *model.TableMetadata
}

func (f *fakeCatalog) Columns(context.Context, string, string) (*model.TableMetadata, error) {
	return f.meta, nil
}

// The catalog lists a LOB column, an excluded audit column, and the
// period column alongside the one countable column; only CASE_ID may
// ever reach the warehouse.
func newColumnCountEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()

	warehouseDB, warehouseMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { warehouseDB.Close() })

	auditDB, auditMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { auditDB.Close() })

	logger := zap.NewNop()
	catalogSvc := &fakeCatalog{meta: &model.TableMetadata{
		Owner: "MDC",
		Table: "CASE_FACT",
		Columns: []model.Column{
			{Name: "CASE_ID", DataType: "NUMBER"},
			{Name: "NARRATIVE", DataType: "CLOB"},
			{Name: "ETL_LOAD_ID", DataType: "NUMBER"},
			{Name: "RPT_PERIOD", DataType: "NUMBER"},
		},
	}}
	registry := &config.Registry{ExcludedColumns: []string{"ETL_LOAD_ID"}}
	engine := NewEngine(NewStore(auditDB, logger), &stubConnector{db: warehouseDB},
		nil, catalogSvc, registry, logger)

	return engine, warehouseMock, auditMock
}

func columnCountConfig() *model.ValidationConfig {
	return &model.ValidationConfig{
		ID:           3,
		Owner:        "MDC",
		TableName:    "CASE_FACT",
		Kind:         model.CheckColumnCount,
		PeriodColumn: "RPT_PERIOD",
		ThresholdPct: 100,
		Email:        "etl-team@example.gov",
	}
}

// Twelve consecutive loaded periods: the count barely moved against the
// prior period (2.04%, a pass on its own) but sits far above the
// trailing average, and the worse deviation decides the status.
func TestColumnCountClassifiesOnWorstDeviation(t *testing.T) {
	engine, warehouseMock, auditMock := newColumnCountEngine(t)

	nonNullQuery := regexp.QuoteMeta("SELECT COUNT(CASE_ID) FROM MDC.CASE_FACT WHERE RPT_PERIOD = ?")
	loadedQuery := regexp.QuoteMeta("SELECT COUNT(*) FROM MDC.CASE_FACT WHERE RPT_PERIOD = ?")

	warehouseMock.ExpectQuery(nonNullQuery).WithArgs(150).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(100))
	warehouseMock.ExpectQuery(nonNullQuery).WithArgs(149).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(98))

	// Rolling average over 139..150: every period loaded, counts of 50
	// for the ten older periods, then 98 and 100 (memoized from above).
	for p := 139; p <= 150; p++ {
		warehouseMock.ExpectQuery(loadedQuery).WithArgs(p).
			WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(1))
		if p <= 148 {
			warehouseMock.ExpectQuery(nonNullQuery).WithArgs(p).
				WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(50))
		}
	}

	// avg = 698/12 = 58.17, deviation vs avg 71.92% versus 2.04% vs
	// prior: the average wins and lands in the error band.
	auditMock.ExpectExec("INSERT INTO mdc_validation_result").
		WithArgs(
			sqlmock.AnyArg(), // run_id
			"MDC",
			"CASE_FACT",
			"COLUMN_COUNT",
			150,
			"CASE_ID",
			nil, // group_value
			int64(100),
			int64(98),
			2.04,
			sqlmock.AnyArg(), // avg_count
			71.92,
			"ERROR",
			"HIGH",
			sqlmock.AnyArg(), // message
			"etl-team@example.gov",
			nil,              // compare_table
			nil,              // compare_count
			nil,              // match_status
			sqlmock.AnyArg(), // run_date
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := engine.runColumnCount(context.Background(), columnCountConfig(),
		period.Window{Start: 150, End: 150}, "run-3")
	require.NoError(t, err)
	require.NoError(t, warehouseMock.ExpectationsWereMet())
	require.NoError(t, auditMock.ExpectationsWereMet())
}

// A period with no load inside the trailing year disables the average
// entirely; classification falls back to the prior period alone.
func TestColumnCountGapDisablesRollingAverage(t *testing.T) {
	engine, warehouseMock, auditMock := newColumnCountEngine(t)

	nonNullQuery := regexp.QuoteMeta("SELECT COUNT(CASE_ID) FROM MDC.CASE_FACT WHERE RPT_PERIOD = ?")
	loadedQuery := regexp.QuoteMeta("SELECT COUNT(*) FROM MDC.CASE_FACT WHERE RPT_PERIOD = ?")

	warehouseMock.ExpectQuery(nonNullQuery).WithArgs(150).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(105))
	warehouseMock.ExpectQuery(nonNullQuery).WithArgs(149).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(100))

	// The oldest period of the trailing twelve never loaded; the scan
	// stops there and no further period is queried.
	warehouseMock.ExpectQuery(loadedQuery).WithArgs(139).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(0))

	auditMock.ExpectExec("INSERT INTO mdc_validation_result").
		WithArgs(
			sqlmock.AnyArg(), // run_id
			"MDC",
			"CASE_FACT",
			"COLUMN_COUNT",
			150,
			"CASE_ID",
			nil, // group_value
			int64(105),
			int64(100),
			5.0,
			nil, // avg_count
			nil, // pct_change_vs_avg
			"PASS",
			"LOW",
			sqlmock.AnyArg(), // message
			"etl-team@example.gov",
			nil,              // compare_table
			nil,              // compare_count
			nil,              // match_status
			sqlmock.AnyArg(), // run_date
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := engine.runColumnCount(context.Background(), columnCountConfig(),
		period.Window{Start: 150, End: 150}, "run-4")
	require.NoError(t, err)
	require.NoError(t, warehouseMock.ExpectationsWereMet())
	require.NoError(t, auditMock.ExpectationsWereMet())
}
