// pkg/validation/querybuilder_test.go
package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidIdentifier(t *testing.T) {
	valid := []string{"RPT_PERIOD", "case_table", "T1", "COL$X", "A#B"}
	for _, name := range valid {
		assert.NoError(t, ValidIdentifier(name), name)
	}

	invalid := []string{
		"",
		"1TABLE",
		"NAME WITH SPACE",
		"name;drop table x",
		"a-b",
		"T.PERIOD",
		"col'--",
	}
	for _, name := range invalid {
		assert.Error(t, ValidIdentifier(name), name)
	}
}

func TestBuildCountByPeriodRange(t *testing.T) {
	query, err := buildCountByPeriodRange("mdc", "case_fact", "rpt_period", nil)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT RPT_PERIOD, COUNT(*) FROM MDC.CASE_FACT WHERE RPT_PERIOD BETWEEN ? AND ? GROUP BY RPT_PERIOD ORDER BY RPT_PERIOD",
		query)

	filter := "STATUS = 'OPEN'"
	query, err = buildCountByPeriodRange("mdc", "case_fact", "rpt_period", &filter)
	require.NoError(t, err)
	assert.Contains(t, query, "AND (STATUS = 'OPEN')")

	_, err = buildCountByPeriodRange("mdc", "case_fact", "bad col", nil)
	assert.Error(t, err)
}

func TestBuildCountAtPeriodWithSourceLink(t *testing.T) {
	link := "ext_src"
	query, err := buildCountAtPeriod("mdc", "case_fact", "rpt_period", nil, &link)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM MDC.CASE_FACT@EXT_SRC WHERE RPT_PERIOD = ?", query)

	badLink := "ext src"
	_, err = buildCountAtPeriod("mdc", "case_fact", "rpt_period", nil, &badLink)
	assert.Error(t, err)
}

func TestBuildTotalCount(t *testing.T) {
	query, err := buildTotalCount("mdc", "person_dim", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM MDC.PERSON_DIM WHERE 1 = 1", query)
}

func TestBuildNonNullCountAtPeriod(t *testing.T) {
	query, err := buildNonNullCountAtPeriod("mdc", "case_fact", "rpt_period", "case_status", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(CASE_STATUS) FROM MDC.CASE_FACT WHERE RPT_PERIOD = ?", query)

	_, err = buildNonNullCountAtPeriod("mdc", "case_fact", "rpt_period", "status)--", nil)
	assert.Error(t, err)
}

func TestBuildDistinctCountAtPeriod(t *testing.T) {
	query, err := buildDistinctCountAtPeriod("mdc", "case_fact", "rpt_period", "case_id", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(DISTINCT CASE_ID) FROM MDC.CASE_FACT WHERE RPT_PERIOD = ?", query)

	expr := "CASE WHEN STATUS = 'OPEN' THEN CASE_ID END"
	query, err = buildDistinctCountAtPeriod("mdc", "case_fact", "rpt_period", "case_id", &expr, nil)
	require.NoError(t, err)
	assert.Contains(t, query, "COUNT(DISTINCT CASE WHEN STATUS = 'OPEN' THEN CASE_ID END)")
}
