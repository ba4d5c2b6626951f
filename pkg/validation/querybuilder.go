// pkg/validation/querybuilder.go
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Dynamic count queries are assembled from identifiers, never from free
// input: table and column names come from the validation config table or
// the warehouse catalog, and each one must pass the identifier check
// before it is spliced into SQL. WHERE filters are carried verbatim from
// the config table, which is maintained by administrators only. That is
// the same trust boundary the config registry has always had.

var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_$#]*$`)

// ValidIdentifier checks that a name is usable as a bare SQL identifier.
func ValidIdentifier(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q", name)
	}
	return nil
}

// qualifiedName validates and assembles OWNER.TABLE, optionally with an
// external source link qualifier (OWNER.TABLE@LINK).
func qualifiedName(owner, table string, sourceLink *string) (string, error) {
	if err := ValidIdentifier(owner); err != nil {
		return "", err
	}
	if err := ValidIdentifier(table); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s.%s", strings.ToUpper(owner), strings.ToUpper(table))
	if sourceLink != nil && *sourceLink != "" {
		if err := ValidIdentifier(*sourceLink); err != nil {
			return "", err
		}
		name += "@" + strings.ToUpper(*sourceLink)
	}
	return name, nil
}

// withFilter appends an optional config-supplied filter clause.
func withFilter(query string, filter *string) string {
	if filter != nil && strings.TrimSpace(*filter) != "" {
		return query + " AND (" + *filter + ")"
	}
	return query
}

// buildCountByPeriodRange returns a grouped per-period count over an
// inclusive period range. Two bind parameters: start, end.
func buildCountByPeriodRange(owner, table, periodCol string, filter *string) (string, error) {
	name, err := qualifiedName(owner, table, nil)
	if err != nil {
		return "", err
	}
	if err := ValidIdentifier(periodCol); err != nil {
		return "", err
	}

	col := strings.ToUpper(periodCol)
	query := fmt.Sprintf(
		"SELECT %s, COUNT(*) FROM %s WHERE %s BETWEEN ? AND ?",
		col, name, col,
	)
	query = withFilter(query, filter)
	return query + fmt.Sprintf(" GROUP BY %s ORDER BY %s", col, col), nil
}

// buildCountAtPeriod returns a single-period row count. One bind
// parameter: the period id.
func buildCountAtPeriod(owner, table, periodCol string, filter *string, sourceLink *string) (string, error) {
	name, err := qualifiedName(owner, table, sourceLink)
	if err != nil {
		return "", err
	}
	if err := ValidIdentifier(periodCol); err != nil {
		return "", err
	}

	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE %s = ?",
		name, strings.ToUpper(periodCol),
	)
	return withFilter(query, filter), nil
}

// buildGroupedCountAtPeriod returns per-group row counts at one period.
// One bind parameter: the period id.
func buildGroupedCountAtPeriod(owner, table, periodCol string, groupCols []string, filter *string) (string, error) {
	name, err := qualifiedName(owner, table, nil)
	if err != nil {
		return "", err
	}
	if err := ValidIdentifier(periodCol); err != nil {
		return "", err
	}

	upper := make([]string, len(groupCols))
	for i, col := range groupCols {
		if err := ValidIdentifier(col); err != nil {
			return "", err
		}
		upper[i] = strings.ToUpper(col)
	}
	groups := strings.Join(upper, ", ")

	query := fmt.Sprintf(
		"SELECT %s, COUNT(*) FROM %s WHERE %s = ?",
		groups, name, strings.ToUpper(periodCol),
	)
	query = withFilter(query, filter)
	return query + fmt.Sprintf(" GROUP BY %s ORDER BY %s", groups, groups), nil
}

// buildTotalCount returns an unwindowed row count, used by the
// simplified table comparison for load-timestamp-grouped tables.
func buildTotalCount(owner, table string, filter *string, sourceLink *string) (string, error) {
	name, err := qualifiedName(owner, table, sourceLink)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1 = 1", name)
	return withFilter(query, filter), nil
}

// buildNonNullCountAtPeriod counts non-null values of one column at one
// period. One bind parameter: the period id.
func buildNonNullCountAtPeriod(owner, table, periodCol, column string, filter *string) (string, error) {
	name, err := qualifiedName(owner, table, nil)
	if err != nil {
		return "", err
	}
	if err := ValidIdentifier(periodCol); err != nil {
		return "", err
	}
	if err := ValidIdentifier(column); err != nil {
		return "", err
	}

	query := fmt.Sprintf(
		"SELECT COUNT(%s) FROM %s WHERE %s = ?",
		strings.ToUpper(column), name, strings.ToUpper(periodCol),
	)
	return withFilter(query, filter), nil
}

// buildDistinctCountAtPeriod counts distinct values of a column, or of a
// config-supplied conditional expression when one is set. One bind
// parameter: the period id.
func buildDistinctCountAtPeriod(owner, table, periodCol, column string, expr *string, filter *string) (string, error) {
	name, err := qualifiedName(owner, table, nil)
	if err != nil {
		return "", err
	}
	if err := ValidIdentifier(periodCol); err != nil {
		return "", err
	}

	target := ""
	if expr != nil && strings.TrimSpace(*expr) != "" {
		// Expression text comes from the config table (e.g. a CASE
		// wrapping the column), same trust boundary as filters.
		target = *expr
	} else {
		if err := ValidIdentifier(column); err != nil {
			return "", err
		}
		target = strings.ToUpper(column)
	}

	query := fmt.Sprintf(
		"SELECT COUNT(DISTINCT %s) FROM %s WHERE %s = ?",
		target, name, strings.ToUpper(periodCol),
	)
	return withFilter(query, filter), nil
}
