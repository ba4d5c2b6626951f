// pkg/period/calendar.go
package period

import (
	"context"
	"fmt"
	"time"

	"github.com/dataforgetx/ds-portfolio/pkg/connector"
)

// CalendarLookup resolves period identifiers from the warehouse period
// calendar table.
type CalendarLookup struct {
	warehouse    connector.DatabaseConnector
	queryTimeout time.Duration
}

// NewCalendarLookup creates a calendar-backed period lookup.
func NewCalendarLookup(warehouse connector.DatabaseConnector, queryTimeout time.Duration) *CalendarLookup {
	if queryTimeout <= 0 {
		queryTimeout = time.Minute
	}
	return &CalendarLookup{
		warehouse:    warehouse,
		queryTimeout: queryTimeout,
	}
}

// PeriodID returns the period identifier for a calendar month, or
// ErrPeriodNotFound when the calendar has no entry for it yet.
func (l *CalendarLookup) PeriodID(ctx context.Context, month time.Month, year int) (int, error) {
	query := `
		SELECT PERIOD_ID
		FROM MDC_PERIOD_CALENDAR
		WHERE CALENDAR_MONTH = ? AND CALENDAR_YEAR = ?
	`

	rows, err := l.warehouse.QueryWithTimeout(ctx, query, l.queryTimeout, int(month), year)
	if err != nil {
		return 0, fmt.Errorf("failed to query period calendar: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("error reading period calendar: %w", err)
		}
		return 0, fmt.Errorf("%w: %s %d", ErrPeriodNotFound, month, year)
	}

	var id int
	if err := rows.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to scan period id: %w", err)
	}

	return id, nil
}
