// pkg/period/period.go
package period

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

// ErrPeriodNotFound indicates the calendar has no period for the
// requested month.
var ErrPeriodNotFound = errors.New("no period registered for month")

// Lookup resolves a calendar (month, year) to its period identifier.
type Lookup interface {
	PeriodID(ctx context.Context, month time.Month, year int) (int, error)
}

// Window is an inclusive [Start, End] range of period identifiers.
type Window struct {
	Start int
	End   int
}

// Resolver computes the current reporting period and the default
// validation window, including the seasonal year-end exception.
type Resolver struct {
	lookup       Lookup
	yearEndMonth time.Month
	histSuffixes []string
	logger       *zap.Logger
	now          func() time.Time
}

// NewResolver creates a resolver. yearEndMonth is the calendar month in
// which this deployment variant closes its fiscal view.
func NewResolver(lookup Lookup, yearEndMonth time.Month, histSuffixes []string, logger *zap.Logger) *Resolver {
	return &Resolver{
		lookup:       lookup,
		yearEndMonth: yearEndMonth,
		histSuffixes: histSuffixes,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock overrides the time source. Used by tests and backdated runs.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Current resolves the current period identifier: the calendar entry for
// the current month, or for the previous month when the current month is
// not yet registered. Both missing is fatal for the run and not
// retryable, so the error is returned as-is for the caller to raise.
func (r *Resolver) Current(ctx context.Context) (int, error) {
	now := r.now()

	id, err := r.lookup.PeriodID(ctx, now.Month(), now.Year())
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrPeriodNotFound) {
		return 0, fmt.Errorf("period lookup failed for %s %d: %w", now.Month(), now.Year(), err)
	}

	prev := now.AddDate(0, -1, -now.Day()+1)
	id, err = r.lookup.PeriodID(ctx, prev.Month(), prev.Year())
	if err != nil {
		return 0, fmt.Errorf("cannot determine current period (checked %s %d and %s %d): %w",
			now.Month(), now.Year(), prev.Month(), prev.Year(), err)
	}

	r.logger.Info("Current month not in calendar, using previous month",
		zap.String("month", prev.Month().String()),
		zap.Int("periodId", id))
	return id, nil
}

// Window computes the default validation window ending at the current
// period. The base is two periods back, except in the deployment's
// year-end month where the window stretches a full thirteen periods to
// cover the closing fiscal year.
func (r *Resolver) Window(ctx context.Context) (Window, error) {
	current, err := r.Current(ctx)
	if err != nil {
		return Window{}, err
	}

	base := current - 2
	if r.now().Month() == r.yearEndMonth {
		base = current - 13
		r.logger.Info("Year-end month, extending validation window",
			zap.Int("basePeriod", base),
			zap.Int("currentPeriod", current))
	}

	return Window{Start: base, End: current}, nil
}

// TableWindow computes the effective window for one config entry given
// the run's default window: an explicit config override wins; historical
// tables accumulate rather than roll, so they start at the current
// period. Pure over its inputs, so it cannot fail mid-run.
func (r *Resolver) TableWindow(cfg *model.ValidationConfig, def Window) Window {
	if cfg.WindowStart != nil && cfg.WindowEnd != nil {
		return Window{Start: *cfg.WindowStart, End: *cfg.WindowEnd}
	}

	if r.isHistorical(cfg.TableName) {
		return Window{Start: def.End, End: def.End}
	}

	return def
}

func (r *Resolver) isHistorical(table string) bool {
	upper := strings.ToUpper(table)
	for _, suffix := range r.histSuffixes {
		if strings.HasSuffix(upper, strings.ToUpper(suffix)) {
			return true
		}
	}
	return false
}
