// pkg/report/report.go

// Package report assembles operator-facing summaries of validation and
// remediation runs and hands them to a dispatcher. The default
// dispatcher writes to the log; deployments with a mail relay plug in
// their own.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
	"github.com/dataforgetx/ds-portfolio/pkg/remediation"
	"github.com/dataforgetx/ds-portfolio/pkg/validation"
)

// Dispatcher delivers an assembled report.
type Dispatcher interface {
	Dispatch(ctx context.Context, recipients []string, subject, body string) error
}

// LogDispatcher writes reports to the structured log instead of
// sending them anywhere.
type LogDispatcher struct {
	Logger *zap.Logger
}

func (d *LogDispatcher) Dispatch(_ context.Context, recipients []string, subject, body string) error {
	d.Logger.Info("Report ready",
		zap.Strings("recipients", recipients),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

// Reporter builds and dispatches run summaries.
type Reporter struct {
	store      *validation.Store
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewReporter wires a reporter.
func NewReporter(store *validation.Store, dispatcher Dispatcher, logger *zap.Logger) *Reporter {
	return &Reporter{store: store, dispatcher: dispatcher, logger: logger}
}

// DispatchValidation sends one report per responsible email covering
// that owner's non-passing results, plus a roll-up of the run. Clean
// runs still produce the roll-up so operators see the run happened.
func (r *Reporter) DispatchValidation(ctx context.Context, summary *validation.RunSummary) error {
	results, err := r.store.ResultsForRun(ctx, summary.RunID)
	if err != nil {
		return err
	}

	byEmail := make(map[string][]model.ValidationResult)
	var errors, warnings int
	for _, res := range results {
		switch res.Status {
		case model.StatusError:
			errors++
		case model.StatusWarning:
			warnings++
		default:
			continue
		}
		if res.Email != "" {
			byEmail[res.Email] = append(byEmail[res.Email], res)
		}
	}

	emails := make([]string, 0, len(byEmail))
	for email := range byEmail {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	for _, email := range emails {
		subject := fmt.Sprintf("Validation findings for your tables (run %s)", shortRunID(summary.RunID))
		body := findingsBody(byEmail[email], summary)
		if err := r.dispatcher.Dispatch(ctx, []string{email}, subject, body); err != nil {
			r.logger.Error("Failed to dispatch findings report",
				zap.String("recipient", email),
				zap.Error(err))
		}
	}

	subject := fmt.Sprintf("Validation run %s: %d results, %d errors, %d warnings",
		shortRunID(summary.RunID), len(results), errors, warnings)
	return r.dispatcher.Dispatch(ctx, nil, subject, rollupBody(results, summary))
}

// DispatchRemediation sends the roll-up of one remediation pass.
func (r *Reporter) DispatchRemediation(ctx context.Context, summary *remediation.Summary) error {
	subject := fmt.Sprintf("Remediation pass: %d fixed, %d failed, %d skipped",
		summary.Fixed, summary.Failed, summary.Skipped)

	var b strings.Builder
	fmt.Fprintf(&b, "Remediation pass finished in %s\n\n", summary.Duration.Round(1e9))
	fmt.Fprintf(&b, "Stuck entries recovered: %d\n", summary.Recovered)
	if len(summary.RecoveredTables) > 0 {
		fmt.Fprintf(&b, "Recovered tables: %s\n", strings.Join(summary.RecoveredTables, ", "))
	}
	if summary.Scanned > 0 {
		fmt.Fprintf(&b, "Tables rescanned: %d (new queue entries: %d)\n", summary.Scanned, summary.Queued)
	}
	fmt.Fprintf(&b, "Fixed: %d\nFailed: %d\nSkipped: %d\n",
		summary.Fixed, summary.Failed, summary.Skipped)

	return r.dispatcher.Dispatch(ctx, nil, subject, b.String())
}

func findingsBody(results []model.ValidationResult, summary *validation.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Validation run %s, periods %d-%d\n\n",
		summary.RunID, summary.Window.Start, summary.Window.End)
	for _, res := range results {
		col := ""
		if res.ColumnName != nil {
			col = "." + *res.ColumnName
		}
		fmt.Fprintf(&b, "[%s/%s] %s.%s%s period %d (%s): %s\n",
			res.Status, res.Severity, res.Owner, res.TableName, col,
			res.PeriodID, res.Kind, res.Message)
	}
	return b.String()
}

func rollupBody(results []model.ValidationResult, summary *validation.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s covered periods %d-%d across %d config entries in %s.\n",
		summary.RunID, summary.Window.Start, summary.Window.End,
		summary.Entries, summary.Duration.Round(1e9))
	fmt.Fprintf(&b, "Result rows: %d\n", len(results))
	if len(summary.Failed) > 0 {
		fmt.Fprintf(&b, "\nConfig entries that failed outright:\n")
		for _, f := range summary.Failed {
			fmt.Fprintf(&b, "  %s.%s (%s): %v\n", f.Owner, f.Table, f.Kind, f.Err)
		}
	}
	return b.String()
}

func shortRunID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}
