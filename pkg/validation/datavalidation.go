// pkg/validation/datavalidation.go
package validation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
	"github.com/dataforgetx/ds-portfolio/pkg/period"
)

// runDataValidation executes a config-authored rule query and counts
// its violations: zero rows passes, anything else is an error. The rule
// text is wrapped in a COUNT so arbitrarily wide violation sets cost
// one scalar roundtrip. Oversized rule text is never executed; it
// produces an Error result pointing at the config entry instead.
func (e *Engine) runDataValidation(ctx context.Context, cfg *model.ValidationConfig, win period.Window, runID string) error {
	if cfg.CheckQuery == nil || strings.TrimSpace(*cfg.CheckQuery) == "" {
		return fmt.Errorf("data validation config %d for %s has no check query", cfg.ID, cfg.FullName())
	}
	ruleQuery := strings.TrimSpace(*cfg.CheckQuery)

	if len(ruleQuery) > e.maxCheckQueryBytes {
		e.logger.Error("Check query exceeds size limit, not executing",
			zap.Int64("configId", cfg.ID),
			zap.String("table", cfg.FullName()),
			zap.Int("bytes", len(ruleQuery)),
			zap.Int("limit", e.maxCheckQueryBytes))
		return e.insertRuleResult(ctx, cfg, win.End, runID, 0,
			model.StatusError, model.SeverityHigh,
			fmt.Sprintf("check query is %d bytes, exceeds %d byte limit; fix config entry %d",
				len(ruleQuery), e.maxCheckQueryBytes, cfg.ID))
	}

	wrapped := fmt.Sprintf("SELECT COUNT(*) FROM (%s)", strings.TrimSuffix(ruleQuery, ";"))
	violations, err := e.singleCount(ctx, wrapped)
	if err != nil {
		return fmt.Errorf("data validation query failed for %s: %w", cfg.FullName(), err)
	}

	status := model.StatusPass
	severity := model.SeverityLow
	message := "no rule violations"
	if violations > 0 {
		status = model.StatusError
		severity = model.SeverityHigh
		message = fmt.Sprintf("%d rows violate rule", violations)
	}

	return e.insertRuleResult(ctx, cfg, win.End, runID, violations, status, severity, message)
}

func (e *Engine) insertRuleResult(
	ctx context.Context,
	cfg *model.ValidationConfig,
	periodID int,
	runID string,
	violations int64,
	status model.Status,
	severity model.Severity,
	message string,
) error {
	return e.store.InsertResult(ctx, &model.ValidationResult{
		RunID:         runID,
		Owner:         cfg.Owner,
		TableName:     cfg.TableName,
		Kind:          cfg.Kind,
		PeriodID:      periodID,
		ObservedCount: violations,
		Status:        status,
		Severity:      severity,
		Message:       message,
		Email:         cfg.Email,
	})
}
