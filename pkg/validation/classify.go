// pkg/validation/classify.go
package validation

import (
	"math"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

// Percentage changes persisted to the result table are bounded to this
// range; anything beyond it is noise from near-zero baselines.
const (
	MinPctChange = -100.0
	MaxPctChange = 999999.0
)

// PctChange computes the percentage change from prior to current,
// rounded to two decimal places. Returns ok=false when prior is zero:
// a missing baseline is undefined, not an anomaly.
func PctChange(current, prior float64) (float64, bool) {
	if prior == 0 {
		return 0, false
	}
	pct := (current - prior) / prior * 100
	return math.Round(pct*100) / 100, true
}

// PctChangeCounts is PctChange over an optional prior count. A nil prior
// is undefined for any current value.
func PctChangeCounts(current int64, prior *int64) (float64, bool) {
	if prior == nil {
		return 0, false
	}
	return PctChange(float64(current), float64(*prior))
}

// ClampPct bounds a percentage change to the persistable range.
func ClampPct(pct float64) float64 {
	if pct < MinPctChange {
		return MinPctChange
	}
	if pct > MaxPctChange {
		return MaxPctChange
	}
	return pct
}

// Classify maps a percentage change onto (status, severity). A nil
// change (undefined baseline) always passes. The fixed bands are shared
// by every table; the per-config threshold can only promote to Error,
// never demote. Both boundaries are strict: |change| equal to the band
// edge or to the threshold does not cross it.
func Classify(change *float64, thresholdPct float64) (model.Status, model.Severity) {
	if change == nil {
		return model.StatusPass, model.SeverityLow
	}

	abs := math.Abs(*change)

	status, severity := model.StatusPass, model.SeverityLow
	switch {
	case abs <= 5:
		status, severity = model.StatusPass, model.SeverityLow
	case abs <= 10:
		status, severity = model.StatusWarning, model.SeverityMedium
	default:
		status, severity = model.StatusError, model.SeverityHigh
	}

	if abs > thresholdPct {
		status, severity = model.StatusError, model.SeverityHigh
	}

	return status, severity
}
