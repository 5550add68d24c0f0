package anomaly

import (
	"fmt"

	"github.com/moolen/driftwatch/internal/models"
)

// SeverityPolicy maps an anomaly probability onto a severity tier via
// three monotonically increasing thresholds. A probability equal to a
// threshold lands in the higher tier.
type SeverityPolicy struct {
	Medium   float64
	High     float64
	Critical float64
}

// DefaultSeverityPolicy returns the standard tier boundaries.
func DefaultSeverityPolicy() SeverityPolicy {
	return SeverityPolicy{Medium: 0.6, High: 0.8, Critical: 0.9}
}

// Validate rejects thresholds that are out of [0,1] or not monotonically
// non-decreasing; such a policy could rank a higher probability into a
// lower tier.
func (p SeverityPolicy) Validate() error {
	if p.Medium < 0 || p.Critical > 1 {
		return fmt.Errorf("severity thresholds must lie in [0,1], got medium=%v critical=%v", p.Medium, p.Critical)
	}
	if p.Medium > p.High || p.High > p.Critical {
		return fmt.Errorf("severity thresholds must be non-decreasing: medium=%v high=%v critical=%v",
			p.Medium, p.High, p.Critical)
	}
	return nil
}

// Classify returns the severity tier for a probability.
func (p SeverityPolicy) Classify(probability float64) models.Severity {
	switch {
	case probability >= p.Critical:
		return models.SeverityCritical
	case probability >= p.High:
		return models.SeverityHigh
	case probability >= p.Medium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
