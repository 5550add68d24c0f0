package models

import "time"

// Severity indicates the urgency tier assigned to an anomaly alert
type Severity string

const (
	SeverityLow      Severity = "low"      // Noteworthy, no action expected
	SeverityMedium   Severity = "medium"   // Should be looked at
	SeverityHigh     Severity = "high"     // Needs attention soon
	SeverityCritical Severity = "critical" // Immediate attention
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity tier, low first.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is one of the known tiers.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Alert is an immutable record of a detected anomaly. Probability is the
// classifier output in [0,1] at detection time; SensorValue is the raw
// measurement that triggered the alert.
type Alert struct {
	ID          int64      `json:"id,omitempty" db:"id"`
	SensorID    string     `json:"sensor_id" db:"sensor_id"`
	Severity    Severity   `json:"severity" db:"severity"`
	Message     string     `json:"message" db:"message"`
	Probability float64    `json:"probability" db:"probability"`
	SensorValue float64    `json:"sensor_value" db:"sensor_value"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	Resolved    bool       `json:"resolved" db:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}
