// Package alert defines the normalized alert model ingested by Argus.
package alert

import (
	"encoding/json"
	"time"
)

// Severity orders alert severities from low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric ordering of a severity. Unknown severities rank
// below low so they never win a max comparison.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Max returns the higher of two severities.
func Max(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SeverityFromLevel maps a numeric rule level (0-15, Wazuh convention) to a
// Severity: 12+ critical, 8+ high, 4+ medium, else low.
func SeverityFromLevel(level int) Severity {
	switch {
	case level >= 12:
		return SeverityCritical
	case level >= 8:
		return SeverityHigh
	case level >= 4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Alert is a normalized security alert from a detection source.
type Alert struct {
	ExternalID      string          `json:"external_id"`
	SourceAgent     string          `json:"source_agent"`
	SourceIP        string          `json:"source_ip"`
	RuleID          string          `json:"rule_id"`
	RuleDescription string          `json:"rule_description,omitempty"`
	Level           int             `json:"level,omitempty"`
	Severity        Severity        `json:"severity"`
	Timestamp       time.Time       `json:"timestamp"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// Webhook is the batch ingestion payload posted by detection sources.
type Webhook struct {
	Alerts []Alert `json:"alerts"`
}

// Normalize fills derived fields: severity from level when absent, and a
// timestamp of now when the source omitted one.
func (a *Alert) Normalize(now time.Time) {
	if a.Severity == "" {
		a.Severity = SeverityFromLevel(a.Level)
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
}
