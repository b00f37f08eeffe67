package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity is the ordered importance band of a finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities: high > medium > low. Unknown values rank as low.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// ParseSeverity resolves a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// UnmarshalYAML accepts severities in any case.
func (s *Severity) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalJSON accepts severities in any case.
func (s *Severity) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// RuleConfig declares an insight rule.
//
// Expression is a CEL program evaluated once per subject; its numeric result
// is the rule's magnitude. The rule triggers when magnitude >= Threshold and
// the severity is the highest band whose Lower is reached.
type RuleConfig struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`

	// GroupBy lists the dimensions whose groups are the rule's subjects.
	// Empty means the whole view is the single subject "All".
	GroupBy []Dimension `json:"groupBy,omitempty" yaml:"group_by"`

	// Requires lists dimensions that must take at least two distinct values
	// in the view; otherwise the rule is skipped.
	Requires []Dimension `json:"requires,omitempty" yaml:"requires"`

	Expression string         `json:"expression" yaml:"expression"`
	Threshold  float64        `json:"threshold" yaml:"threshold"`
	Bands      []SeverityBand `json:"bands" yaml:"bands"`

	// Statement and Recommendation are text/template sources.
	Statement      string `json:"statement" yaml:"statement"`
	Recommendation string `json:"recommendation" yaml:"recommendation"`

	// Actions are reason-keyed snippets exposed to templates as .Action.
	Actions map[string]string `json:"actions,omitempty" yaml:"actions"`

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// SeverityBand maps magnitudes at or above Lower to a severity.
type SeverityBand struct {
	Lower    float64  `json:"lower" yaml:"lower"`
	Severity Severity `json:"severity" yaml:"severity"`
}

// SubjectAll is the subject of rules that inspect the whole view.
const SubjectAll = "All"
