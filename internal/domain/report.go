package domain

import (
	"time"
)

// Finding is a single triggered insight.
type Finding struct {
	RuleID         string   `json:"ruleId"`
	RuleName       string   `json:"ruleName"`
	Severity       Severity `json:"severity"`
	Subject        string   `json:"subject"`
	Magnitude      float64  `json:"magnitude"`
	Statement      string   `json:"statement"`
	Recommendation string   `json:"recommendation"`
}

// InsightReport is the ranked output of one pipeline pass.
// Findings are sorted by severity desc, rule declaration order, then subject.
type InsightReport struct {
	ID              string         `json:"id"`
	GeneratedAt     time.Time      `json:"generatedAt"`
	Criteria        FilterCriteria `json:"criteria"`
	Summary         Summary        `json:"summary"`
	Findings        []Finding      `json:"findings"`
	Recommendations []string       `json:"recommendations"`
	SeverityCounts  SeverityCounts `json:"severityCounts"`
	Metadata        ReportMetadata `json:"metadata"`
}

// SeverityCounts tallies findings per severity.
type SeverityCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// ReportMetadata contains processing information.
type ReportMetadata struct {
	TraceID        string   `json:"traceId,omitempty"`
	DatasetSize    int      `json:"datasetSize"`
	ViewSize       int      `json:"viewSize"`
	RulesEvaluated int      `json:"rulesEvaluated"`
	RulesSkipped   []string `json:"rulesSkipped,omitempty"`
	FilterMs       int64    `json:"filterMs"`
	AggregateMs    int64    `json:"aggregateMs"`
	InsightMs      int64    `json:"insightMs"`
	TotalMs        int64    `json:"totalMs"`
	EngineVersion  string   `json:"engineVersion"`
	Cached         bool     `json:"cached,omitempty"`
}

// IsEmpty reports whether the report carries no findings.
func (r *InsightReport) IsEmpty() bool {
	return len(r.Findings) == 0
}
