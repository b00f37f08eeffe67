// Package report assembles insight findings into the report envelope
// returned to consumers.
package report

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/insight"
)

// Assembler turns one pipeline pass into an InsightReport.
type Assembler struct {
	// MaxRecommendations caps the recommendation list; zero means no cap.
	MaxRecommendations int
}

// NewAssembler creates an assembler with default settings.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Timings are the stage durations of a pass.
type Timings struct {
	Filter    time.Duration
	Aggregate time.Duration
	Insight   time.Duration
}

// BuildInput contains everything produced by one pass.
type BuildInput struct {
	TraceID     string
	Criteria    domain.FilterCriteria
	DatasetSize int
	ViewSize    int
	Summary     domain.Summary
	Result      *insight.Result
	Timings     Timings
	StartTime   time.Time
}

// Build assembles the report. A nil or empty result yields a report with no
// findings.
func (a *Assembler) Build(ctx context.Context, input *BuildInput) *domain.InsightReport {
	rep := &domain.InsightReport{
		ID:              uuid.New().String(),
		GeneratedAt:     time.Now().UTC(),
		Criteria:        input.Criteria,
		Summary:         input.Summary,
		Findings:        []domain.Finding{},
		Recommendations: []string{},
	}

	var skipped []string
	evaluated := 0
	if input.Result != nil {
		rep.Findings = append(rep.Findings, input.Result.Findings...)
		skipped = input.Result.Skipped
		evaluated = input.Result.Evaluated
	}

	rep.Recommendations = a.recommendations(rep.Findings)
	rep.SeverityCounts = countSeverities(rep.Findings)

	start := input.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	rep.Metadata = domain.ReportMetadata{
		TraceID:        input.TraceID,
		DatasetSize:    input.DatasetSize,
		ViewSize:       input.ViewSize,
		RulesEvaluated: evaluated,
		RulesSkipped:   skipped,
		FilterMs:       input.Timings.Filter.Milliseconds(),
		AggregateMs:    input.Timings.Aggregate.Milliseconds(),
		InsightMs:      input.Timings.Insight.Milliseconds(),
		TotalMs:        time.Since(start).Milliseconds(),
		EngineVersion:  insight.EngineVersion,
	}

	return rep
}

// recommendations lists the findings' recommendations in finding order,
// dropping blanks and repeats.
func (a *Assembler) recommendations(findings []domain.Finding) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, f := range findings {
		rec := strings.TrimSpace(f.Recommendation)
		if rec == "" || seen[rec] {
			continue
		}
		seen[rec] = true
		out = append(out, rec)
		if a.MaxRecommendations > 0 && len(out) == a.MaxRecommendations {
			break
		}
	}
	return out
}

func countSeverities(findings []domain.Finding) domain.SeverityCounts {
	var c domain.SeverityCounts
	for _, f := range findings {
		switch f.Severity {
		case domain.SeverityHigh:
			c.High++
		case domain.SeverityMedium:
			c.Medium++
		default:
			c.Low++
		}
	}
	return c
}

// NeedsAttention returns true if the report carries a high-severity finding.
func NeedsAttention(rep *domain.InsightReport) bool {
	return rep.SeverityCounts.High > 0
}

// Statements extracts the finding statements in rank order.
func Statements(rep *domain.InsightReport) []string {
	out := make([]string, 0, len(rep.Findings))
	for _, f := range rep.Findings {
		if f.Statement != "" {
			out = append(out, f.Statement)
		}
	}
	return out
}
