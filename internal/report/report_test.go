package report

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/insight"
)

func TestAssembler(t *testing.T) {
	asm := NewAssembler()
	ctx := context.Background()

	t.Run("Findings", func(t *testing.T) {
		input := &BuildInput{
			TraceID:     "trace-001",
			Criteria:    domain.FilterCriteria{Department: "Sales"},
			DatasetSize: 100,
			ViewSize:    30,
			Summary:     domain.Summary{Total: 30},
			StartTime:   time.Now(),
			Timings:     Timings{Filter: 2 * time.Millisecond, Insight: 5 * time.Millisecond},
			Result: &insight.Result{
				Findings: []domain.Finding{
					{RuleID: "r1", Severity: domain.SeverityHigh, Subject: "Sales", Statement: "s1", Recommendation: "Raise pay."},
					{RuleID: "r2", Severity: domain.SeverityMedium, Subject: "All", Statement: "s2", Recommendation: "Improve onboarding."},
					{RuleID: "r3", Severity: domain.SeverityLow, Subject: "All", Statement: "s3", Recommendation: "Raise pay."},
					{RuleID: "r4", Severity: domain.SeverityLow, Subject: "All", Statement: "", Recommendation: " "},
				},
				Evaluated: 4,
				Skipped:   []string{"rising-attrition"},
			},
		}

		rep := asm.Build(ctx, input)

		if rep.ID == "" {
			t.Error("expected a report id")
		}
		if len(rep.Findings) != 4 {
			t.Errorf("expected 4 findings, got %d", len(rep.Findings))
		}
		if want := []string{"Raise pay.", "Improve onboarding."}; !reflect.DeepEqual(rep.Recommendations, want) {
			t.Errorf("expected recommendations %v, got %v", want, rep.Recommendations)
		}
		if rep.SeverityCounts != (domain.SeverityCounts{High: 1, Medium: 1, Low: 2}) {
			t.Errorf("unexpected severity counts: %+v", rep.SeverityCounts)
		}
		if rep.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", rep.Metadata.TraceID)
		}
		if rep.Metadata.FilterMs != 2 || rep.Metadata.InsightMs != 5 {
			t.Errorf("unexpected timings: %+v", rep.Metadata)
		}
		if rep.Metadata.RulesEvaluated != 4 || len(rep.Metadata.RulesSkipped) != 1 {
			t.Errorf("unexpected rule counts: %+v", rep.Metadata)
		}
		if rep.Metadata.EngineVersion != insight.EngineVersion {
			t.Errorf("unexpected engine version %q", rep.Metadata.EngineVersion)
		}
		if !NeedsAttention(rep) {
			t.Error("report with a high finding needs attention")
		}
		if want := []string{"s1", "s2", "s3"}; !reflect.DeepEqual(Statements(rep), want) {
			t.Errorf("expected statements %v, got %v", want, Statements(rep))
		}
	})

	t.Run("EmptyResult", func(t *testing.T) {
		rep := asm.Build(ctx, &BuildInput{})

		if !rep.IsEmpty() {
			t.Error("expected an empty report")
		}
		if rep.Findings == nil || rep.Recommendations == nil {
			t.Error("findings and recommendations should be empty, not nil")
		}
		if NeedsAttention(rep) {
			t.Error("empty report should not need attention")
		}
	})

	t.Run("MaxRecommendations", func(t *testing.T) {
		capped := &Assembler{MaxRecommendations: 1}
		rep := capped.Build(ctx, &BuildInput{Result: &insight.Result{Findings: []domain.Finding{
			{Severity: domain.SeverityHigh, Recommendation: "a"},
			{Severity: domain.SeverityLow, Recommendation: "b"},
		}}})
		if len(rep.Recommendations) != 1 || rep.Recommendations[0] != "a" {
			t.Errorf("expected one recommendation, got %v", rep.Recommendations)
		}
	})

	t.Run("UniqueIDs", func(t *testing.T) {
		a := asm.Build(ctx, &BuildInput{})
		b := asm.Build(ctx, &BuildInput{})
		if a.ID == b.ID {
			t.Error("each report should get its own id")
		}
	})
}
