package insight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
)

func record(id, dept, reason string) domain.Record {
	return domain.Record{
		EmployeeID:    id,
		Gender:        domain.GenderMale,
		Age:           35,
		Department:    dept,
		Reason:        reason,
		Year:          2020,
		TenureYears:   4,
		MonthlySalary: 8000,
	}
}

// deptView builds a view with the given number of records per department,
// each department citing the given reasons in rotation.
func deptView(spec map[string]int, reasons map[string][]string) []domain.Record {
	var view []domain.Record
	for _, dept := range []string{"A", "B", "C", "D"} {
		n := spec[dept]
		for i := 0; i < n; i++ {
			rs := reasons[dept]
			reason := "Other"
			if len(rs) > 0 {
				reason = rs[i%len(rs)]
			}
			view = append(view, record(fmt.Sprintf("%s%02d", dept, i), dept, reason))
		}
	}
	return view
}

func defaultEngine(t *testing.T) *Engine {
	t.Helper()
	rules, err := DefaultRules()
	if err != nil {
		t.Fatalf("failed to load default rules: %v", err)
	}
	engine, err := NewEngine(rules, 4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func findingsFor(res *Result, ruleID string) []domain.Finding {
	var out []domain.Finding
	for _, f := range res.Findings {
		if f.RuleID == ruleID {
			out = append(out, f)
		}
	}
	return out
}

func TestDefaultRules(t *testing.T) {
	rules, err := DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules failed: %v", err)
	}

	wantIDs := []string{
		"department-concentration",
		"dominant-reason",
		"short-tenure-hotspot",
		"below-average-pay",
		"segment-concentration",
		"gender-imbalance",
		"rising-attrition",
		"falling-attrition",
		"young-leavers",
		"early-exits",
		"top-reason",
	}
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
		if !r.Enabled {
			t.Errorf("rule %s should be enabled by default", r.ID)
		}
	}
	if !reflect.DeepEqual(ids, wantIDs) {
		t.Errorf("expected rules %v, got %v", wantIDs, ids)
	}

	engine, err := NewEngine(rules, 0)
	if err != nil {
		t.Fatalf("default rules should compile: %v", err)
	}
	if engine.RulesCount() != len(wantIDs) {
		t.Errorf("expected %d rules, got %d", len(wantIDs), engine.RulesCount())
	}
}

func TestDominantReason(t *testing.T) {
	engine := defaultEngine(t)

	view := deptView(
		map[string]int{"A": 10, "B": 10, "C": 10},
		map[string][]string{
			"A": {"salary"},
			"B": {"health", "relocation", "long hours", "salary", "family"},
			"C": {"health", "relocation", "further study"},
		},
	)

	res := engine.Evaluate(view)
	found := findingsFor(res, "dominant-reason")
	if len(found) != 1 {
		t.Fatalf("expected exactly one dominant-reason finding, got %+v", found)
	}

	f := found[0]
	if f.Subject != "A" {
		t.Errorf("expected subject A, got %s", f.Subject)
	}
	if f.Severity != domain.SeverityHigh {
		t.Errorf("expected high severity, got %s", f.Severity)
	}
	if f.Magnitude != 1 {
		t.Errorf("expected magnitude 1, got %v", f.Magnitude)
	}
	if !strings.Contains(strings.ToLower(f.Recommendation), "salary adjustment") {
		t.Errorf("recommendation should mention a salary adjustment: %q", f.Recommendation)
	}
	if !strings.Contains(f.Statement, "100.0%") {
		t.Errorf("statement should carry the share: %q", f.Statement)
	}
}

func TestEmptyView(t *testing.T) {
	engine := defaultEngine(t)

	res := engine.Evaluate(nil)
	if len(res.Findings) != 0 {
		t.Errorf("expected no findings, got %d", len(res.Findings))
	}
	if res.Findings == nil {
		t.Error("findings should be empty, not nil")
	}
	if len(res.Errors) != 0 {
		t.Errorf("expected no errors, got %v", res.Errors)
	}
}

func TestDeterministic(t *testing.T) {
	engine := defaultEngine(t)
	view := dataset.Generate(42, 2000)

	first := engine.Evaluate(view)
	for i := 0; i < 5; i++ {
		again := engine.Evaluate(view)
		if !reflect.DeepEqual(first.Findings, again.Findings) {
			t.Fatal("evaluation should be deterministic")
		}
	}
	if len(first.Errors) != 0 {
		t.Errorf("default rules should evaluate cleanly, got %v", first.Errors)
	}
	// Roughly half of synthetic leavers served under two years.
	if early := findingsFor(first, "early-exits"); len(early) != 1 || early[0].Subject != domain.SubjectAll {
		t.Errorf("expected one early-exits finding on the synthetic dataset, got %+v", early)
	}
}

func TestRequiresSkipsRule(t *testing.T) {
	engine := defaultEngine(t)

	// Every record has the same year and department.
	view := deptView(map[string]int{"A": 20}, map[string][]string{"A": {"salary", "health"}})
	res := engine.Evaluate(view)

	for _, id := range []string{"rising-attrition", "falling-attrition", "department-concentration", "below-average-pay"} {
		found := false
		for _, s := range res.Skipped {
			if s == id {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %s to be skipped, skipped: %v", id, res.Skipped)
		}
		if len(findingsFor(res, id)) != 0 {
			t.Errorf("skipped rule %s should not produce findings", id)
		}
	}
	if res.Evaluated+len(res.Skipped) != engine.RulesCount() {
		t.Errorf("evaluated %d + skipped %d should equal %d rules", res.Evaluated, len(res.Skipped), engine.RulesCount())
	}
}

func TestRisingAttrition(t *testing.T) {
	engine := defaultEngine(t)

	var view []domain.Record
	counts := map[int]int{2015: 5, 2016: 5, 2017: 5, 2018: 5, 2019: 10, 2020: 10, 2021: 10}
	for year := 2015; year <= 2021; year++ {
		for i := 0; i < counts[year]; i++ {
			r := record(fmt.Sprintf("%d-%d", year, i), "A", "salary")
			r.Year = year
			view = append(view, r)
		}
	}

	res := engine.Evaluate(view)
	rising := findingsFor(res, "rising-attrition")
	if len(rising) != 1 {
		t.Fatalf("expected one rising-attrition finding, got %+v", rising)
	}
	if rising[0].Subject != domain.SubjectAll {
		t.Errorf("expected subject All, got %s", rising[0].Subject)
	}
	if rising[0].Magnitude != 2 || rising[0].Severity != domain.SeverityHigh {
		t.Errorf("expected magnitude 2 at high severity, got %v %s", rising[0].Magnitude, rising[0].Severity)
	}
	if len(findingsFor(res, "falling-attrition")) != 0 {
		t.Error("falling-attrition should not trigger on a rising series")
	}
}

func shareRule(id string, threshold float64) *domain.RuleConfig {
	return &domain.RuleConfig{
		ID:         id,
		Name:       id,
		GroupBy:    []domain.Dimension{domain.DimDepartment},
		Expression: "share",
		Threshold:  threshold,
		Bands: []domain.SeverityBand{
			{Lower: 0.9, Severity: domain.SeverityHigh},
			{Lower: 0.5, Severity: domain.SeverityLow},
			{Lower: 0.7, Severity: domain.SeverityMedium},
		},
		Statement: "{{.Subject}} {{pct .Share}}",
		Enabled:   true,
	}
}

func TestMonotonicSeverity(t *testing.T) {
	engine, err := NewEngine([]*domain.RuleConfig{shareRule("share", 0.5)}, 2)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	prevRank := 0
	for a := 5; a <= 10; a++ {
		view := deptView(map[string]int{"A": a, "B": 10 - a}, nil)
		res := engine.Evaluate(view)

		var fa *domain.Finding
		for i := range res.Findings {
			if res.Findings[i].Subject == "A" {
				fa = &res.Findings[i]
			}
		}
		if fa == nil {
			t.Fatalf("A with share %d/10 should trigger", a)
		}
		if fa.Severity.Rank() < prevRank {
			t.Errorf("severity dropped from rank %d to %s at share %d/10", prevRank, fa.Severity, a)
		}
		prevRank = fa.Severity.Rank()
	}
	if prevRank != domain.SeverityHigh.Rank() {
		t.Errorf("full share should be high severity")
	}

	res := engine.Evaluate(deptView(map[string]int{"A": 4, "B": 3, "C": 3}, nil))
	if len(res.Findings) != 0 {
		t.Errorf("shares below threshold should not trigger, got %+v", res.Findings)
	}
}

func TestMatchSeverity(t *testing.T) {
	bands := []domain.SeverityBand{
		{Lower: 1.5, Severity: domain.SeverityLow},
		{Lower: 2, Severity: domain.SeverityMedium},
		{Lower: 3, Severity: domain.SeverityHigh},
	}

	tests := []struct {
		magnitude float64
		want      domain.Severity
	}{
		{1.0, domain.SeverityLow},
		{1.5, domain.SeverityLow},
		{1.99, domain.SeverityLow},
		{2.0, domain.SeverityMedium},
		{2.5, domain.SeverityMedium},
		{3.0, domain.SeverityHigh},
		{100, domain.SeverityHigh},
	}
	for _, tt := range tests {
		if got := matchSeverity(tt.magnitude, bands); got != tt.want {
			t.Errorf("matchSeverity(%v) = %s, want %s", tt.magnitude, got, tt.want)
		}
	}

	if got := matchSeverity(5, nil); got != domain.SeverityLow {
		t.Errorf("no bands should default to low, got %s", got)
	}
}

func TestRanking(t *testing.T) {
	byDept := &domain.RuleConfig{
		ID:         "by-dept",
		GroupBy:    []domain.Dimension{domain.DimDepartment},
		Expression: "share",
		Threshold:  0,
		Bands: []domain.SeverityBand{
			{Lower: 0, Severity: domain.SeverityLow},
			{Lower: 0.5, Severity: domain.SeverityHigh},
		},
		Statement: "{{.Subject}}",
		Enabled:   true,
	}
	whole := &domain.RuleConfig{
		ID:         "whole",
		Expression: "1.0",
		Threshold:  0,
		Statement:  "all",
		Enabled:    true,
	}

	engine, err := NewEngine([]*domain.RuleConfig{byDept, whole}, 2)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	res := engine.Evaluate(deptView(map[string]int{"A": 6, "B": 2, "C": 2}, nil))
	got := make([]string, len(res.Findings))
	for i, f := range res.Findings {
		got[i] = f.RuleID + "/" + f.Subject + "/" + string(f.Severity)
	}
	want := []string{"by-dept/A/high", "by-dept/B/low", "by-dept/C/low", "whole/All/low"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected ranking %v, got %v", want, got)
	}
}

func TestEvaluationErrorsDoNotTrigger(t *testing.T) {
	rules := []*domain.RuleConfig{
		{ID: "div-zero", Expression: "count / (groups - groups)", Statement: "x", Enabled: true},
		{ID: "nan", Expression: "0.0 / 0.0", Statement: "x", Enabled: true},
		{ID: "inf", Expression: "1.0 / 0.0", Statement: "x", Enabled: true},
		{ID: "bad-template", Expression: "true", Statement: "{{.NoSuchFact}}", Enabled: true},
		{ID: "ok", Expression: "true", Threshold: 1, Statement: "fine", Enabled: true},
	}
	engine, err := NewEngine(rules, 2)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	res := engine.Evaluate(deptView(map[string]int{"A": 3}, nil))
	if len(res.Findings) != 1 || res.Findings[0].RuleID != "ok" {
		t.Errorf("expected only the ok rule to trigger, got %+v", res.Findings)
	}

	failed := make(map[string]bool)
	for _, e := range res.Errors {
		failed[e.RuleID] = true
	}
	if !failed["div-zero"] || !failed["bad-template"] {
		t.Errorf("expected evaluation errors to be reported, got %v", res.Errors)
	}
}

func TestDisabledRule(t *testing.T) {
	rule := shareRule("off", 0)
	rule.Enabled = false

	engine, err := NewEngine([]*domain.RuleConfig{rule}, 1)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("disabled rules should not be loaded")
	}
}

func TestInvalidRules(t *testing.T) {
	engine := defaultEngine(t)

	tests := []struct {
		name   string
		mutate func(r *domain.RuleConfig)
	}{
		{"MissingID", func(r *domain.RuleConfig) { r.ID = "" }},
		{"BadCEL", func(r *domain.RuleConfig) { r.Expression = "this is not valid CEL !!!" }},
		{"UnknownVariable", func(r *domain.RuleConfig) { r.Expression = "salary_gap > 1.0" }},
		{"StringOutput", func(r *domain.RuleConfig) { r.Expression = "subject" }},
		{"UnknownDimension", func(r *domain.RuleConfig) { r.GroupBy = []domain.Dimension{"manager"} }},
		{"TooManyDimensions", func(r *domain.RuleConfig) {
			r.GroupBy = []domain.Dimension{domain.DimDepartment, domain.DimGender, domain.DimYear}
		}},
		{"UnknownRequires", func(r *domain.RuleConfig) { r.Requires = []domain.Dimension{"region"} }},
		{"BadTemplate", func(r *domain.RuleConfig) { r.Statement = "{{.Subject" }},
		{"MissingStatement", func(r *domain.RuleConfig) { r.Statement = "" }},
		{"DecreasingBands", func(r *domain.RuleConfig) {
			r.Bands = []domain.SeverityBand{{Lower: 1, Severity: domain.SeverityHigh}, {Lower: 2, Severity: domain.SeverityLow}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := shareRule("candidate", 0.5)
			tt.mutate(rule)
			if err := engine.ValidateRule(rule); !errors.Is(err, ErrInvalidRule) {
				t.Errorf("expected ErrInvalidRule, got %v", err)
			}
		})
	}

	t.Run("Valid", func(t *testing.T) {
		if err := engine.ValidateRule(shareRule("candidate", 0.5)); err != nil {
			t.Errorf("expected valid rule, got %v", err)
		}
		if engine.RulesCount() != 11 {
			t.Error("ValidateRule must not change the registry")
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		_, err := NewEngine([]*domain.RuleConfig{shareRule("dup", 0), shareRule("dup", 0)}, 1)
		if !errors.Is(err, ErrInvalidRule) {
			t.Errorf("expected ErrInvalidRule for duplicate ids, got %v", err)
		}
	})
}

func TestLoadRulePack(t *testing.T) {
	pack := `
rules:
  - id: big-department
    name: Big department
    group_by: [Department]
    expression: share
    threshold: 0.5
    bands:
      - { lower: 0.5, severity: HIGH }
    statement: "{{.Subject}} is big"
    recommendation: "{{.Action}}"
    actions:
      Salary: pay more
      default: look closer
  - id: disabled
    expression: "true"
    statement: never
    enabled: false
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(pack), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rules, err := LoadRulePack(path)
	if err != nil {
		t.Fatalf("LoadRulePack failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].GroupBy[0] != domain.DimDepartment {
		t.Errorf("dimension should be normalized, got %s", rules[0].GroupBy[0])
	}
	if rules[0].Bands[0].Severity != domain.SeverityHigh {
		t.Errorf("severity should parse case-insensitively, got %s", rules[0].Bands[0].Severity)
	}
	if rules[0].Actions["salary"] != "pay more" {
		t.Errorf("action keys should be lowercased, got %v", rules[0].Actions)
	}
	if !rules[0].Enabled || rules[1].Enabled {
		t.Errorf("unexpected enabled flags: %v %v", rules[0].Enabled, rules[1].Enabled)
	}

	engine, err := NewEngine(rules, 1)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	res := engine.Evaluate(deptView(map[string]int{"A": 8, "B": 2}, map[string][]string{"A": {"Salary"}}))
	if len(res.Findings) != 1 || res.Findings[0].Recommendation != "pay more" {
		t.Errorf("unexpected findings: %+v", res.Findings)
	}

	t.Run("DefaultWhenEmptyPath", func(t *testing.T) {
		rules, err := LoadRulePack("")
		if err != nil || len(rules) != 11 {
			t.Errorf("expected the built-in pack, got %d rules, err %v", len(rules), err)
		}
	})

	t.Run("BadYAML", func(t *testing.T) {
		if _, err := ParseRulePack([]byte("rules: [")); !errors.Is(err, ErrInvalidRule) {
			t.Errorf("expected ErrInvalidRule, got %v", err)
		}
	})

	t.Run("BadSeverity", func(t *testing.T) {
		bad := "rules:\n  - id: x\n    bands:\n      - { lower: 1, severity: critical }\n"
		if _, err := ParseRulePack([]byte(bad)); !errors.Is(err, ErrInvalidRule) {
			t.Errorf("expected ErrInvalidRule, got %v", err)
		}
	})
}

func TestTableCacheSharesGroupings(t *testing.T) {
	view := deptView(map[string]int{"A": 3, "B": 2}, nil)
	cache := newTableCache(view)

	first, err := cache.get([]domain.Dimension{domain.DimDepartment})
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	second, _ := cache.get([]domain.Dimension{domain.DimDepartment})
	if first != second {
		t.Error("same grouping should be computed once")
	}

	all, _ := cache.get(nil)
	if len(all.Table.Rows) != 1 || all.Table.Rows[0].Label != domain.SubjectAll || all.Table.Rows[0].Count != 5 {
		t.Errorf("unexpected whole-view grouping: %+v", all.Table.Rows)
	}
	if cache.size() != 2 {
		t.Errorf("expected 2 cached groupings, got %d", cache.size())
	}
}

func TestTrend(t *testing.T) {
	series := []domain.YearCount{{Year: 2018, Count: 4}, {Year: 2019, Count: 6}, {Year: 2020, Count: 9}, {Year: 2021, Count: 9}, {Year: 2022, Count: 9}}
	recent, earlier, years := trend(series)
	if recent != 9 || earlier != 5 || years != 5 {
		t.Errorf("expected 9/5/5, got %v/%v/%v", recent, earlier, years)
	}

	recent, earlier, _ = trend(series[:3])
	if earlier != 0 || recent == 0 {
		t.Errorf("short series should have no earlier mean, got %v/%v", recent, earlier)
	}
}

func TestDigest(t *testing.T) {
	a := defaultEngine(t)
	if a.Digest() == "" || a.Digest() != defaultEngine(t).Digest() {
		t.Errorf("digest should be stable, got %q", a.Digest())
	}

	empty, err := NewEngine(nil, 1)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if empty.Digest() == a.Digest() {
		t.Error("different rule sets should have different digests")
	}

	rule := shareRule("share", 0.3)
	changed := shareRule("share", 0.4)
	x, _ := NewEngine([]*domain.RuleConfig{rule}, 1)
	y, _ := NewEngine([]*domain.RuleConfig{changed}, 1)
	if x.Digest() == y.Digest() {
		t.Error("digest should change with the threshold")
	}
}

func TestRulePanicIsRecorded(t *testing.T) {
	engine, err := NewEngine([]*domain.RuleConfig{
		{ID: "broken", Expression: "true", Statement: "x", Enabled: true},
		{ID: "ok", Expression: "true", Statement: "fine", Enabled: true},
	}, 2)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	engine.rules[0].Program = nil

	res := engine.Evaluate(deptView(map[string]int{"A": 3}, nil))
	if len(res.Findings) != 1 || res.Findings[0].RuleID != "ok" {
		t.Errorf("expected only the ok rule to trigger, got %+v", res.Findings)
	}
	if len(res.Errors) != 1 || res.Errors[0].RuleID != "broken" {
		t.Errorf("expected the panic to be recorded, got %v", res.Errors)
	}
}

func TestActionKeysIgnoreCase(t *testing.T) {
	rule := &domain.RuleConfig{
		ID:             "act",
		Expression:     "true",
		Statement:      "x",
		Recommendation: "{{.Action}}",
		Actions: map[string]string{
			"Salary":  "raise pay",
			"salary":  "review pay",
			"DEFAULT": "talk to them",
		},
		Enabled: true,
	}
	engine, err := NewEngine([]*domain.RuleConfig{rule}, 1)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	for i := 0; i < 20; i++ {
		res := engine.Evaluate(deptView(map[string]int{"A": 2}, map[string][]string{"A": {"SALARY"}}))
		if len(res.Findings) != 1 || res.Findings[0].Recommendation != "review pay" {
			t.Fatalf("unexpected findings: %+v", res.Findings)
		}
	}

	res := engine.Evaluate(deptView(map[string]int{"A": 2}, map[string][]string{"A": {"Workload"}}))
	if len(res.Findings) != 1 || res.Findings[0].Recommendation != "talk to them" {
		t.Errorf("expected the default action, got %+v", res.Findings)
	}
}
