// Package insight derives ranked findings from a filtered view using a
// declarative registry of CEL rules.
package insight

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/harrier/internal/aggregate"
	"github.com/opensource-finance/harrier/internal/domain"
)

// EngineVersion identifies the rule evaluation semantics in report metadata.
const EngineVersion = "harrier-insight/1"

// ErrInvalidRule marks a rule that cannot be compiled.
var ErrInvalidRule = errors.New("invalid rule")

// DefaultActionKey is the Actions entry used when no reason-specific action exists.
const DefaultActionKey = "default"

// Engine evaluates a fixed, ordered set of compiled rules.
// It is safe for concurrent use and immutable after construction.
type Engine struct {
	env        *cel.Env
	rules      []*CompiledRule
	maxWorkers int
	digest     string
}

// CompiledRule holds a pre-compiled CEL program and parsed templates.
type CompiledRule struct {
	Config         *domain.RuleConfig
	Program        cel.Program
	Statement      *template.Template
	Recommendation *template.Template

	order    int
	groupBy  []domain.Dimension
	requires []domain.Dimension
	bands    []domain.SeverityBand
	actions  map[string]string // keyed by lowercased reason
}

// Result is the outcome of one evaluation pass.
type Result struct {
	// Findings are ranked by severity desc, rule declaration order, subject asc.
	Findings []domain.Finding

	// Evaluated counts the rules that ran against the view.
	Evaluated int

	// Skipped lists rules whose required dimensions did not vary in the view.
	Skipped []string

	// Errors are per-subject evaluation failures; those subjects did not trigger.
	Errors []EvalError
}

// EvalError records why a rule could not be evaluated for a subject.
type EvalError struct {
	RuleID  string
	Subject string
	Err     error
}

func (e EvalError) Error() string {
	return fmt.Sprintf("rule %s, subject %q: %v", e.RuleID, e.Subject, e.Err)
}

// NewEngine compiles the enabled rules, keeping their declaration order.
// Duplicate IDs or any invalid rule fail the whole registry.
func NewEngine(configs []*domain.RuleConfig, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := newEnv()
	if err != nil {
		return nil, err
	}

	e := &Engine{env: env, maxWorkers: maxWorkers}
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if cfg == nil {
			return nil, fmt.Errorf("%w: nil rule config", ErrInvalidRule)
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRule, cfg.ID)
		}
		seen[cfg.ID] = true

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			continue
		}
		compiled.order = len(e.rules)
		e.rules = append(e.rules, compiled)
	}

	if e.digest, err = digest(e.Rules()); err != nil {
		return nil, err
	}
	return e, nil
}

// digest hashes the enabled rule configurations together with the engine
// version. Rule packs that can produce different findings get different digests.
func digest(rules []*domain.RuleConfig) (string, error) {
	data, err := json.Marshal(rules)
	if err != nil {
		return "", fmt.Errorf("failed to encode rules: %w", err)
	}
	d := xxhash.New()
	_, _ = d.WriteString(EngineVersion)
	_, _ = d.Write(data)
	return strconv.FormatUint(d.Sum64(), 16), nil
}

// newEnv declares the subject facts as CEL variables.
func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.StringType),
		cel.Variable("count", cel.IntType),
		cel.Variable("share", cel.DoubleType),
		cel.Variable("groups", cel.IntType),
		cel.Variable("baseline_share", cel.DoubleType),
		cel.Variable("mean_count", cel.DoubleType),
		cel.Variable("total", cel.IntType),
		cel.Variable("mean_salary", cel.DoubleType),
		cel.Variable("mean_tenure", cel.DoubleType),
		cel.Variable("mean_age", cel.DoubleType),
		cel.Variable("overall_mean_salary", cel.DoubleType),
		cel.Variable("overall_mean_tenure", cel.DoubleType),
		cel.Variable("overall_mean_age", cel.DoubleType),
		cel.Variable("top_reason", cel.StringType),
		cel.Variable("top_reason_count", cel.IntType),
		cel.Variable("top_reason_share", cel.DoubleType),
		cel.Variable("young_share", cel.DoubleType),
		cel.Variable("short_tenure_share", cel.DoubleType),
		cel.Variable("long_tenure_share", cel.DoubleType),
		cel.Variable("male_share", cel.DoubleType),
		cel.Variable("female_share", cel.DoubleType),
		cel.Variable("recent_mean", cel.DoubleType),
		cel.Variable("earlier_mean", cel.DoubleType),
		cel.Variable("years", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// ValidateRule compiles a rule without adding it to the engine.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: rule config is required", ErrInvalidRule)
	}
	_, err := e.compileRule(cfg)
	return err
}

// Rules returns the enabled rule configurations in declaration order.
func (e *Engine) Rules() []*domain.RuleConfig {
	out := make([]*domain.RuleConfig, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Config
	}
	return out
}

// Digest identifies the enabled rule set. Cached reports are keyed on it.
func (e *Engine) Digest() string {
	return e.digest
}

// RulesCount returns the number of enabled rules.
func (e *Engine) RulesCount() int {
	return len(e.rules)
}

// ruleOutput is the per-rule slot filled by the worker pool.
type ruleOutput struct {
	skipped  bool
	findings []domain.Finding
	errs     []EvalError
}

// Evaluate runs every rule against the view. It never fails: data that
// cannot support a rule yields no finding for it. An empty view yields an
// empty result.
func (e *Engine) Evaluate(view []domain.Record) *Result {
	res := &Result{Findings: []domain.Finding{}}
	if len(view) == 0 || len(e.rules) == 0 {
		return res
	}

	pop := newPopulation(view)
	tables := newTableCache(view)

	outputs := make([]ruleOutput, len(e.rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range e.rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			defer func() {
				if p := recover(); p != nil {
					outputs[idx] = ruleOutput{errs: []EvalError{{
						RuleID: r.Config.ID,
						Err:    fmt.Errorf("rule panicked: %v", p),
					}}}
				}
			}()

			outputs[idx] = e.evaluateRule(r, view, pop, tables)
		}(i, rule)
	}
	wg.Wait()

	for i, out := range outputs {
		if out.skipped {
			res.Skipped = append(res.Skipped, e.rules[i].Config.ID)
			continue
		}
		res.Evaluated++
		res.Findings = append(res.Findings, out.findings...)
		res.Errors = append(res.Errors, out.errs...)
	}

	rank(res.Findings, e.order())
	return res
}

// evaluateRule produces at most one finding per subject of the rule's table.
func (e *Engine) evaluateRule(rule *CompiledRule, view []domain.Record, pop population, tables *tableCache) ruleOutput {
	var out ruleOutput

	for _, d := range rule.requires {
		if aggregate.DistinctValues(view, d) < 2 {
			out.skipped = true
			return out
		}
	}

	grouping, err := tables.get(rule.groupBy)
	if err != nil {
		out.errs = append(out.errs, EvalError{RuleID: rule.Config.ID, Err: err})
		return out
	}

	groups := len(grouping.Table.Rows)
	for i, row := range grouping.Table.Rows {
		facts := subjectFacts(pop, row, grouping.Members[i], groups)

		finding, ok, err := e.evaluateSubject(rule, facts)
		if err != nil {
			out.errs = append(out.errs, EvalError{RuleID: rule.Config.ID, Subject: row.Label, Err: err})
			continue
		}
		if ok {
			out.findings = append(out.findings, finding)
		}
	}
	return out
}

// evaluateSubject evaluates the rule for one subject.
func (e *Engine) evaluateSubject(rule *CompiledRule, facts *Facts) (domain.Finding, bool, error) {
	val, _, err := rule.Program.Eval(facts.activation())
	if err != nil {
		return domain.Finding{}, false, fmt.Errorf("evaluation error: %w", err)
	}

	magnitude, ok := toMagnitude(val)
	if !ok || magnitude < rule.Config.Threshold {
		return domain.Finding{}, false, nil
	}

	severity := matchSeverity(magnitude, rule.bands)
	data := templateData{
		Facts:     facts,
		Rule:      rule.Config,
		Magnitude: magnitude,
		Severity:  severity,
		Action:    action(rule.actions, facts.TopReason),
	}

	statement, err := render(rule.Statement, data)
	if err != nil {
		return domain.Finding{}, false, err
	}
	recommendation, err := render(rule.Recommendation, data)
	if err != nil {
		return domain.Finding{}, false, err
	}

	return domain.Finding{
		RuleID:         rule.Config.ID,
		RuleName:       rule.Config.Name,
		Severity:       severity,
		Subject:        facts.Subject,
		Magnitude:      magnitude,
		Statement:      statement,
		Recommendation: recommendation,
	}, true, nil
}

// toMagnitude converts a CEL value to a finite number.
func toMagnitude(val ref.Val) (float64, bool) {
	var m float64
	switch v := val.(type) {
	case types.Bool:
		if v {
			m = 1
		}
	case types.Double:
		m = float64(v)
	case types.Int:
		m = float64(v)
	default:
		return 0, false
	}
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return 0, false
	}
	return m, true
}

// matchSeverity returns the severity of the highest band whose lower bound
// the magnitude reaches. Bands are sorted by lower bound; with no band
// reached the severity is low.
func matchSeverity(magnitude float64, bands []domain.SeverityBand) domain.Severity {
	severity := domain.SeverityLow
	for _, b := range bands {
		if magnitude < b.Lower {
			break
		}
		severity = b.Severity
	}
	return severity
}

// action picks the reason-keyed action, falling back to the default entry.
// Keys of actions are lowercased.
func action(actions map[string]string, reason string) string {
	if a, ok := actions[strings.ToLower(reason)]; ok {
		return a
	}
	return actions[DefaultActionKey]
}

// order maps rule IDs to their declaration index.
func (e *Engine) order() map[string]int {
	m := make(map[string]int, len(e.rules))
	for _, r := range e.rules {
		m[r.Config.ID] = r.order
	}
	return m
}

// rank sorts findings by severity desc, rule declaration order, subject asc.
func rank(findings []domain.Finding, order map[string]int) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if order[a.RuleID] != order[b.RuleID] {
			return order[a.RuleID] < order[b.RuleID]
		}
		return a.Subject < b.Subject
	})
}

// templateData is what statement and recommendation templates see.
type templateData struct {
	*Facts
	Rule      *domain.RuleConfig
	Magnitude float64
	Severity  domain.Severity
	Action    string
}

var templateFuncs = template.FuncMap{
	"pct": func(fraction float64) string {
		return fmt.Sprintf("%.1f%%", fraction*100)
	},
	"num": func(v float64) string {
		return fmt.Sprintf("%.1f", v)
	},
	"money": func(v float64) string {
		return fmt.Sprintf("%.0f", v)
	},
}

func render(t *template.Template, data templateData) (string, error) {
	if t == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if strings.TrimSpace(cfg.Expression) == "" {
		return nil, fmt.Errorf("%w: rule %s: expression is required", ErrInvalidRule, cfg.ID)
	}
	if strings.TrimSpace(cfg.Statement) == "" {
		return nil, fmt.Errorf("%w: rule %s: statement is required", ErrInvalidRule, cfg.ID)
	}
	if math.IsNaN(cfg.Threshold) || math.IsInf(cfg.Threshold, 0) {
		return nil, fmt.Errorf("%w: rule %s: threshold must be finite", ErrInvalidRule, cfg.ID)
	}
	if len(cfg.GroupBy) > aggregate.MaxDimensions {
		return nil, fmt.Errorf("%w: rule %s: at most %d grouping dimensions", ErrInvalidRule, cfg.ID, aggregate.MaxDimensions)
	}
	groupBy, err := normalizeDimensions(cfg.GroupBy)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %w", ErrInvalidRule, cfg.ID, err)
	}
	requires, err := normalizeDimensions(cfg.Requires)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %w", ErrInvalidRule, cfg.ID, err)
	}

	bands, err := sortBands(cfg)
	if err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %w", ErrInvalidRule, cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if !outputType.IsExactType(cel.BoolType) && !outputType.IsExactType(cel.DoubleType) && !outputType.IsExactType(cel.IntType) {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, int, or double, got %s", ErrInvalidRule, cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create program for rule %s: %w", ErrInvalidRule, cfg.ID, err)
	}

	statement, err := template.New(cfg.ID + ".statement").Funcs(templateFuncs).Option("missingkey=error").Parse(cfg.Statement)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: statement: %w", ErrInvalidRule, cfg.ID, err)
	}

	var recommendation *template.Template
	if cfg.Recommendation != "" {
		recommendation, err = template.New(cfg.ID + ".recommendation").Funcs(templateFuncs).Option("missingkey=error").Parse(cfg.Recommendation)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: recommendation: %w", ErrInvalidRule, cfg.ID, err)
		}
	}

	return &CompiledRule{
		Config:         cfg,
		Program:        program,
		Statement:      statement,
		Recommendation: recommendation,
		groupBy:        groupBy,
		requires:       requires,
		bands:          bands,
		actions:        lowerKeys(cfg.Actions),
	}, nil
}

// lowerKeys lowercases action keys. When two keys differ only in case the
// lexically greater spelling wins, so the result does not depend on map order.
func lowerKeys(actions map[string]string) map[string]string {
	keys := make([]string, 0, len(actions))
	for k := range actions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(actions))
	for _, k := range keys {
		out[strings.ToLower(k)] = actions[k]
	}
	return out
}

// sortBands orders bands by lower bound and rejects sets where a higher
// magnitude would map to a lower severity.
func sortBands(cfg *domain.RuleConfig) ([]domain.SeverityBand, error) {
	bands := append([]domain.SeverityBand(nil), cfg.Bands...)
	for _, b := range bands {
		if b.Severity == "" {
			return nil, fmt.Errorf("%w: rule %s: band at %g has no severity", ErrInvalidRule, cfg.ID, b.Lower)
		}
		if math.IsNaN(b.Lower) {
			return nil, fmt.Errorf("%w: rule %s: band lower bound is NaN", ErrInvalidRule, cfg.ID)
		}
	}
	sort.SliceStable(bands, func(i, j int) bool { return bands[i].Lower < bands[j].Lower })
	for i := 1; i < len(bands); i++ {
		if bands[i].Severity.Rank() < bands[i-1].Severity.Rank() {
			return nil, fmt.Errorf("%w: rule %s: band severities must not decrease as magnitude grows", ErrInvalidRule, cfg.ID)
		}
	}
	return bands, nil
}
