// Package analysis runs the attrition pipeline: filter, aggregate, derive
// insights and assemble the report.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/aggregate"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/filter"
	"github.com/opensource-finance/harrier/internal/insight"
	"github.com/opensource-finance/harrier/internal/report"
)

var tracer = otel.Tracer("harrier-analysis")

// DefaultGroupings are the tables computed when a request names none.
var DefaultGroupings = [][]domain.Dimension{
	{domain.DimDepartment},
	{domain.DimReason},
	{domain.DimGender},
	{domain.DimYear},
}

// DefaultCacheTTL applies when the service is given no TTL.
const DefaultCacheTTL = 15 * time.Minute

// Analysis is the result of one pass: the insight report plus the requested
// aggregate tables.
type Analysis struct {
	Report *domain.InsightReport     `json:"report"`
	Tables []*domain.AggregateTable `json:"tables"`
}

// ReportEvent is published on the bus for each freshly generated report.
type ReportEvent struct {
	ReportID    string                `json:"reportId"`
	TraceID     string                `json:"traceId,omitempty"`
	Criteria    domain.FilterCriteria `json:"criteria"`
	ViewSize    int                   `json:"viewSize"`
	Findings    int                   `json:"findings"`
	High        int                   `json:"high"`
	GeneratedAt time.Time             `json:"generatedAt"`
}

// Service serves pipeline passes over one loaded dataset.
// Records are read-only after construction; the service is safe for
// concurrent use.
type Service struct {
	records     []domain.Record
	fingerprint string
	options     domain.FilterOptions

	engine    *insight.Engine
	assembler *report.Assembler

	cache    domain.Cache
	bus      domain.EventBus
	cacheTTL time.Duration
}

// NewService creates a service over records. cache and bus may be nil.
func NewService(records []domain.Record, engine *insight.Engine, c domain.Cache, b domain.EventBus, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Service{
		records:     records,
		fingerprint: dataset.Fingerprint(records),
		options:     filter.Options(records),
		engine:      engine,
		assembler:   report.NewAssembler(),
		cache:       c,
		bus:         b,
		cacheTTL:    cacheTTL,
	}
}

// DatasetSize returns the number of loaded records.
func (s *Service) DatasetSize() int {
	return len(s.records)
}

// Fingerprint identifies the loaded dataset.
func (s *Service) Fingerprint() string {
	return s.fingerprint
}

// Options returns the filter domain of the dataset.
func (s *Service) Options() domain.FilterOptions {
	return s.options
}

// Rules returns the enabled rules in declaration order.
func (s *Service) Rules() []*domain.RuleConfig {
	return s.engine.Rules()
}

// ValidateRule compiles a rule without registering it.
func (s *Service) ValidateRule(cfg *domain.RuleConfig) error {
	return s.engine.ValidateRule(cfg)
}

// View applies criteria to the dataset.
func (s *Service) View(ctx context.Context, criteria domain.FilterCriteria) ([]domain.Record, error) {
	_, span := tracer.Start(ctx, "analysis.filter")
	defer span.End()

	view, err := filter.Apply(s.records, criteria)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("view.size", len(view)))
	return view, nil
}

// Summary computes the summary statistics of the filtered view.
func (s *Service) Summary(ctx context.Context, criteria domain.FilterCriteria) (domain.Summary, error) {
	view, err := s.View(ctx, criteria)
	if err != nil {
		return domain.Summary{}, err
	}
	return aggregate.Summarize(view), nil
}

// Aggregate groups the filtered view by one or two dimensions.
func (s *Service) Aggregate(ctx context.Context, criteria domain.FilterCriteria, groupBy []domain.Dimension) (*domain.AggregateTable, error) {
	view, err := s.View(ctx, criteria)
	if err != nil {
		return nil, err
	}

	_, span := tracer.Start(ctx, "analysis.aggregate",
		trace.WithAttributes(attribute.String("group_by", domain.GroupingKey(groupBy))),
	)
	defer span.End()

	return aggregate.Aggregate(view, groupBy...)
}

// Insights returns the insight report of the filtered view. Reports are
// cached per dataset and criteria.
func (s *Service) Insights(ctx context.Context, criteria domain.FilterCriteria) (*domain.InsightReport, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	key := cache.ReportKey(s.fingerprint, s.engine.Digest(), criteria, nil)
	if s.cache != nil {
		rep, err := s.cache.GetReport(ctx, key)
		if err != nil {
			slog.Warn("report cache read failed", "error", err)
		}
		if rep != nil {
			rep.Metadata.Cached = true
			return rep, nil
		}
	}

	rep, _, err := s.run(ctx, criteria, nil)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetReport(ctx, key, rep, s.cacheTTL); err != nil {
			slog.Warn("report cache write failed", "error", err)
		}
	}
	return rep, nil
}

// Analyze runs a full pass: the insight report plus one table per grouping.
// Nil groupings use DefaultGroupings.
func (s *Service) Analyze(ctx context.Context, criteria domain.FilterCriteria, groupings [][]domain.Dimension) (*Analysis, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	groupings, err := NormalizeGroupings(groupings)
	if err != nil {
		return nil, err
	}

	key := cache.ReportKey(s.fingerprint, s.engine.Digest(), criteria, groupings)
	if cached := s.cachedAnalysis(ctx, key); cached != nil {
		return cached, nil
	}

	rep, tables, err := s.run(ctx, criteria, groupings)
	if err != nil {
		return nil, err
	}
	a := &Analysis{Report: rep, Tables: tables}

	if s.cache != nil {
		if data, err := json.Marshal(a); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
				slog.Warn("analysis cache write failed", "error", err)
			}
		}
	}
	return a, nil
}

// Bundle runs a pass and returns the export artifacts of its view.
func (s *Service) Bundle(ctx context.Context, criteria domain.FilterCriteria, groupings [][]domain.Dimension) (*Analysis, []domain.Record, error) {
	a, err := s.Analyze(ctx, criteria, groupings)
	if err != nil {
		return nil, nil, err
	}
	view, err := s.View(ctx, criteria)
	if err != nil {
		return nil, nil, err
	}
	return a, view, nil
}

func (s *Service) cachedAnalysis(ctx context.Context, key string) *Analysis {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("analysis cache read failed", "error", err)
		return nil
	}
	if data == nil {
		return nil
	}

	var a Analysis
	if err := json.Unmarshal(data, &a); err != nil || a.Report == nil {
		slog.Warn("discarding unreadable cached analysis", "key", key)
		return nil
	}
	a.Report.Metadata.Cached = true
	return &a
}

// run executes one uncached pass.
func (s *Service) run(ctx context.Context, criteria domain.FilterCriteria, groupings [][]domain.Dimension) (*domain.InsightReport, []*domain.AggregateTable, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "analysis.pass",
		trace.WithAttributes(
			attribute.String("criteria", criteria.Key()),
			attribute.Int("groupings", len(groupings)),
		),
	)
	defer span.End()

	var timings report.Timings

	t := time.Now()
	view, err := s.View(ctx, criteria)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	timings.Filter = time.Since(t)

	t = time.Now()
	_, aggSpan := tracer.Start(ctx, "analysis.aggregate")
	summary := aggregate.Summarize(view)
	tables := make([]*domain.AggregateTable, 0, len(groupings))
	for _, g := range groupings {
		table, err := aggregate.Aggregate(view, g...)
		if err != nil {
			aggSpan.End()
			span.SetStatus(codes.Error, err.Error())
			return nil, nil, err
		}
		tables = append(tables, table)
	}
	aggSpan.End()
	timings.Aggregate = time.Since(t)

	t = time.Now()
	_, insightSpan := tracer.Start(ctx, "analysis.insight")
	result := s.engine.Evaluate(view)
	insightSpan.SetAttributes(
		attribute.Int("rules.evaluated", result.Evaluated),
		attribute.Int("findings", len(result.Findings)),
	)
	insightSpan.End()
	timings.Insight = time.Since(t)

	for _, e := range result.Errors {
		slog.Debug("rule did not evaluate",
			"rule_id", e.RuleID,
			"subject", e.Subject,
			"error", e.Err,
		)
	}

	rep := s.assembler.Build(ctx, &report.BuildInput{
		TraceID:     TraceID(ctx),
		Criteria:    criteria,
		DatasetSize: len(s.records),
		ViewSize:    len(view),
		Summary:     summary,
		Result:      result,
		Timings:     timings,
		StartTime:   start,
	})

	span.SetAttributes(
		attribute.String("report.id", rep.ID),
		attribute.Int("view.size", len(view)),
	)

	s.publish(ctx, rep)
	return rep, tables, nil
}

// publish announces a generated report. Bus failures never fail the pass.
func (s *Service) publish(ctx context.Context, rep *domain.InsightReport) {
	if s.bus == nil {
		return
	}
	event := ReportEvent{
		ReportID:    rep.ID,
		TraceID:     rep.Metadata.TraceID,
		Criteria:    rep.Criteria,
		ViewSize:    rep.Metadata.ViewSize,
		Findings:    len(rep.Findings),
		High:        rep.SeverityCounts.High,
		GeneratedAt: rep.GeneratedAt,
	}
	if err := bus.PublishJSON(ctx, s.bus, domain.TopicReportGenerated, event); err != nil {
		slog.Warn("failed to publish report event",
			"report_id", rep.ID,
			"error", err,
		)
	}
}

// NormalizeGroupings resolves dimension names and applies the default
// groupings when none are given.
func NormalizeGroupings(groupings [][]domain.Dimension) ([][]domain.Dimension, error) {
	if len(groupings) == 0 {
		return DefaultGroupings, nil
	}
	out := make([][]domain.Dimension, len(groupings))
	for i, g := range groupings {
		if len(g) == 0 || len(g) > aggregate.MaxDimensions {
			return nil, fmt.Errorf("%w: grouping %d has %d dimensions", domain.ErrInvalidGrouping, i+1, len(g))
		}
		out[i] = make([]domain.Dimension, len(g))
		for j, d := range g {
			parsed, err := domain.ParseDimension(string(d))
			if err != nil {
				return nil, err
			}
			out[i][j] = parsed
		}
	}
	return out, nil
}
