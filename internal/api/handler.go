package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/analysis"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/export"
	"github.com/opensource-finance/harrier/internal/insight"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *analysis.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	opts    export.Options
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *analysis.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, opts export.Options, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		opts:    opts,
		version: version,
	}
}

// AnalyzeRequest is the request body for POST /analyze and POST /exports.
type AnalyzeRequest struct {
	Criteria domain.FilterCriteria `json:"criteria"`
	GroupBy  [][]domain.Dimension  `json:"groupBy,omitempty"`
}

// ExportResponse is the response for POST /exports.
type ExportResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	TraceID   string `json:"traceId"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":   true,
		"records": h.svc.DatasetSize(),
		"rules":   len(h.svc.Rules()),
	})
}

// Options returns the filter domain of the dataset.
func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Options())
}

// Summary returns the summary statistics of the filtered view.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	criteria, err := criteriaFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	summary, err := h.svc.Summary(r.Context(), criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Aggregates returns one aggregate table of the filtered view.
func (h *Handler) Aggregates(w http.ResponseWriter, r *http.Request) {
	criteria, groupBy, err := tableQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	table, err := h.svc.Aggregate(r.Context(), criteria, groupBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// Analyze handles POST /analyze: report plus aggregate tables.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAnalyzeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	a, err := h.svc.Analyze(r.Context(), req.Criteria, req.GroupBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Insights returns the insight report of the filtered view.
func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	criteria, err := criteriaFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	rep, err := h.svc.Insights(r.Context(), criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ExportRecords downloads the filtered records as CSV.
func (h *Handler) ExportRecords(w http.ResponseWriter, r *http.Request) {
	criteria, err := criteriaFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.svc.View(r.Context(), criteria)
	if err != nil {
		writeError(w, err)
		return
	}

	writeAttachment(w, export.RecordsFile, "text/csv; charset=utf-8")
	if err := export.WriteRecordsCSV(w, view, h.options(r)); err != nil {
		slog.Error("failed to write records export", "error", err)
	}
}

// ExportStatistics downloads the summary statistics as CSV.
func (h *Handler) ExportStatistics(w http.ResponseWriter, r *http.Request) {
	criteria, err := criteriaFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	summary, err := h.svc.Summary(r.Context(), criteria)
	if err != nil {
		writeError(w, err)
		return
	}

	writeAttachment(w, export.StatisticsFile, "text/csv; charset=utf-8")
	if err := export.WriteSummaryCSV(w, summary, h.options(r)); err != nil {
		slog.Error("failed to write statistics export", "error", err)
	}
}

// ExportAggregates downloads one aggregate table as CSV.
func (h *Handler) ExportAggregates(w http.ResponseWriter, r *http.Request) {
	criteria, groupBy, err := tableQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	table, err := h.svc.Aggregate(r.Context(), criteria, groupBy)
	if err != nil {
		writeError(w, err)
		return
	}

	writeAttachment(w, export.TableFile(table), "text/csv; charset=utf-8")
	if err := export.WriteTableCSV(w, table, h.options(r)); err != nil {
		slog.Error("failed to write aggregates export", "error", err)
	}
}

// ExportRecommendations downloads the numbered recommendation list.
func (h *Handler) ExportRecommendations(w http.ResponseWriter, r *http.Request) {
	criteria, err := criteriaFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	rep, err := h.svc.Insights(r.Context(), criteria)
	if err != nil {
		writeError(w, err)
		return
	}

	writeAttachment(w, export.RecommendationsFile, "text/plain; charset=utf-8")
	if err := export.WriteRecommendationsText(w, rep, h.options(r)); err != nil {
		slog.Error("failed to write recommendations export", "error", err)
	}
}

// RequestExport handles POST /exports by publishing an export request for
// the export worker.
func (h *Handler) RequestExport(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	req, err := decodeAnalyzeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	// Reject configuration errors now rather than in the worker.
	if err := req.Criteria.Validate(); err != nil {
		writeError(w, err)
		return
	}
	groupings, err := analysis.NormalizeGroupings(req.GroupBy)
	if err != nil {
		writeError(w, err)
		return
	}

	traceID := GetTraceID(r.Context())
	msg := domain.ExportRequest{
		RequestID: uuid.New().String(),
		Criteria:  req.Criteria,
		GroupBy:   groupings,
		TraceID:   traceID,
	}
	if err := bus.PublishJSON(r.Context(), h.bus, domain.TopicExportRequested, msg); err != nil {
		slog.Error("failed to publish export request", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue export",
		})
		return
	}

	slog.Info("export queued", "request_id", msg.RequestID)
	writeJSON(w, http.StatusAccepted, ExportResponse{
		RequestID: msg.RequestID,
		Status:    "queued",
		TraceID:   traceID,
	})
}

// ListRules returns the enabled rules in declaration order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.svc.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.svc.Rules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// ValidateRule compiles a rule definition without registering it.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var cfg domain.RuleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.svc.ValidateRule(&cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"id":    cfg.ID,
	})
}

func (h *Handler) options(r *http.Request) export.Options {
	opts := h.opts
	switch d := strings.ToLower(r.URL.Query().Get("direction")); d {
	case export.DirectionLTR, export.DirectionRTL:
		opts.Direction = d
	}
	return opts
}

func decodeAnalyzeRequest(r *http.Request) (AnalyzeRequest, error) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("%w: invalid JSON request body", domain.ErrInvalidCriteria)
	}
	return req, nil
}

// criteriaFromQuery reads department, departments, gender, year_from and
// year_to. departments may repeat or be comma-separated.
func criteriaFromQuery(q url.Values) (domain.FilterCriteria, error) {
	c := domain.FilterCriteria{
		Department: q.Get("department"),
		Gender:     q.Get("gender"),
	}

	for _, v := range q["departments"] {
		for _, d := range strings.Split(v, ",") {
			if d = strings.TrimSpace(d); d != "" {
				c.Departments = append(c.Departments, d)
			}
		}
	}

	var err error
	if c.YearFrom, err = yearParam(q, "year_from"); err != nil {
		return c, err
	}
	if c.YearTo, err = yearParam(q, "year_to"); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func yearParam(q url.Values, name string) (*int, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" || strings.EqualFold(v, domain.AllValues) {
		return nil, nil
	}
	year, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a year, got %q", domain.ErrInvalidCriteria, name, v)
	}
	return &year, nil
}

// tableQuery reads criteria plus group_by, which defaults to department.
func tableQuery(q url.Values) (domain.FilterCriteria, []domain.Dimension, error) {
	criteria, err := criteriaFromQuery(q)
	if err != nil {
		return criteria, nil, err
	}

	groupBy, err := domain.ParseDimensions(q.Get("group_by"))
	if err != nil {
		return criteria, nil, err
	}
	if len(groupBy) == 0 {
		groupBy = []domain.Dimension{domain.DimDepartment}
	}
	return criteria, groupBy, nil
}

// writeError maps configuration errors to 400 and anything else to 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCriteria),
		errors.Is(err, domain.ErrUnknownDimension),
		errors.Is(err, domain.ErrInvalidGrouping),
		errors.Is(err, insight.ErrInvalidRule):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeAttachment(w http.ResponseWriter, filename, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
