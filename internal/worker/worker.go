// Package worker runs asynchronous export requests received from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/analysis"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/export"
)

// Analyzer runs the pass an export bundle is built from.
type Analyzer interface {
	Bundle(ctx context.Context, criteria domain.FilterCriteria, groupings [][]domain.Dimension) (*analysis.Analysis, []domain.Record, error)
}

// Worker writes export bundles for requests published on the EventBus.
type Worker struct {
	bus      domain.EventBus
	analyzer Analyzer
	outDir   string
	opts     export.Options

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new export worker writing under cfg.OutDir.
func NewWorker(b domain.EventBus, analyzer Analyzer, cfg domain.ExportConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	outDir := cfg.OutDir
	if outDir == "" {
		outDir = "./exports"
	}
	return &Worker{
		bus:      b,
		analyzer: analyzer,
		outDir:   outDir,
		opts:     export.OptionsFromConfig(cfg),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to export requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicExportRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicExportRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("export worker started",
		"topic", domain.TopicExportRequested,
		"out_dir", w.outDir,
	)
	return nil
}

// handleMessage decodes an export request, runs it and announces the result.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	var req domain.ExportRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse export request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}

	result := w.Export(ctx, req)

	if err := bus.PublishJSON(ctx, w.bus, domain.TopicExportCompleted, result); err != nil {
		slog.Error("failed to publish export result",
			"request_id", result.RequestID,
			"error", err,
		)
	}
	return nil
}

// Export runs one export request synchronously. Failures are reported in the
// result's Error field.
func (w *Worker) Export(ctx context.Context, req domain.ExportRequest) domain.ExportResult {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	result := domain.ExportResult{RequestID: req.RequestID}

	dir, err := w.requestDir(req.RequestID)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Dir = dir

	if req.TraceID != "" {
		ctx = analysis.WithTraceID(ctx, req.TraceID)
	}

	a, view, err := w.analyzer.Bundle(ctx, req.Criteria, req.GroupBy)
	if err != nil {
		slog.Error("export analysis failed",
			"request_id", req.RequestID,
			"error", err,
		)
		result.Error = err.Error()
		return result
	}

	files, err := export.WriteBundle(dir, export.Bundle{
		Report: a.Report,
		View:   view,
		Tables: a.Tables,
	}, w.opts)
	result.Files = files
	if err != nil {
		slog.Error("failed to write export bundle",
			"request_id", req.RequestID,
			"dir", dir,
			"error", err,
		)
		result.Error = err.Error()
		return result
	}

	slog.Info("export written",
		"request_id", req.RequestID,
		"dir", dir,
		"files", len(files),
		"findings", len(a.Report.Findings),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result
}

// requestDir resolves the bundle directory of a request, rejecting IDs that
// would escape the output directory.
func (w *Worker) requestDir(requestID string) (string, error) {
	if requestID == "." || requestID == ".." || strings.ContainsAny(requestID, `/\`) {
		return "", fmt.Errorf("invalid export request id %q", requestID)
	}
	return filepath.Join(w.outDir, requestID), nil
}

// Stop gracefully stops the worker, waiting for in-flight exports.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("export worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	OutDir            string   `json:"outDir"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		OutDir:            w.outDir,
	}
}
