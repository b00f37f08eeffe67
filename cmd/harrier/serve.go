package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/analysis"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/export"
	"github.com/opensource-finance/harrier/internal/scheduler"
	"github.com/opensource-finance/harrier/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cfg)
	},
}

func serve(cfg *domain.Config) error {
	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"dataset", cfg.Dataset.Source,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"tracing", cfg.Tracing.Enabled,
		"service_name", cfg.Tracing.ServiceName,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	records, err := loadRecords(ctx, cfg, repo)
	if err != nil {
		return err
	}

	engine, err := loadEngine(cfg.Rules)
	if err != nil {
		return fmt.Errorf("failed to initialize insight engine: %w", err)
	}
	slog.Info("insight engine initialized", "rules_count", engine.RulesCount())

	svc := analysis.NewService(records, engine, cacheImpl, busImpl, cfg.Cache.ReportTTL)

	// Scheduled exports need a worker to consume them.
	var exportWorker *worker.Worker
	if cfg.Export.Worker || cfg.Export.Schedule != "" {
		exportWorker = worker.NewWorker(busImpl, svc, cfg.Export)
		if err := exportWorker.Start(); err != nil {
			return fmt.Errorf("failed to start export worker: %w", err)
		}
	}

	var sched *scheduler.Scheduler
	if cfg.Export.Schedule != "" {
		sched, err = scheduler.New(busImpl, cfg.Export.Schedule)
		if err != nil {
			return err
		}
		sched.Start()
	}

	srv := api.NewServer(cfg.Server, svc, repo, cacheImpl, busImpl, export.OptionsFromConfig(cfg.Export), Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		return err
	}
	slog.Info("shutting down...")

	if sched != nil {
		sched.Stop()
	}
	if exportWorker != nil {
		if err := exportWorker.Stop(); err != nil {
			slog.Error("failed to stop export worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	w := os.Stdout
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  HARRIER  employee attrition insights")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", version)
	fmt.Fprintf(w, "  Dataset:  %s\n", cfg.Dataset.Source)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    GET  /options                     - Filter values")
	fmt.Fprintln(w, "    GET  /summary                     - Summary statistics")
	fmt.Fprintln(w, "    GET  /aggregates?group_by=        - Aggregate table")
	fmt.Fprintln(w, "    POST /analyze                     - Report plus tables")
	fmt.Fprintln(w, "    GET  /insights                    - Insight report")
	fmt.Fprintln(w, "    GET  /export/records.csv          - Filtered records")
	fmt.Fprintln(w, "    GET  /export/recommendations.txt  - Recommendations")
	fmt.Fprintln(w, "    POST /exports                     - Queue an export bundle")
	fmt.Fprintln(w, "    GET  /rules                       - List insight rules")
	fmt.Fprintln(w, "    GET  /health                      - Health check")
	fmt.Fprintln(w)
}
