// Package scheduler publishes export requests on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Scheduler triggers a whole-dataset export on every tick of its schedule.
type Scheduler struct {
	bus      domain.EventBus
	cron     *cron.Cron
	spec     string
	schedule cron.Schedule

	mu      sync.Mutex
	entryID cron.EntryID
	lastRun time.Time
	lastID  string
}

// New creates a scheduler for a standard cron spec (or descriptor such as
// "@daily" or "@every 1h").
func New(b domain.EventBus, spec string) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return &Scheduler{
		bus:      b,
		cron:     cron.New(),
		spec:     spec,
		schedule: schedule,
	}, nil
}

// Start schedules the export job and starts the cron loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.entryID = s.cron.Schedule(s.schedule, cron.FuncJob(s.run))
	s.mu.Unlock()

	s.cron.Start()
	slog.Info("export scheduler started",
		"schedule", s.spec,
		"next_run", s.NextRun(),
	)
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("export scheduler stopped")
}

// NextRun returns when the next export is due, or zero before Start.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	id := s.entryID
	s.mu.Unlock()

	if id == 0 {
		return time.Time{}
	}
	// The cron loop fills Next asynchronously after Start.
	if next := s.cron.Entry(id).Next; !next.IsZero() {
		return next
	}
	return s.schedule.Next(time.Now())
}

// LastRun returns when the scheduler last published and the request ID used.
func (s *Scheduler) LastRun() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastID
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.Trigger(ctx); err != nil {
		slog.Error("scheduled export failed", "error", err)
	}
}

// Trigger publishes one export request with empty criteria and returns its ID.
func (s *Scheduler) Trigger(ctx context.Context) (string, error) {
	req := domain.ExportRequest{
		RequestID: "scheduled-" + uuid.New().String(),
		Criteria:  domain.FilterCriteria{},
	}
	if err := bus.PublishJSON(ctx, s.bus, domain.TopicExportRequested, req); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastID = req.RequestID
	s.mu.Unlock()

	slog.Info("scheduled export requested", "request_id", req.RequestID)
	return req.RequestID, nil
}
