package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
)

func subscribeRequests(t *testing.T, b domain.EventBus) <-chan domain.ExportRequest {
	t.Helper()
	ch := make(chan domain.ExportRequest, 10)
	_, err := b.Subscribe(context.Background(), domain.TopicExportRequested, func(ctx context.Context, msg *domain.Message) error {
		var req domain.ExportRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return err
		}
		ch <- req
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch
}

func TestNew(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"0 6 * * 1", false},
		{"@daily", false},
		{"@every 1h", false},
		{"not a schedule", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			_, err := New(bus.NewChannelBus(1), tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestTrigger(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()
	requests := subscribeRequests(t, b)

	s, err := New(b, "@daily")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	id, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if !strings.HasPrefix(id, "scheduled-") {
		t.Errorf("unexpected request id %q", id)
	}

	select {
	case req := <-requests:
		if req.RequestID != id {
			t.Errorf("expected request %s, got %s", id, req.RequestID)
		}
		if req.Criteria.Key() != (domain.FilterCriteria{}).Key() {
			t.Errorf("scheduled exports should cover the whole dataset, got %+v", req.Criteria)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for export request")
	}

	if last, lastID := s.LastRun(); last.IsZero() || lastID != id {
		t.Errorf("unexpected last run %v / %s", last, lastID)
	}
}

func TestSchedule(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()
	requests := subscribeRequests(t, b)

	s, err := New(b, "@every 1s")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !s.NextRun().IsZero() {
		t.Error("next run should be zero before Start")
	}

	s.Start()
	defer s.Stop()

	if s.NextRun().IsZero() {
		t.Error("expected a next run after Start")
	}

	select {
	case req := <-requests:
		if req.RequestID == "" {
			t.Error("expected a request id")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for scheduled export")
	}
}
