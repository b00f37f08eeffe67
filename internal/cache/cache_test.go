package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := smallCache.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := smallCache.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("ReportCache", func(t *testing.T) {
		rep := &domain.InsightReport{
			ID:              "report-001",
			Recommendations: []string{"Review compensation in Sales"},
			Findings: []domain.Finding{
				{RuleID: "dominant-reason", Subject: "Sales", Severity: domain.SeverityHigh, Magnitude: 0.6},
			},
			Metadata: domain.ReportMetadata{ViewSize: 120},
		}

		if err := cache.SetReport(ctx, "r1", rep, time.Minute); err != nil {
			t.Fatalf("SetReport failed: %v", err)
		}

		got, err := cache.GetReport(ctx, "r1")
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected cached report")
		}
		if got.ID != rep.ID || got.Metadata.ViewSize != 120 {
			t.Errorf("unexpected report: %+v", got)
		}
		if len(got.Findings) != 1 || got.Findings[0].Severity != domain.SeverityHigh {
			t.Errorf("unexpected findings: %+v", got.Findings)
		}

		miss, err := cache.GetReport(ctx, "r-missing")
		if err != nil || miss != nil {
			t.Errorf("expected nil, nil on miss, got %v, %v", miss, err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		if val, _ := testCache.Get(ctx, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("NoneType", func(t *testing.T) {
		for _, typ := range []string{"", "none"} {
			cache, err := New(domain.CacheConfig{Type: typ})
			if err != nil {
				t.Fatalf("New(%q) failed: %v", typ, err)
			}
			ctx := context.Background()
			_ = cache.SetReport(ctx, "k", &domain.InsightReport{ID: "x"}, time.Minute)
			if rep, _ := cache.GetReport(ctx, "k"); rep != nil {
				t.Errorf("type %q should never hit, got %+v", typ, rep)
			}
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestReportKey(t *testing.T) {
	all := domain.FilterCriteria{}
	groupings := [][]domain.Dimension{{domain.DimDepartment}, {domain.DimDepartment, domain.DimGender}}

	a := ReportKey("fp1", "r1", all, groupings)
	if !strings.HasPrefix(a, "report:fp1:r1:") {
		t.Errorf("unexpected key %q", a)
	}
	if a != ReportKey("fp1", "r1", all, groupings) {
		t.Error("key should be stable")
	}
	if a == ReportKey("fp2", "r1", all, groupings) {
		t.Error("key should change with the dataset fingerprint")
	}
	if a == ReportKey("fp1", "r1", domain.FilterCriteria{Gender: "Female"}, groupings) {
		t.Error("key should change with the criteria")
	}
	if a == ReportKey("fp1", "r1", all, groupings[:1]) {
		t.Error("key should change with the groupings")
	}
	if a == ReportKey("fp1", "r2", all, groupings) {
		t.Error("key should change with the rule set")
	}

	joined := ReportKey("fp1", "r1", domain.FilterCriteria{Departments: []string{"a,b"}}, nil)
	split := ReportKey("fp1", "r1", domain.FilterCriteria{Departments: []string{"a", "b"}}, nil)
	if joined == split {
		t.Errorf("distinct department lists share key %q", joined)
	}
	if ReportKey("fp1", "r1", domain.FilterCriteria{Department: "a|gender=x"}, nil) ==
		ReportKey("fp1", "r1", domain.FilterCriteria{Department: "a", Gender: "x"}, nil) {
		t.Error("separators inside values should not merge criteria")
	}
}
