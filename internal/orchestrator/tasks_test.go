package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fundarb/internal/arbitrage"
	"fundarb/internal/cache"
	"fundarb/internal/market"
)

type stubSnapshots struct {
	snapshots []market.FundingRateSnapshot
}

func (s *stubSnapshots) Current(ctx context.Context) ([]market.FundingRateSnapshot, error) {
	return s.snapshots, nil
}

type captureHub struct {
	mu    sync.Mutex
	calls int
	lastN int
}

func (h *captureHub) BroadcastOpportunities(opportunities []arbitrage.Opportunity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.lastN = len(opportunities)
}

func testSnapshotPair() []market.FundingRateSnapshot {
	now := time.Now()
	return []market.FundingRateSnapshot{
		{
			Exchange: "alpha", Symbol: "BTCUSDT", BaseAsset: "BTC",
			FundingRate: -0.0001, FundingIntervalHours: 8,
			MarkPrice: 50000, OpenInterest: 1_000_000, ObservedAt: now,
		},
		{
			Exchange: "beta", Symbol: "BTCUSDT", BaseAsset: "BTC",
			FundingRate: 0.0003, FundingIntervalHours: 8,
			MarkPrice: 50000, OpenInterest: 2_000_000, ObservedAt: now,
		},
	}
}

func newTaskFixture(cacher cache.Cacher) (*Tasks, *arbitrage.Service, *arbitrage.MemoryHistory, *captureHub) {
	history := arbitrage.NewMemoryHistory()
	scorer := arbitrage.NewScorer(history, arbitrage.ScorerConfig{MinSamples: 10})
	service := arbitrage.NewService(
		&stubSnapshots{snapshots: testSnapshotPair()},
		history,
		scorer,
		arbitrage.NewGenerator(0.0001),
		cacher,
		arbitrage.ServiceConfig{SamplingInterval: 5 * time.Minute, Retention: 90 * 24 * time.Hour},
	)
	hub := &captureHub{}
	tasks := NewTasks(service, nil, nil, hub, 0)
	return tasks, service, history, hub
}

func TestSpreadSamplingTask(t *testing.T) {
	tasks, _, history, hub := newTaskFixture(cache.NewMemoryCache(100))
	ctx := context.Background()

	if err := tasks.SpreadSampling().Handle(ctx); err != nil {
		t.Fatalf("Sampling task failed: %v", err)
	}

	window, err := history.Window(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if len(window) != 1 {
		t.Errorf("Expected 1 sample recorded, got %d", len(window))
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.calls != 1 {
		t.Errorf("Expected 1 broadcast, got %d", hub.calls)
	}
	// No history yet, so nothing is significant.
	if hub.lastN != 0 {
		t.Errorf("Expected empty significant set, got %d", hub.lastN)
	}
}

func TestSpreadSamplingTaskSkipsWhenLocked(t *testing.T) {
	cacher := cache.NewMemoryCache(100)
	tasks, _, _, hub := newTaskFixture(cacher)
	ctx := context.Background()

	acquired, err := cacher.AcquireLock(ctx, "spread_sampling", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("Failed to pre-acquire lock: %v", err)
	}

	err = tasks.SpreadSampling().Handle(ctx)
	if !errors.Is(err, ErrSkipped) {
		t.Fatalf("Expected ErrSkipped, got %v", err)
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.calls != 0 {
		t.Errorf("Skipped cycle must not broadcast, got %d calls", hub.calls)
	}
}

func TestStatsRefreshTask(t *testing.T) {
	tasks, service, history, _ := newTaskFixture(cache.NewMemoryCache(100))
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	samples := make([]arbitrage.SpreadSample, 12)
	for i := range samples {
		samples[i] = arbitrage.SpreadSample{
			Asset: "BTC", ExchangeLong: "alpha", ExchangeShort: "beta",
			APRSpread:  0.4 + float64(i%2)*0.02,
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	if _, err := history.Record(ctx, samples); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := tasks.StatsRefresh().Handle(ctx); err != nil {
		t.Fatalf("Stats refresh task failed: %v", err)
	}
	if service.StatsPairCount() != 1 {
		t.Errorf("Expected 1 pair materialized, got %d", service.StatsPairCount())
	}
	if service.StatsLastRefreshed().IsZero() {
		t.Error("Expected refresh timestamp to be set")
	}
}

func TestRetentionTask(t *testing.T) {
	tasks, _, history, _ := newTaskFixture(cache.NewMemoryCache(100))
	ctx := context.Background()

	now := time.Now()
	samples := []arbitrage.SpreadSample{
		{Asset: "BTC", ExchangeLong: "a", ExchangeShort: "b", RecordedAt: now.Add(-100 * 24 * time.Hour)},
		{Asset: "BTC", ExchangeLong: "a", ExchangeShort: "b", RecordedAt: now.Add(-time.Hour)},
	}
	if _, err := history.Record(ctx, samples); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := tasks.Retention().Handle(ctx); err != nil {
		t.Fatalf("Retention task failed: %v", err)
	}

	window, err := history.Window(ctx, now.Add(-365*24*time.Hour))
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if len(window) != 1 {
		t.Errorf("Expected 1 sample to survive retention, got %d", len(window))
	}
}

func TestRetentionTaskPrunesStaleSnapshots(t *testing.T) {
	store := market.NewMemorySnapshotStore()
	manager := market.NewManager(store, cache.NewMemoryCache(100), nil, time.Minute)
	ctx := context.Background()

	fresh := testSnapshotPair()
	stale := market.FundingRateSnapshot{
		Exchange: "gamma", Symbol: "BTCUSDT", BaseAsset: "BTC",
		FundingRate: 0.0001, FundingIntervalHours: 8,
		MarkPrice: 50000, OpenInterest: 100, ObservedAt: time.Now().Add(-48 * time.Hour),
	}
	if _, err := manager.Ingest(ctx, append(fresh, stale)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	history := arbitrage.NewMemoryHistory()
	service := arbitrage.NewService(manager, history,
		arbitrage.NewScorer(history, arbitrage.ScorerConfig{}),
		arbitrage.NewGenerator(0.0001), cache.NewMemoryCache(100), arbitrage.ServiceConfig{})
	tasks := NewTasks(service, manager, nil, nil, 24*time.Hour)

	if err := tasks.Retention().Handle(ctx); err != nil {
		t.Fatalf("Retention task failed: %v", err)
	}

	snapshots, err := manager.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	for _, snap := range snapshots {
		if snap.Exchange == "gamma" {
			t.Error("Stale gamma snapshot survived pruning")
		}
	}
	if len(snapshots) != 2 {
		t.Errorf("Expected 2 fresh snapshots, got %d", len(snapshots))
	}
}

func TestTasksRegister(t *testing.T) {
	tasks, _, _, _ := newTaskFixture(cache.NewMemoryCache(100))
	scheduler := NewScheduler(time.Minute)

	err := tasks.Register(scheduler, "0 */5 * * * *", "30 */5 * * * *", "0 0 3 * * *")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	registered := scheduler.ListTasks()
	if len(registered) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(registered))
	}
	names := map[string]bool{}
	for _, task := range registered {
		names[task.Name] = true
	}
	for _, want := range []string{TaskSpreadSampling, TaskStatsRefresh, TaskHistoryRetention} {
		if !names[want] {
			t.Errorf("Task %s not registered", want)
		}
	}
}
