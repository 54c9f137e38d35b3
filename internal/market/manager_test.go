package market

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fundarb/internal/cache"
	"fundarb/internal/market/symbols"
)

type fakeStore struct {
	snapshots map[string]FundingRateSnapshot
	failing   bool
	upserts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: make(map[string]FundingRateSnapshot)}
}

func (s *fakeStore) UpsertSnapshots(ctx context.Context, snapshots []FundingRateSnapshot) error {
	if s.failing {
		return fmt.Errorf("store down")
	}
	for _, snap := range snapshots {
		s.snapshots[snap.Key()] = snap
	}
	s.upserts++
	return nil
}

func (s *fakeStore) CurrentSnapshots(ctx context.Context) ([]FundingRateSnapshot, error) {
	if s.failing {
		return nil, fmt.Errorf("store down")
	}
	out := make([]FundingRateSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	return out, nil
}

func (s *fakeStore) Exchanges(ctx context.Context) ([]string, error) {
	if s.failing {
		return nil, fmt.Errorf("store down")
	}
	seen := make(map[string]bool)
	var out []string
	for _, snap := range s.snapshots {
		if !seen[snap.Exchange] {
			seen[snap.Exchange] = true
			out = append(out, snap.Exchange)
		}
	}
	return out, nil
}

func (s *fakeStore) PruneStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.failing {
		return 0, fmt.Errorf("store down")
	}
	var pruned int64
	for key, snap := range s.snapshots {
		if snap.ObservedAt.Before(cutoff) {
			delete(s.snapshots, key)
			pruned++
		}
	}
	return pruned, nil
}

func testSnapshots(observedAt time.Time) []FundingRateSnapshot {
	return []FundingRateSnapshot{
		{
			Exchange:             "binance",
			Symbol:               "1000PEPEUSDT",
			FundingRate:          0.0003,
			FundingIntervalHours: 8,
			MarkPrice:            0.012,
			OpenInterest:         5_000_000,
			ObservedAt:           observedAt,
		},
		{
			Exchange:             "hyperliquid",
			Symbol:               "kPEPE",
			FundingRate:          -0.0001,
			FundingIntervalHours: 1,
			MarkPrice:            0.0121,
			OpenInterest:         2_000_000,
			ObservedAt:           observedAt,
		},
		{
			Exchange:             "binance",
			Symbol:               "BTCUSDT",
			FundingRate:          0.0001,
			FundingIntervalHours: 8,
			MarkPrice:            65000,
			OpenInterest:         900_000_000,
			ObservedAt:           observedAt,
		},
	}
}

func TestManagerIngestNormalizes(t *testing.T) {
	store := newFakeStore()
	mem := cache.NewMemoryCache(100)
	defer mem.Close()
	manager := NewManager(store, mem, symbols.NewNormalizer(nil), time.Minute)
	ctx := context.Background()

	accepted, err := manager.Ingest(ctx, testSnapshots(time.Now()))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if accepted != 3 {
		t.Errorf("Expected 3 accepted snapshots, got %d", accepted)
	}

	current, err := manager.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if len(current) != 3 {
		t.Fatalf("Expected 3 snapshots, got %d", len(current))
	}

	assets := make(map[string]int)
	for _, snap := range current {
		assets[snap.BaseAsset]++
	}
	if assets["PEPE"] != 2 {
		t.Errorf("Expected both PEPE contracts to normalize together, got %v", assets)
	}
	if assets["BTC"] != 1 {
		t.Errorf("Expected one BTC snapshot, got %v", assets)
	}
}

func TestManagerIngestDropsInvalid(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil, nil, time.Minute)
	ctx := context.Background()

	batch := []FundingRateSnapshot{
		{Exchange: "", Symbol: "BTCUSDT", FundingIntervalHours: 8, ObservedAt: time.Now()},
		{Exchange: "binance", Symbol: "", FundingIntervalHours: 8, ObservedAt: time.Now()},
		{Exchange: "binance", Symbol: "ETHUSDT", FundingIntervalHours: 8, FundingRate: 0.0001, ObservedAt: time.Now()},
	}

	accepted, err := manager.Ingest(ctx, batch)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if accepted != 1 {
		t.Errorf("Expected 1 accepted snapshot, got %d", accepted)
	}
}

func TestManagerIngestKeepsZeroInterval(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil, nil, time.Minute)
	ctx := context.Background()

	// Zero interval is a data-quality case for annualization, not an
	// ingest rejection.
	batch := []FundingRateSnapshot{
		{Exchange: "binance", Symbol: "XYZUSDT", FundingIntervalHours: 0, FundingRate: 0.0001, ObservedAt: time.Now()},
	}

	accepted, err := manager.Ingest(ctx, batch)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if accepted != 1 {
		t.Errorf("Expected zero-interval snapshot to be accepted, got %d", accepted)
	}
}

func TestManagerIngestStoreDown(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	manager := NewManager(store, nil, nil, time.Minute)
	ctx := context.Background()

	_, err := manager.Ingest(ctx, testSnapshots(time.Now()))
	if err == nil {
		t.Fatal("Expected error when store rejects batch")
	}
}

func TestManagerCurrentServesStaleWhenStoreDown(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil, nil, 10*time.Millisecond)
	ctx := context.Background()

	if _, err := manager.Ingest(ctx, testSnapshots(time.Now())); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	// Let the in-memory copy age past its freshness window, then take the
	// store away.
	time.Sleep(20 * time.Millisecond)
	store.failing = true

	current, err := manager.Current(ctx)
	if err != nil {
		t.Fatalf("Expected stale serve, got error: %v", err)
	}
	if len(current) != 3 {
		t.Errorf("Expected 3 stale snapshots, got %d", len(current))
	}
}

func TestManagerCurrentErrorWhenNothingAvailable(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	manager := NewManager(store, nil, nil, time.Minute)

	_, err := manager.Current(context.Background())
	if err == nil {
		t.Fatal("Expected error when store is down and nothing is cached")
	}
}

func TestManagerSupersedesByObservedAt(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil, nil, time.Minute)
	ctx := context.Background()

	now := time.Now()
	newer := []FundingRateSnapshot{{
		Exchange: "binance", Symbol: "BTCUSDT",
		FundingRate: 0.0005, FundingIntervalHours: 8, ObservedAt: now,
	}}
	older := []FundingRateSnapshot{{
		Exchange: "binance", Symbol: "BTCUSDT",
		FundingRate: 0.0001, FundingIntervalHours: 8, ObservedAt: now.Add(-time.Hour),
	}}

	if _, err := manager.Ingest(ctx, newer); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if _, err := manager.Ingest(ctx, older); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	current, err := manager.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if len(current) != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", len(current))
	}
	if current[0].FundingRate != 0.0005 {
		t.Errorf("Expected newer rate 0.0005 to win, got %v", current[0].FundingRate)
	}
}

func TestManagerExchanges(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil, nil, time.Minute)
	ctx := context.Background()

	if _, err := manager.Ingest(ctx, testSnapshots(time.Now())); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	exchanges, err := manager.Exchanges(ctx)
	if err != nil {
		t.Fatalf("Exchanges failed: %v", err)
	}
	if len(exchanges) != 2 {
		t.Fatalf("Expected 2 exchanges, got %v", exchanges)
	}
	if exchanges[0] != "binance" || exchanges[1] != "hyperliquid" {
		t.Errorf("Expected sorted exchanges, got %v", exchanges)
	}
}

func TestManagerExchangeSummaries(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil, nil, time.Minute)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	batch := testSnapshots(now.Add(-time.Minute))
	batch = append(batch, FundingRateSnapshot{
		Exchange:             "binance",
		Symbol:               "ETHUSDT",
		FundingRate:          0.0002,
		FundingIntervalHours: 8,
		MarkPrice:            3200,
		OpenInterest:         400_000_000,
		ObservedAt:           now,
	})
	if _, err := manager.Ingest(ctx, batch); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	summaries, err := manager.ExchangeSummaries(ctx)
	if err != nil {
		t.Fatalf("ExchangeSummaries failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("Expected 2 summaries, got %d", len(summaries))
	}

	binance := summaries[0]
	if binance.Exchange != "binance" {
		t.Fatalf("Expected binance first, got %s", binance.Exchange)
	}
	if binance.ContractCount != 3 {
		t.Errorf("Expected 3 binance contracts, got %d", binance.ContractCount)
	}
	if binance.AssetCount != 3 {
		t.Errorf("Expected 3 binance assets, got %d", binance.AssetCount)
	}
	if !binance.LastObservedAt.Equal(now) {
		t.Errorf("Expected freshest observation %v, got %v", now, binance.LastObservedAt)
	}

	hyperliquid := summaries[1]
	if hyperliquid.ContractCount != 1 || hyperliquid.AssetCount != 1 {
		t.Errorf("Expected 1 contract and 1 asset on hyperliquid, got %d and %d",
			hyperliquid.ContractCount, hyperliquid.AssetCount)
	}
}

func TestManagerSearchAssets(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil, nil, time.Minute)
	ctx := context.Background()

	now := time.Now()
	batch := []FundingRateSnapshot{
		{Exchange: "binance", Symbol: "BTCUSDT", FundingIntervalHours: 8, ObservedAt: now},
		{Exchange: "binance", Symbol: "ETHUSDT", FundingIntervalHours: 8, ObservedAt: now},
		{Exchange: "binance", Symbol: "ETCUSDT", FundingIntervalHours: 8, ObservedAt: now},
		{Exchange: "binance", Symbol: "WBTCUSDT", FundingIntervalHours: 8, ObservedAt: now},
	}
	if _, err := manager.Ingest(ctx, batch); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	t.Run("prefix before substring", func(t *testing.T) {
		matches, err := manager.SearchAssets(ctx, "BTC", 10)
		if err != nil {
			t.Fatalf("SearchAssets failed: %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("Expected 2 matches, got %v", matches)
		}
		if matches[0] != "BTC" || matches[1] != "WBTC" {
			t.Errorf("Expected [BTC WBTC], got %v", matches)
		}
	})

	t.Run("limit", func(t *testing.T) {
		matches, err := manager.SearchAssets(ctx, "ET", 1)
		if err != nil {
			t.Fatalf("SearchAssets failed: %v", err)
		}
		if len(matches) != 1 {
			t.Errorf("Expected limit of 1, got %v", matches)
		}
	})

	t.Run("empty query lists assets", func(t *testing.T) {
		matches, err := manager.SearchAssets(ctx, "", 10)
		if err != nil {
			t.Fatalf("SearchAssets failed: %v", err)
		}
		if len(matches) != 4 {
			t.Errorf("Expected all 4 assets, got %v", matches)
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		matches, err := manager.SearchAssets(ctx, "btc", 10)
		if err != nil {
			t.Fatalf("SearchAssets failed: %v", err)
		}
		if len(matches) != 2 {
			t.Errorf("Expected 2 matches for lowercase query, got %v", matches)
		}
	})
}

func TestSnapshotValidate(t *testing.T) {
	now := time.Now()

	valid := FundingRateSnapshot{
		Exchange: "binance", Symbol: "BTCUSDT",
		FundingIntervalHours: 8, ObservedAt: now,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid snapshot, got %v", err)
	}

	tests := []struct {
		name string
		snap FundingRateSnapshot
	}{
		{"missing exchange", FundingRateSnapshot{Symbol: "BTCUSDT", FundingIntervalHours: 8, ObservedAt: now}},
		{"missing symbol", FundingRateSnapshot{Exchange: "binance", FundingIntervalHours: 8, ObservedAt: now}},
		{"negative interval", FundingRateSnapshot{Exchange: "binance", Symbol: "BTCUSDT", FundingIntervalHours: -1, ObservedAt: now}},
		{"negative open interest", FundingRateSnapshot{Exchange: "binance", Symbol: "BTCUSDT", FundingIntervalHours: 8, OpenInterest: -5, ObservedAt: now}},
		{"missing observed_at", FundingRateSnapshot{Exchange: "binance", Symbol: "BTCUSDT", FundingIntervalHours: 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.snap.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
