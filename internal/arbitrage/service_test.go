package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"fundarb/internal/cache"
	apperrors "fundarb/internal/errors"
	"fundarb/internal/market"
)

type stubSource struct {
	snapshots []market.FundingRateSnapshot
	err       error
}

func (s *stubSource) Current(ctx context.Context) ([]market.FundingRateSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshots, nil
}

func sourceSnap(exchange, symbol, asset string, rate, intervalHours, openInterest float64) market.FundingRateSnapshot {
	return market.FundingRateSnapshot{
		Exchange:             exchange,
		Symbol:               symbol,
		BaseAsset:            asset,
		FundingRate:          rate,
		FundingIntervalHours: intervalHours,
		MarkPrice:            100,
		OpenInterest:         openInterest,
		ObservedAt:           time.Now(),
	}
}

func newTestService(t *testing.T, source SnapshotSource, history History, cfg ServiceConfig) *Service {
	t.Helper()

	if history == nil {
		history = NewMemoryHistory()
	}
	scorer := NewScorer(history, ScorerConfig{MinSamples: 10})
	return NewService(source, history, scorer, NewGenerator(0.0001), cache.NewMemoryCache(100), cfg)
}

func expectValidationError(t *testing.T, err error) {
	t.Helper()

	if err == nil {
		t.Fatal("Expected a validation error")
	}
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		t.Fatalf("Expected AppError, got %T: %v", err, err)
	}
	if appErr.Code != apperrors.ErrCodeValidation {
		t.Errorf("Expected code %s, got %s", apperrors.ErrCodeValidation, appErr.Code)
	}
}

func TestQueryRequestValidate(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		req := QueryRequest{}
		if err := req.Validate(50, 500); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if req.Page != 1 || req.PageSize != 50 {
			t.Errorf("Expected page 1 size 50, got %d/%d", req.Page, req.PageSize)
		}
		if req.SortBy != SortByAPRSpread || req.SortDir != SortDesc {
			t.Errorf("Expected default sort apr_spread desc, got %s %s", req.SortBy, req.SortDir)
		}
	})

	t.Run("asset sort defaults ascending", func(t *testing.T) {
		req := QueryRequest{SortBy: SortByAsset}
		if err := req.Validate(50, 500); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if req.SortDir != SortAsc {
			t.Errorf("Expected asc, got %s", req.SortDir)
		}
	})

	t.Run("normalizes filter casing", func(t *testing.T) {
		req := QueryRequest{
			Assets:    []string{" btc", "eth "},
			Exchanges: []string{"Binance", " BYBIT"},
		}
		if err := req.Validate(50, 500); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if req.Assets[0] != "BTC" || req.Assets[1] != "ETH" {
			t.Errorf("Expected uppercased assets, got %v", req.Assets)
		}
		if req.Exchanges[0] != "binance" || req.Exchanges[1] != "bybit" {
			t.Errorf("Expected lowercased exchanges, got %v", req.Exchanges)
		}
	})

	minAPR := 0.5
	maxAPR := 0.1
	negative := -1.0
	zero := 0.0

	invalid := []struct {
		name string
		req  QueryRequest
	}{
		{"negative page", QueryRequest{Page: -1}},
		{"page size over cap", QueryRequest{PageSize: 501}},
		{"negative page size", QueryRequest{PageSize: -5}},
		{"min_apr above max_apr", QueryRequest{MinAPRSpread: &minAPR, MaxAPRSpread: &maxAPR}},
		{"unknown sort key", QueryRequest{SortBy: "mark_price"}},
		{"unknown sort direction", QueryRequest{SortDir: "sideways"}},
		{"negative min spread", QueryRequest{MinSpread: &negative}},
		{"negative oi either", QueryRequest{MinOpenInterestEither: &negative}},
		{"negative oi combined", QueryRequest{MinOpenInterestCombined: &negative}},
		{"zero interval", QueryRequest{Intervals: []float64{zero}}},
		{"negative interval", QueryRequest{Intervals: []float64{8, -4}}},
	}

	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			expectValidationError(t, req.Validate(50, 500))
		})
	}
}

func TestServiceEndToEnd(t *testing.T) {
	source := &stubSource{snapshots: []market.FundingRateSnapshot{
		sourceSnap("exchangea", "BTCUSDT", "BTC", -0.0001, 8, 1_000_000),
		sourceSnap("exchangeb", "BTCUSDT", "BTC", 0.0003, 8, 2_000_000),
	}}
	svc := newTestService(t, source, nil, ServiceConfig{})

	result, err := svc.QueryOpportunities(context.Background(), QueryRequest{})
	if err != nil {
		t.Fatalf("QueryOpportunities failed: %v", err)
	}

	if len(result.Opportunities) != 1 {
		t.Fatalf("Expected 1 opportunity, got %d", len(result.Opportunities))
	}
	opp := result.Opportunities[0]
	if opp.Long.Exchange != "exchangea" || opp.Short.Exchange != "exchangeb" {
		t.Errorf("Expected long exchangea / short exchangeb, got %s/%s", opp.Long.Exchange, opp.Short.Exchange)
	}
	if math.Abs(opp.RateSpread-0.0004) > 1e-12 {
		t.Errorf("Expected rate spread 0.0004, got %v", opp.RateSpread)
	}
	if math.Abs(opp.APRSpread-0.438) > 1e-12 {
		t.Errorf("Expected APR spread 0.438, got %v", opp.APRSpread)
	}
	if math.Abs(opp.APRSpreadPct-43.8) > 1e-9 {
		t.Errorf("Expected APR spread pct 43.8, got %v", opp.APRSpreadPct)
	}
	if opp.SpreadZScore != nil {
		t.Error("Expected nil z-score with no history")
	}

	if result.Pagination.Total != 1 || result.Pagination.TotalPages != 1 {
		t.Errorf("Unexpected pagination: %+v", result.Pagination)
	}
	if result.Statistics.Count != 1 || math.Abs(result.Statistics.MaxAPRSpread-0.438) > 1e-12 {
		t.Errorf("Unexpected statistics: %+v", result.Statistics)
	}
}

func TestServiceSourceErrorPropagates(t *testing.T) {
	source := &stubSource{err: errors.New("store down")}
	svc := newTestService(t, source, nil, ServiceConfig{})

	if _, err := svc.QueryOpportunities(context.Background(), QueryRequest{}); err == nil {
		t.Fatal("Expected error when the snapshot source is down")
	}
}

func filterFixture() *stubSource {
	return &stubSource{snapshots: []market.FundingRateSnapshot{
		// BTC on three exchanges; alpha/beta spread 0.0004 at 8h, gamma 1h leg.
		sourceSnap("alpha", "BTCUSDT", "BTC", -0.0001, 8, 5_000_000),
		sourceSnap("beta", "BTCUSDT", "BTC", 0.0003, 8, 3_000_000),
		sourceSnap("gamma", "BTC-PERP", "BTC", 0.00002, 1, 500_000),
		// ETH on two.
		sourceSnap("alpha", "ETHUSDT", "ETH", 0.0001, 8, 2_000_000),
		sourceSnap("delta", "ETH-USD", "ETH", 0.0009, 8, 100_000),
		// SOL only on one exchange: never paired.
		sourceSnap("alpha", "SOLUSDT", "SOL", 0.0005, 8, 900_000),
	}}
}

func TestServiceQueryFilters(t *testing.T) {
	svc := newTestService(t, filterFixture(), nil, ServiceConfig{})
	ctx := context.Background()

	query := func(t *testing.T, req QueryRequest) *QueryResult {
		t.Helper()
		result, err := svc.QueryOpportunities(ctx, req)
		if err != nil {
			t.Fatalf("QueryOpportunities failed: %v", err)
		}
		return result
	}

	t.Run("unfiltered pairs all assets", func(t *testing.T) {
		result := query(t, QueryRequest{})
		// BTC has 3 exchanges -> 3 pairs; ETH has 2 -> 1 pair; SOL none.
		if result.Pagination.Total != 4 {
			t.Fatalf("Expected 4 opportunities, got %d", result.Pagination.Total)
		}
	})

	t.Run("asset allow list", func(t *testing.T) {
		result := query(t, QueryRequest{Assets: []string{"eth"}})
		if result.Pagination.Total != 1 {
			t.Fatalf("Expected 1 ETH opportunity, got %d", result.Pagination.Total)
		}
		if result.Opportunities[0].Asset != "ETH" {
			t.Errorf("Expected ETH, got %s", result.Opportunities[0].Asset)
		}
	})

	t.Run("exchange filter matches either leg", func(t *testing.T) {
		result := query(t, QueryRequest{Exchanges: []string{"gamma"}})
		if result.Pagination.Total != 2 {
			t.Fatalf("Expected 2 opportunities touching gamma, got %d", result.Pagination.Total)
		}
		for _, opp := range result.Opportunities {
			if opp.Long.Exchange != "gamma" && opp.Short.Exchange != "gamma" {
				t.Errorf("Opportunity %s/%s does not touch gamma", opp.Long.Exchange, opp.Short.Exchange)
			}
		}
	})

	t.Run("interval filter matches either leg", func(t *testing.T) {
		result := query(t, QueryRequest{Intervals: []float64{1}})
		if result.Pagination.Total != 2 {
			t.Fatalf("Expected 2 opportunities with a 1h leg, got %d", result.Pagination.Total)
		}
	})

	t.Run("apr range", func(t *testing.T) {
		minAPR := 0.4
		result := query(t, QueryRequest{MinAPRSpread: &minAPR})
		for _, opp := range result.Opportunities {
			if opp.APRSpread < minAPR {
				t.Errorf("Opportunity below min_apr: %v", opp.APRSpread)
			}
		}
		if result.Pagination.Total == 0 {
			t.Error("Expected at least one opportunity above 0.4 APR")
		}

		maxAPR := 0.4
		capped := query(t, QueryRequest{MaxAPRSpread: &maxAPR})
		for _, opp := range capped.Opportunities {
			if opp.APRSpread > maxAPR {
				t.Errorf("Opportunity above max_apr: %v", opp.APRSpread)
			}
		}
		if result.Pagination.Total+capped.Pagination.Total != 4 {
			t.Errorf("Range halves do not partition the set: %d + %d",
				result.Pagination.Total, capped.Pagination.Total)
		}
	})

	t.Run("min oi either requires both legs to clear", func(t *testing.T) {
		floor := 1_000_000.0
		result := query(t, QueryRequest{MinOpenInterestEither: &floor})
		// Only alpha/beta BTC (5M/3M) and alpha ETH leg (2M) vs delta (100k).
		if result.Pagination.Total != 1 {
			t.Fatalf("Expected 1 opportunity with both legs >= 1M, got %d", result.Pagination.Total)
		}
		opp := result.Opportunities[0]
		if opp.Asset != "BTC" || opp.Long.OpenInterest < floor || opp.Short.OpenInterest < floor {
			t.Errorf("Wrong opportunity passed the either-leg floor: %+v", opp)
		}
	})

	t.Run("min oi combined", func(t *testing.T) {
		floor := 6_000_000.0
		result := query(t, QueryRequest{MinOpenInterestCombined: &floor})
		if result.Pagination.Total != 1 {
			t.Fatalf("Expected 1 opportunity with combined OI >= 6M, got %d", result.Pagination.Total)
		}
		if result.Opportunities[0].CombinedOpenInterest < floor {
			t.Errorf("Combined OI below floor: %v", result.Opportunities[0].CombinedOpenInterest)
		}
	})

	t.Run("filters combine with AND", func(t *testing.T) {
		result := query(t, QueryRequest{
			Assets:    []string{"BTC"},
			Exchanges: []string{"gamma"},
		})
		if result.Pagination.Total != 2 {
			t.Fatalf("Expected 2 BTC opportunities touching gamma, got %d", result.Pagination.Total)
		}
	})

	t.Run("min spread floor", func(t *testing.T) {
		floor := 0.0004
		result := query(t, QueryRequest{MinSpread: &floor})
		for _, opp := range result.Opportunities {
			if opp.RateSpread < floor {
				t.Errorf("Opportunity below min_spread: %v", opp.RateSpread)
			}
		}
	})
}

func TestServiceSignificanceFilter(t *testing.T) {
	history := NewMemoryHistory()
	// BTC alpha/beta sits at |APR spread| 0.438; history mean 0.41 stddev
	// 0.01 puts it at z=2.8: significant, not extreme.
	spreads := make([]float64, 0, 12)
	for i := 0; i < 6; i++ {
		spreads = append(spreads, 0.40, 0.42)
	}
	seedHistory(t, history, "BTC", "alpha", "beta", spreads)

	source := &stubSource{snapshots: []market.FundingRateSnapshot{
		sourceSnap("alpha", "BTCUSDT", "BTC", -0.0001, 8, 1_000_000),
		sourceSnap("beta", "BTCUSDT", "BTC", 0.0003, 8, 1_000_000),
		// SOL pair with no history: never significant.
		sourceSnap("alpha", "SOLUSDT", "SOL", -0.0001, 8, 1_000_000),
		sourceSnap("beta", "SOLUSDT", "SOL", 0.0003, 8, 1_000_000),
	}}
	svc := newTestService(t, source, history, ServiceConfig{})

	if _, err := svc.RefreshStats(context.Background()); err != nil {
		t.Fatalf("RefreshStats failed: %v", err)
	}

	result, err := svc.QueryOpportunities(context.Background(), QueryRequest{SignificantOnly: true})
	if err != nil {
		t.Fatalf("QueryOpportunities failed: %v", err)
	}
	if result.Pagination.Total != 1 {
		t.Fatalf("Expected only the BTC opportunity to be significant, got %d", result.Pagination.Total)
	}
	opp := result.Opportunities[0]
	if opp.Asset != "BTC" {
		t.Errorf("Expected BTC, got %s", opp.Asset)
	}
	if opp.SpreadZScore == nil || math.Abs(*opp.SpreadZScore-2.8) > 1e-9 {
		t.Errorf("Expected z-score 2.8, got %v", opp.SpreadZScore)
	}
	if !opp.IsSignificant || opp.IsExtreme {
		t.Errorf("Expected significant but not extreme, got %v/%v", opp.IsSignificant, opp.IsExtreme)
	}

	extreme, err := svc.QueryOpportunities(context.Background(), QueryRequest{ExtremeOnly: true})
	if err != nil {
		t.Fatalf("QueryOpportunities failed: %v", err)
	}
	if extreme.Pagination.Total != 0 {
		t.Errorf("Expected no extreme opportunities, got %d", extreme.Pagination.Total)
	}

	stats := result.Statistics
	if stats.SignificantCount != 1 || stats.ExtremeCount != 0 {
		t.Errorf("Unexpected aggregate significance counts: %+v", stats)
	}
}

func TestServiceSortOrders(t *testing.T) {
	svc := newTestService(t, filterFixture(), nil, ServiceConfig{})
	ctx := context.Background()

	t.Run("default apr descending", func(t *testing.T) {
		result, err := svc.QueryOpportunities(ctx, QueryRequest{})
		if err != nil {
			t.Fatalf("QueryOpportunities failed: %v", err)
		}
		for i := 1; i < len(result.Opportunities); i++ {
			if result.Opportunities[i].APRSpread > result.Opportunities[i-1].APRSpread {
				t.Fatalf("Not sorted descending at %d: %v > %v", i,
					result.Opportunities[i].APRSpread, result.Opportunities[i-1].APRSpread)
			}
		}
	})

	t.Run("asset ascending", func(t *testing.T) {
		result, err := svc.QueryOpportunities(ctx, QueryRequest{SortBy: SortByAsset})
		if err != nil {
			t.Fatalf("QueryOpportunities failed: %v", err)
		}
		for i := 1; i < len(result.Opportunities); i++ {
			if result.Opportunities[i].Asset < result.Opportunities[i-1].Asset {
				t.Fatalf("Not sorted by asset ascending at %d", i)
			}
		}
	})

	t.Run("combined oi ascending", func(t *testing.T) {
		result, err := svc.QueryOpportunities(ctx, QueryRequest{SortBy: SortByCombinedOI, SortDir: SortAsc})
		if err != nil {
			t.Fatalf("QueryOpportunities failed: %v", err)
		}
		for i := 1; i < len(result.Opportunities); i++ {
			if result.Opportunities[i].CombinedOpenInterest < result.Opportunities[i-1].CombinedOpenInterest {
				t.Fatalf("Not sorted by combined OI ascending at %d", i)
			}
		}
	})

	t.Run("zscore sort puts unscored last", func(t *testing.T) {
		history := NewMemoryHistory()
		spreads := make([]float64, 12)
		for i := range spreads {
			spreads[i] = 0.40 + float64(i%2)*0.02
		}
		seedHistory(t, history, "BTC", "alpha", "beta", spreads)

		svcScored := newTestService(t, filterFixture(), history, ServiceConfig{})
		if _, err := svcScored.RefreshStats(ctx); err != nil {
			t.Fatalf("RefreshStats failed: %v", err)
		}

		result, err := svcScored.QueryOpportunities(ctx, QueryRequest{SortBy: SortByZScore})
		if err != nil {
			t.Fatalf("QueryOpportunities failed: %v", err)
		}
		seenNil := false
		for _, opp := range result.Opportunities {
			if opp.SpreadZScore == nil {
				seenNil = true
			} else if seenNil {
				t.Fatal("Scored opportunity after an unscored one")
			}
		}
		if result.Opportunities[0].SpreadZScore == nil {
			t.Error("Expected the scored BTC pair first")
		}
	})
}

func TestServicePaginationConcatenation(t *testing.T) {
	// 8 exchanges for one asset: 28 pairings.
	snapshots := make([]market.FundingRateSnapshot, 0, 8)
	for i := 0; i < 8; i++ {
		exchange := fmt.Sprintf("ex%02d", i)
		rate := 0.0001 * float64(i+1)
		snapshots = append(snapshots, sourceSnap(exchange, "BTCUSDT", "BTC", rate, 8, float64(1000*(i+1))))
	}
	svc := newTestService(t, &stubSource{snapshots: snapshots}, nil, ServiceConfig{})
	ctx := context.Background()

	full, err := svc.QueryOpportunities(ctx, QueryRequest{PageSize: 100})
	if err != nil {
		t.Fatalf("QueryOpportunities failed: %v", err)
	}
	if full.Pagination.Total != 28 {
		t.Fatalf("Expected 28 pairings, got %d", full.Pagination.Total)
	}

	key := func(o Opportunity) string {
		return o.Asset + "|" + o.Long.Exchange + "|" + o.Short.Exchange
	}

	var concatenated []string
	pageSize := 5
	expectedPages := 6 // ceil(28/5)
	for page := 1; page <= expectedPages; page++ {
		result, err := svc.QueryOpportunities(ctx, QueryRequest{Page: page, PageSize: pageSize})
		if err != nil {
			t.Fatalf("Page %d failed: %v", page, err)
		}
		if result.Pagination.TotalPages != expectedPages {
			t.Fatalf("Expected %d total pages, got %d", expectedPages, result.Pagination.TotalPages)
		}
		if result.Statistics.Count != 28 {
			t.Errorf("Aggregate statistics must cover the filtered set, got count %d", result.Statistics.Count)
		}
		for _, opp := range result.Opportunities {
			concatenated = append(concatenated, key(opp))
		}
	}

	if len(concatenated) != 28 {
		t.Fatalf("Concatenated pages hold %d items, want 28", len(concatenated))
	}
	for i, opp := range full.Opportunities {
		if concatenated[i] != key(opp) {
			t.Fatalf("Page concatenation diverges at %d: %s != %s", i, concatenated[i], key(opp))
		}
	}

	t.Run("page beyond range is empty", func(t *testing.T) {
		result, err := svc.QueryOpportunities(ctx, QueryRequest{Page: 7, PageSize: pageSize})
		if err != nil {
			t.Fatalf("QueryOpportunities failed: %v", err)
		}
		if len(result.Opportunities) != 0 {
			t.Errorf("Expected empty page, got %d items", len(result.Opportunities))
		}
		if result.Opportunities == nil {
			t.Error("Expected empty slice, not nil")
		}
		if result.Pagination.Total != 28 {
			t.Errorf("Total must still report the filtered set, got %d", result.Pagination.Total)
		}
	})
}

func TestServiceSampleSpreads(t *testing.T) {
	history := NewMemoryHistory()
	svc := newTestService(t, filterFixture(), history, ServiceConfig{SamplingInterval: 5 * time.Minute})
	ctx := context.Background()

	recorded, err := svc.SampleSpreads(ctx)
	if err != nil {
		t.Fatalf("SampleSpreads failed: %v", err)
	}
	if recorded != 4 {
		t.Fatalf("Expected 4 samples recorded, got %d", recorded)
	}

	// Same cycle again: the truncated timestamp dedupes every sample.
	recorded, err = svc.SampleSpreads(ctx)
	if err != nil {
		t.Fatalf("SampleSpreads failed: %v", err)
	}
	if recorded != 0 {
		t.Errorf("Expected idempotent re-run to record 0, got %d", recorded)
	}

	window, err := history.Window(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if len(window) != 4 {
		t.Errorf("Expected 4 samples in history, got %d", len(window))
	}
	for _, sample := range window {
		if !sample.RecordedAt.Equal(sample.RecordedAt.Truncate(5 * time.Minute)) {
			t.Errorf("Sample timestamp not on the cycle grid: %v", sample.RecordedAt)
		}
	}
}

func TestServiceSampleSpreadsLocked(t *testing.T) {
	cacher := cache.NewMemoryCache(100)
	history := NewMemoryHistory()
	scorer := NewScorer(history, ScorerConfig{})
	svc := NewService(filterFixture(), history, scorer, NewGenerator(0.0001), cacher, ServiceConfig{})
	ctx := context.Background()

	acquired, err := cacher.AcquireLock(ctx, samplingLockName, time.Minute)
	if err != nil || !acquired {
		t.Fatalf("Failed to pre-acquire lock: %v", err)
	}

	if _, err := svc.SampleSpreads(ctx); !errors.Is(err, ErrSamplingLocked) {
		t.Fatalf("Expected ErrSamplingLocked, got %v", err)
	}

	if err := cacher.ReleaseLock(ctx, samplingLockName); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if _, err := svc.SampleSpreads(ctx); err != nil {
		t.Fatalf("Expected sampling to run after release, got %v", err)
	}
}

func TestServicePruneHistory(t *testing.T) {
	history := NewMemoryHistory()
	now := time.Now()
	old := []SpreadSample{
		{Asset: "BTC", ExchangeLong: "a", ExchangeShort: "b", RecordedAt: now.Add(-100 * 24 * time.Hour)},
		{Asset: "BTC", ExchangeLong: "a", ExchangeShort: "b", RecordedAt: now.Add(-95 * 24 * time.Hour)},
		{Asset: "BTC", ExchangeLong: "a", ExchangeShort: "b", RecordedAt: now.Add(-time.Hour)},
	}
	if _, err := history.Record(context.Background(), old); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	svc := newTestService(t, &stubSource{}, history, ServiceConfig{Retention: 90 * 24 * time.Hour})
	pruned, err := svc.PruneHistory(context.Background())
	if err != nil {
		t.Fatalf("PruneHistory failed: %v", err)
	}
	if pruned != 2 {
		t.Errorf("Expected 2 pruned, got %d", pruned)
	}
}

func TestServiceQueryCancelled(t *testing.T) {
	svc := newTestService(t, filterFixture(), nil, ServiceConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.QueryOpportunities(ctx, QueryRequest{})
	if err == nil {
		t.Fatal("Expected cancellation error")
	}
	appErr := apperrors.GetAppError(err)
	if appErr == nil || appErr.Code != apperrors.ErrCodeTimeout {
		t.Errorf("Expected TIMEOUT code, got %v", err)
	}
}

func TestServicePairHistoryAndStats(t *testing.T) {
	history := NewMemoryHistory()
	spreads := make([]float64, 12)
	for i := range spreads {
		spreads[i] = 0.01
	}
	seedHistory(t, history, "BTC", "alpha", "beta", spreads)

	svc := newTestService(t, &stubSource{}, history, ServiceConfig{})
	ctx := context.Background()

	if _, err := svc.RefreshStats(ctx); err != nil {
		t.Fatalf("RefreshStats failed: %v", err)
	}

	stats, ok := svc.PairStatistics("btc", "BETA", "ALPHA")
	if !ok {
		t.Fatal("Expected statistics regardless of casing and order")
	}
	if stats.SampleCount != 12 {
		t.Errorf("Expected 12 samples, got %d", stats.SampleCount)
	}

	samples, err := svc.PairHistory(ctx, "BTC", "beta", "alpha", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PairHistory failed: %v", err)
	}
	if len(samples) != 12 {
		t.Errorf("Expected 12 samples, got %d", len(samples))
	}

	if svc.StatsPairCount() != 1 {
		t.Errorf("Expected 1 pair tracked, got %d", svc.StatsPairCount())
	}
	if svc.StatsLastRefreshed().IsZero() {
		t.Error("Expected a refresh timestamp")
	}
}
