package arbitrage

import (
	"math"
	"testing"
	"time"

	"fundarb/internal/market"
)

func snap(exchange, symbol, asset string, rate, intervalHours, oi float64) market.FundingRateSnapshot {
	return market.FundingRateSnapshot{
		Exchange:             exchange,
		Symbol:               symbol,
		BaseAsset:            asset,
		FundingRate:          rate,
		FundingIntervalHours: intervalHours,
		MarkPrice:            100,
		OpenInterest:         oi,
		ObservedAt:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestGenerateLongShortAssignment(t *testing.T) {
	gen := NewGenerator(0)

	snapshots := []market.FundingRateSnapshot{
		snap("exchangea", "BTCUSDT", "BTC", -0.0001, 8, 1_000_000),
		snap("exchangeb", "BTCUSDT", "BTC", 0.0003, 8, 2_000_000),
	}

	opps := gen.Generate(snapshots)
	if len(opps) != 1 {
		t.Fatalf("Expected 1 opportunity, got %d", len(opps))
	}

	opp := opps[0]
	if opp.Asset != "BTC" {
		t.Errorf("Expected asset BTC, got %s", opp.Asset)
	}
	if opp.Long.Exchange != "exchangea" {
		t.Errorf("Expected long on exchangea, got %s", opp.Long.Exchange)
	}
	if opp.Short.Exchange != "exchangeb" {
		t.Errorf("Expected short on exchangeb, got %s", opp.Short.Exchange)
	}
	if math.Abs(opp.RateSpread-0.0004) > 1e-15 {
		t.Errorf("Expected rate_spread 0.0004, got %v", opp.RateSpread)
	}

	// 0.0004 per 8h extrapolates to 43.8% a year.
	expectedAPR := 0.0004 * 8760 / 8
	if math.Abs(opp.APRSpread-expectedAPR) > 1e-12 {
		t.Errorf("Expected apr_spread %v, got %v", expectedAPR, opp.APRSpread)
	}
	if math.Abs(opp.APRSpreadPct-43.8) > 1e-9 {
		t.Errorf("Expected apr_spread_pct 43.8, got %v", opp.APRSpreadPct)
	}
	if opp.CombinedOpenInterest != 3_000_000 {
		t.Errorf("Expected combined OI 3000000, got %v", opp.CombinedOpenInterest)
	}
}

func TestGenerateSpreadNonNegative(t *testing.T) {
	gen := NewGenerator(0)

	rates := []float64{-0.003, -0.0001, 0, 0.0001, 0.0015}
	for _, ra := range rates {
		for _, rb := range rates {
			snapshots := []market.FundingRateSnapshot{
				snap("alpha", "XUSDT", "X", ra, 8, 100),
				snap("beta", "XUSDT", "X", rb, 8, 100),
			}
			opps := gen.Generate(snapshots)
			if len(opps) != 1 {
				t.Fatalf("Expected 1 opportunity for rates %v/%v", ra, rb)
			}
			if opps[0].RateSpread < 0 {
				t.Errorf("Negative rate_spread %v for rates %v/%v", opps[0].RateSpread, ra, rb)
			}
		}
	}
}

func TestGenerateOrderIndependent(t *testing.T) {
	gen := NewGenerator(0)

	a := snap("alpha", "ETHUSDT", "ETH", -0.0002, 8, 500)
	b := snap("beta", "ETHUSDT", "ETH", 0.0001, 4, 700)

	first := gen.Generate([]market.FundingRateSnapshot{a, b})
	second := gen.Generate([]market.FundingRateSnapshot{b, a})

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("Expected 1 opportunity from each order")
	}
	if first[0].RateSpread != second[0].RateSpread {
		t.Errorf("Spread depends on input order: %v vs %v", first[0].RateSpread, second[0].RateSpread)
	}
	if first[0].Long.Exchange != second[0].Long.Exchange {
		t.Errorf("Assignment depends on input order: %s vs %s", first[0].Long.Exchange, second[0].Long.Exchange)
	}
}

func TestGenerateAllPairs(t *testing.T) {
	gen := NewGenerator(0)

	snapshots := []market.FundingRateSnapshot{
		snap("alpha", "SOLUSDT", "SOL", 0.0001, 8, 100),
		snap("beta", "SOLUSDT", "SOL", 0.0002, 8, 100),
		snap("gamma", "SOL-USDT-SWAP", "SOL", 0.0003, 8, 100),
	}

	opps := gen.Generate(snapshots)
	if len(opps) != 3 {
		t.Fatalf("Expected 3 unordered pairs from 3 exchanges, got %d", len(opps))
	}

	seen := make(map[string]bool)
	for _, opp := range opps {
		key := PairKey(opp.Asset, opp.Long.Exchange, opp.Short.Exchange)
		if seen[key] {
			t.Errorf("Duplicate pair %s", key)
		}
		seen[key] = true
	}
}

func TestGenerateMinSpreadFilter(t *testing.T) {
	gen := NewGenerator(0.0002)

	snapshots := []market.FundingRateSnapshot{
		snap("alpha", "AUSDT", "A", 0.0000, 8, 100),
		snap("beta", "AUSDT", "A", 0.0001, 8, 100), // spread 0.0001, below floor
		snap("alpha", "BUSDT", "B", 0.0000, 8, 100),
		snap("beta", "BUSDT", "B", 0.0002, 8, 100), // spread 0.0002, at floor
	}

	opps := gen.Generate(snapshots)
	if len(opps) != 1 {
		t.Fatalf("Expected 1 opportunity after min-spread filter, got %d", len(opps))
	}
	if opps[0].Asset != "B" {
		t.Errorf("Expected asset B to survive the filter, got %s", opps[0].Asset)
	}
}

func TestGenerateExcludesZeroInterval(t *testing.T) {
	gen := NewGenerator(0)

	snapshots := []market.FundingRateSnapshot{
		snap("alpha", "CUSDT", "C", 0.0001, 0, 100), // unusable interval
		snap("beta", "CUSDT", "C", 0.0003, 8, 100),
		snap("gamma", "CUSDT", "C", -0.0001, 8, 100),
	}

	opps := gen.Generate(snapshots)
	if len(opps) != 1 {
		t.Fatalf("Expected 1 opportunity (beta/gamma only), got %d", len(opps))
	}
	for _, leg := range []ContractLeg{opps[0].Long, opps[0].Short} {
		if leg.Exchange == "alpha" {
			t.Errorf("Zero-interval leg should have been excluded, got %+v", leg)
		}
	}
}

func TestGenerateContractTieBreak(t *testing.T) {
	gen := NewGenerator(0)

	t.Run("larger open interest wins", func(t *testing.T) {
		snapshots := []market.FundingRateSnapshot{
			snap("alpha", "PEPEUSDT", "PEPE", 0.0001, 8, 100),
			snap("alpha", "PEPEUSDC", "PEPE", 0.0005, 8, 900),
			snap("beta", "PEPE_USDT", "PEPE", -0.0001, 8, 100),
		}

		opps := gen.Generate(snapshots)
		if len(opps) != 1 {
			t.Fatalf("Expected 1 opportunity, got %d", len(opps))
		}
		if opps[0].Short.Symbol != "PEPEUSDC" {
			t.Errorf("Expected higher-OI contract PEPEUSDC, got %s", opps[0].Short.Symbol)
		}
	})

	t.Run("equal open interest prefers smaller symbol", func(t *testing.T) {
		snapshots := []market.FundingRateSnapshot{
			snap("alpha", "PEPEUSDT", "PEPE", 0.0001, 8, 100),
			snap("alpha", "PEPEUSDC", "PEPE", 0.0005, 8, 100),
			snap("beta", "PEPE_USDT", "PEPE", -0.0001, 8, 100),
		}

		opps := gen.Generate(snapshots)
		if len(opps) != 1 {
			t.Fatalf("Expected 1 opportunity, got %d", len(opps))
		}
		if opps[0].Short.Symbol != "PEPEUSDC" {
			t.Errorf("Expected lexicographically smaller PEPEUSDC, got %s", opps[0].Short.Symbol)
		}
	})
}

func TestGenerateEqualRatesDeterministic(t *testing.T) {
	gen := NewGenerator(0)

	snapshots := []market.FundingRateSnapshot{
		snap("beta", "DUSDT", "D", 0.0001, 8, 100),
		snap("alpha", "DUSDT", "D", 0.0001, 8, 100),
	}

	for i := 0; i < 10; i++ {
		opps := gen.Generate(snapshots)
		if len(opps) != 1 {
			t.Fatalf("Expected 1 opportunity, got %d", len(opps))
		}
		if opps[0].Long.Exchange != "alpha" || opps[0].Short.Exchange != "beta" {
			t.Fatalf("Expected deterministic alpha-long/beta-short for equal rates, got %s/%s",
				opps[0].Long.Exchange, opps[0].Short.Exchange)
		}
		if opps[0].RateSpread != 0 {
			t.Errorf("Expected zero spread for equal rates, got %v", opps[0].RateSpread)
		}
	}
}

func TestGenerateSingleExchangeNoPairs(t *testing.T) {
	gen := NewGenerator(0)

	opps := gen.Generate([]market.FundingRateSnapshot{
		snap("alpha", "BTCUSDT", "BTC", 0.0001, 8, 100),
	})
	if len(opps) != 0 {
		t.Errorf("Expected no opportunities for a single exchange, got %d", len(opps))
	}
}

func TestGenerateHeterogeneousIntervals(t *testing.T) {
	gen := NewGenerator(0)

	// Hourly funding on one leg, 8h on the other: each leg annualizes with
	// its own interval.
	snapshots := []market.FundingRateSnapshot{
		snap("alpha", "ETHUSDT", "ETH", -0.0001, 1, 100),
		snap("beta", "ETHUSDT", "ETH", 0.0003, 8, 100),
	}

	opps := gen.Generate(snapshots)
	if len(opps) != 1 {
		t.Fatalf("Expected 1 opportunity, got %d", len(opps))
	}

	opp := opps[0]
	expectedLongAPR := -0.0001 * 8760 / 1
	expectedShortAPR := 0.0003 * 8760 / 8
	if math.Abs(opp.Long.AnnualizedRate-expectedLongAPR) > 1e-12 {
		t.Errorf("Expected long APR %v, got %v", expectedLongAPR, opp.Long.AnnualizedRate)
	}
	if math.Abs(opp.Short.AnnualizedRate-expectedShortAPR) > 1e-12 {
		t.Errorf("Expected short APR %v, got %v", expectedShortAPR, opp.Short.AnnualizedRate)
	}
	if math.Abs(opp.APRSpread-(expectedShortAPR-expectedLongAPR)) > 1e-12 {
		t.Errorf("Expected apr_spread %v, got %v", expectedShortAPR-expectedLongAPR, opp.APRSpread)
	}
}
