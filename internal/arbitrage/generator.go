package arbitrage

import (
	"sort"

	"fundarb/internal/logger"
	"fundarb/internal/market"
)

// Generator enumerates cross-exchange pairings per canonical asset and
// computes their long/short spreads. Output order is deterministic for a
// given snapshot set.
type Generator struct {
	minSpread float64
}

// NewGenerator creates a generator that drops pairings whose per-interval
// rate spread is below minSpread.
func NewGenerator(minSpread float64) *Generator {
	if minSpread < 0 {
		minSpread = 0
	}
	return &Generator{minSpread: minSpread}
}

// MinSpread returns the configured spread floor.
func (g *Generator) MinSpread() float64 {
	return g.minSpread
}

// Generate builds the opportunity list from the current snapshot set.
// Snapshots without a usable funding interval are excluded up front;
// statistical fields are left nil for the scorer to fill in.
func (g *Generator) Generate(snapshots []market.FundingRateSnapshot) []Opportunity {
	byAsset := g.groupByAsset(snapshots)

	assets := make([]string, 0, len(byAsset))
	for asset := range byAsset {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	var opportunities []Opportunity
	for _, asset := range assets {
		legs := byAsset[asset]
		if len(legs) < 2 {
			continue
		}

		exchanges := make([]string, 0, len(legs))
		for exchange := range legs {
			exchanges = append(exchanges, exchange)
		}
		sort.Strings(exchanges)

		for i := 0; i < len(exchanges); i++ {
			for j := i + 1; j < len(exchanges); j++ {
				opp, ok := g.pair(asset, legs[exchanges[i]], legs[exchanges[j]])
				if ok {
					opportunities = append(opportunities, opp)
				}
			}
		}
	}

	return opportunities
}

// groupByAsset buckets snapshots by canonical asset, keeping one contract
// per exchange. When multiple contracts on one exchange map to the same
// asset, the one with the larger open interest wins; equal open interest
// falls back to the lexicographically smaller symbol so the choice is
// stable across runs.
func (g *Generator) groupByAsset(snapshots []market.FundingRateSnapshot) map[string]map[string]market.FundingRateSnapshot {
	byAsset := make(map[string]map[string]market.FundingRateSnapshot)

	for _, snap := range snapshots {
		if !snap.HasUsableInterval() {
			logger.Debug("Excluding snapshot without funding interval",
				"exchange", snap.Exchange,
				"symbol", snap.Symbol,
			)
			continue
		}

		asset := snap.BaseAsset
		if asset == "" {
			asset = snap.Symbol
		}

		legs, ok := byAsset[asset]
		if !ok {
			legs = make(map[string]market.FundingRateSnapshot)
			byAsset[asset] = legs
		}

		existing, ok := legs[snap.Exchange]
		if !ok || betterContract(snap, existing) {
			legs[snap.Exchange] = snap
		}
	}

	return byAsset
}

func betterContract(candidate, existing market.FundingRateSnapshot) bool {
	if candidate.OpenInterest != existing.OpenInterest {
		return candidate.OpenInterest > existing.OpenInterest
	}
	return candidate.Symbol < existing.Symbol
}

// pair builds the opportunity for two legs of the same asset. The leg with
// the lower funding rate goes long: longs collect (or pay least) there,
// while the short leg collects the higher positive rate. Equal rates fall
// back to exchange name order so the orientation is deterministic.
func (g *Generator) pair(asset string, a, b market.FundingRateSnapshot) (Opportunity, bool) {
	long, short := a, b
	if b.FundingRate < a.FundingRate {
		long, short = b, a
	}

	rateSpread := short.FundingRate - long.FundingRate
	if rateSpread < g.minSpread {
		return Opportunity{}, false
	}

	longAPR := Annualize(long.FundingRate, long.FundingIntervalHours)
	shortAPR := Annualize(short.FundingRate, short.FundingIntervalHours)
	aprSpread := shortAPR - longAPR

	return Opportunity{
		Asset: asset,
		Long: ContractLeg{
			Exchange:             long.Exchange,
			Symbol:               long.Symbol,
			FundingRate:          long.FundingRate,
			FundingIntervalHours: long.FundingIntervalHours,
			AnnualizedRate:       longAPR,
			MarkPrice:            long.MarkPrice,
			OpenInterest:         long.OpenInterest,
			ObservedAt:           long.ObservedAt,
		},
		Short: ContractLeg{
			Exchange:             short.Exchange,
			Symbol:               short.Symbol,
			FundingRate:          short.FundingRate,
			FundingIntervalHours: short.FundingIntervalHours,
			AnnualizedRate:       shortAPR,
			MarkPrice:            short.MarkPrice,
			OpenInterest:         short.OpenInterest,
			ObservedAt:           short.ObservedAt,
		},
		RateSpread:           rateSpread,
		RateSpreadPct:        rateSpread * 100,
		APRSpread:            aprSpread,
		APRSpreadPct:         aprSpread * 100,
		CombinedOpenInterest: long.OpenInterest + short.OpenInterest,
	}, true
}
