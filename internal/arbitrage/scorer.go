package arbitrage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"fundarb/internal/logger"
)

// ScorerConfig tunes the statistical scorer.
type ScorerConfig struct {
	// MinSamples is the sample count below which a pairing has no usable
	// statistics.
	MinSamples int

	// ZScoreSignificant and ZScoreExtreme are the |z| thresholds for
	// flagging opportunities.
	ZScoreSignificant float64
	ZScoreExtreme     float64

	// Window is how far back the materialized statistics look.
	Window time.Duration

	// MaxWindowSamples caps the retained samples per pairing; the most
	// recent win.
	MaxWindowSamples int
}

func (c *ScorerConfig) applyDefaults() {
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	if c.ZScoreSignificant <= 0 {
		c.ZScoreSignificant = 2.0
	}
	if c.ZScoreExtreme <= 0 {
		c.ZScoreExtreme = 3.0
	}
	if c.Window <= 0 {
		c.Window = 30 * 24 * time.Hour
	}
	if c.MaxWindowSamples <= 0 {
		c.MaxWindowSamples = 10000
	}
}

// pairStats couples the published aggregate with the sorted sample values
// needed for percentile ranks.
type pairStats struct {
	stats     SpreadStatistics
	sortedAbs []float64
}

// statsView is one immutable materialization of all pair statistics.
// Readers hold a pointer to a view; refreshes build a new view and swap it
// in whole, so a reader never observes a partial update.
type statsView struct {
	pairs       map[string]*pairStats
	windowStart time.Time
	refreshedAt time.Time
}

// Scorer maintains materialized spread statistics and scores current
// spreads against them. Score never touches the history store; it only
// reads the most recently refreshed view.
type Scorer struct {
	history History
	cfg     ScorerConfig

	mu   sync.RWMutex
	view *statsView
}

// NewScorer creates a scorer over the given history.
func NewScorer(history History, cfg ScorerConfig) *Scorer {
	cfg.applyDefaults()
	return &Scorer{history: history, cfg: cfg}
}

// Refresh rebuilds the statistics view from the full retained window and
// swaps it in atomically. Returns the number of pairings materialized.
func (s *Scorer) Refresh(ctx context.Context) (int, error) {
	start := time.Now()
	windowStart := start.Add(-s.cfg.Window)

	samples, err := s.history.Window(ctx, windowStart)
	if err != nil {
		return 0, fmt.Errorf("failed to load sample window: %w", err)
	}

	grouped := make(map[string][]SpreadSample)
	for _, sample := range samples {
		key := sample.PairKey()
		grouped[key] = append(grouped[key], sample)
	}

	view := &statsView{
		pairs:       make(map[string]*pairStats, len(grouped)),
		windowStart: windowStart,
		refreshedAt: start,
	}

	for key, pairSamples := range grouped {
		view.pairs[key] = s.materialize(pairSamples, windowStart, start)
	}

	s.mu.Lock()
	s.view = view
	s.mu.Unlock()

	logger.Debug("Spread statistics refreshed",
		"pairs", len(view.pairs),
		"samples", len(samples),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return len(view.pairs), nil
}

// materialize computes one pairing's aggregate. Samples arrive oldest
// first; when over the cap, the most recent remain.
func (s *Scorer) materialize(samples []SpreadSample, windowStart, refreshedAt time.Time) *pairStats {
	if len(samples) > s.cfg.MaxWindowSamples {
		samples = samples[len(samples)-s.cfg.MaxWindowSamples:]
	}

	sortedAbs := make([]float64, len(samples))
	for i, sample := range samples {
		sortedAbs[i] = math.Abs(sample.APRSpread)
	}
	sort.Float64s(sortedAbs)

	n := len(sortedAbs)
	var sum float64
	for _, v := range sortedAbs {
		sum += v
	}
	mean := sum / float64(n)

	var sumSquares float64
	for _, v := range sortedAbs {
		diff := v - mean
		sumSquares += diff * diff
	}
	stdDev := math.Sqrt(sumSquares / float64(n))

	last := samples[len(samples)-1]
	return &pairStats{
		stats: SpreadStatistics{
			Asset:       last.Asset,
			ExchangeA:   minString(last.ExchangeLong, last.ExchangeShort),
			ExchangeB:   maxString(last.ExchangeLong, last.ExchangeShort),
			Mean:        mean,
			StdDev:      stdDev,
			Min:         sortedAbs[0],
			Max:         sortedAbs[n-1],
			P50:         nearestRank(sortedAbs, 0.50),
			P95:         nearestRank(sortedAbs, 0.95),
			P99:         nearestRank(sortedAbs, 0.99),
			SampleCount: n,
			WindowStart: windowStart,
			RefreshedAt: refreshedAt,
		},
		sortedAbs: sortedAbs,
	}
}

// Score fills an opportunity's statistical fields from the current view.
// Pairings with insufficient history keep nil statistics, which is the
// normal state for newly observed pairs.
func (s *Scorer) Score(opp *Opportunity) {
	s.mu.RLock()
	view := s.view
	s.mu.RUnlock()

	if view == nil {
		return
	}

	pair, ok := view.pairs[PairKey(opp.Asset, opp.Long.Exchange, opp.Short.Exchange)]
	if !ok {
		return
	}

	opp.SampleCount = pair.stats.SampleCount
	if pair.stats.SampleCount < s.cfg.MinSamples {
		return
	}

	current := math.Abs(opp.APRSpread)

	mean := pair.stats.Mean
	stdDev := pair.stats.StdDev
	opp.SpreadMean = &mean
	opp.SpreadStdDev = &stdDev

	percentile := percentileRank(pair.sortedAbs, current)
	opp.SpreadPercentile = &percentile

	if stdDev == 0 {
		return
	}

	z := (current - mean) / stdDev
	opp.SpreadZScore = &z
	opp.IsSignificant = math.Abs(z) >= s.cfg.ZScoreSignificant
	opp.IsExtreme = math.Abs(z) >= s.cfg.ZScoreExtreme
}

// ScoreAll scores a batch in place.
func (s *Scorer) ScoreAll(opportunities []Opportunity) {
	for i := range opportunities {
		s.Score(&opportunities[i])
	}
}

// Statistics returns the materialized aggregate for one unordered pair.
func (s *Scorer) Statistics(asset, exchangeA, exchangeB string) (SpreadStatistics, bool) {
	s.mu.RLock()
	view := s.view
	s.mu.RUnlock()

	if view == nil {
		return SpreadStatistics{}, false
	}
	pair, ok := view.pairs[PairKey(asset, exchangeA, exchangeB)]
	if !ok {
		return SpreadStatistics{}, false
	}
	return pair.stats, true
}

// PairCount returns the number of pairings in the current view.
func (s *Scorer) PairCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.view == nil {
		return 0
	}
	return len(s.view.pairs)
}

// LastRefreshed returns when the current view was materialized.
func (s *Scorer) LastRefreshed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.view == nil {
		return time.Time{}
	}
	return s.view.refreshedAt
}

// percentileRank is the empirical percentile of current within sorted:
// the share of samples less than or equal to it, as a percentage.
func percentileRank(sorted []float64, current float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	countLE := sort.Search(len(sorted), func(i int) bool {
		return sorted[i] > current
	})
	return 100 * float64(countLE) / float64(len(sorted))
}

// nearestRank picks the q-th percentile by the nearest-rank method.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func minString(a, b string) string {
	if a < b {
		return a
	}
	return b
}

func maxString(a, b string) string {
	if a > b {
		return a
	}
	return b
}
