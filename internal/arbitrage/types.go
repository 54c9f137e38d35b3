package arbitrage

import (
	"strings"
	"time"
)

// SpreadSample is one recorded observation of a cross-exchange funding
// spread. Samples are append-only; one per pairing per sampling cycle.
type SpreadSample struct {
	Asset         string    `json:"asset"`
	ExchangeLong  string    `json:"exchange_long"`
	ExchangeShort string    `json:"exchange_short"`
	RateSpread    float64   `json:"funding_rate_spread"`
	APRSpread     float64   `json:"apr_spread"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// PairKey returns the canonical identity of this sample's exchange pair.
func (s *SpreadSample) PairKey() string {
	return PairKey(s.Asset, s.ExchangeLong, s.ExchangeShort)
}

// PairKey canonicalizes an (asset, exchange, exchange) triple so that both
// orientations of a pairing land on one key. Exchange names are sorted
// lexicographically, matching the unordered-pair semantics of the history.
func PairKey(asset, exchangeA, exchangeB string) string {
	a := strings.ToLower(exchangeA)
	b := strings.ToLower(exchangeB)
	if a > b {
		a, b = b, a
	}
	return strings.ToUpper(asset) + "|" + a + "|" + b
}

// SpreadStatistics is the windowed aggregate for one unordered pairing,
// computed over the absolute APR spread of its samples.
type SpreadStatistics struct {
	Asset       string    `json:"asset"`
	ExchangeA   string    `json:"exchange_a"`
	ExchangeB   string    `json:"exchange_b"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"std_dev"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	P50         float64   `json:"p50"`
	P95         float64   `json:"p95"`
	P99         float64   `json:"p99"`
	SampleCount int       `json:"sample_count"`
	WindowStart time.Time `json:"window_start"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// ContractLeg describes one side of an opportunity.
type ContractLeg struct {
	Exchange             string    `json:"exchange"`
	Symbol               string    `json:"symbol"`
	FundingRate          float64   `json:"funding_rate"`
	FundingIntervalHours float64   `json:"funding_interval_hours"`
	AnnualizedRate       float64   `json:"annualized_rate"`
	MarkPrice            float64   `json:"mark_price"`
	OpenInterest         float64   `json:"open_interest"`
	ObservedAt           time.Time `json:"observed_at"`
}

// Opportunity is the transient output of the engine for one pairing: the
// current spread joined with its historical statistics. Statistical fields
// are nil until the pairing has enough history.
type Opportunity struct {
	Asset                string      `json:"asset"`
	Long                 ContractLeg `json:"long"`
	Short                ContractLeg `json:"short"`
	RateSpread           float64     `json:"rate_spread"`
	RateSpreadPct        float64     `json:"rate_spread_pct"`
	APRSpread            float64     `json:"apr_spread"`
	APRSpreadPct         float64     `json:"apr_spread_pct"`
	SpreadZScore         *float64    `json:"spread_zscore"`
	SpreadPercentile     *float64    `json:"spread_percentile"`
	SpreadMean           *float64    `json:"spread_mean"`
	SpreadStdDev         *float64    `json:"spread_std_dev"`
	SampleCount          int         `json:"sample_count"`
	IsSignificant        bool        `json:"is_significant"`
	IsExtreme            bool        `json:"is_extreme"`
	CombinedOpenInterest float64     `json:"combined_open_interest"`
}

// Sample converts an opportunity into the history record written during a
// sampling cycle.
func (o *Opportunity) Sample(recordedAt time.Time) SpreadSample {
	return SpreadSample{
		Asset:         o.Asset,
		ExchangeLong:  o.Long.Exchange,
		ExchangeShort: o.Short.Exchange,
		RateSpread:    o.RateSpread,
		APRSpread:     o.APRSpread,
		RecordedAt:    recordedAt,
	}
}
