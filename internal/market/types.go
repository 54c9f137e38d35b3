package market

import (
	"fmt"
	"strings"
	"time"
)

// FundingRateSnapshot is the latest observed funding state for one
// perpetual contract on one exchange. Snapshots are immutable once
// recorded and superseded per (exchange, symbol) by newer observations.
type FundingRateSnapshot struct {
	Exchange             string    `json:"exchange"`
	Symbol               string    `json:"symbol"`
	BaseAsset            string    `json:"base_asset"`
	FundingRate          float64   `json:"funding_rate"`
	FundingIntervalHours float64   `json:"funding_interval_hours"`
	MarkPrice            float64   `json:"mark_price"`
	OpenInterest         float64   `json:"open_interest"`
	NextFundingTime      time.Time `json:"next_funding_time,omitempty"`
	ObservedAt           time.Time `json:"observed_at"`
}

// Validate checks the fields a collector must supply. The funding interval
// is allowed to be zero here; annualization excludes such records later as
// a data-quality case rather than an ingest failure.
func (s *FundingRateSnapshot) Validate() error {
	if strings.TrimSpace(s.Exchange) == "" {
		return fmt.Errorf("snapshot missing exchange")
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("snapshot missing symbol")
	}
	if s.FundingIntervalHours < 0 {
		return fmt.Errorf("snapshot for %s/%s has negative funding interval", s.Exchange, s.Symbol)
	}
	if s.OpenInterest < 0 {
		return fmt.Errorf("snapshot for %s/%s has negative open interest", s.Exchange, s.Symbol)
	}
	if s.ObservedAt.IsZero() {
		return fmt.Errorf("snapshot for %s/%s missing observation time", s.Exchange, s.Symbol)
	}
	return nil
}

// HasUsableInterval reports whether the snapshot can be annualized.
func (s *FundingRateSnapshot) HasUsableInterval() bool {
	return s.FundingIntervalHours > 0
}

// Key identifies the snapshot slot this observation supersedes.
func (s *FundingRateSnapshot) Key() string {
	return s.Exchange + "/" + s.Symbol
}

// ExchangeSummary describes one exchange's footprint in the current
// snapshot set.
type ExchangeSummary struct {
	Exchange       string    `json:"exchange"`
	ContractCount  int       `json:"contract_count"`
	AssetCount     int       `json:"asset_count"`
	LastObservedAt time.Time `json:"last_observed_at"`
}
