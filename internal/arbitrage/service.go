package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"fundarb/internal/cache"
	apperrors "fundarb/internal/errors"
	"fundarb/internal/logger"
	"fundarb/internal/market"
)

// ErrSamplingLocked reports that another instance holds the sampling lock
// for the current cycle.
var ErrSamplingLocked = errors.New("spread sampling already running on another instance")

const samplingLockName = "spread_sampling"

// Sort keys accepted by QueryRequest.
const (
	SortByAPRSpread  = "apr_spread"
	SortByRateSpread = "rate_spread"
	SortByZScore     = "zscore"
	SortByCombinedOI = "combined_oi"
	SortByAsset      = "asset"

	SortAsc  = "asc"
	SortDesc = "desc"
)

// SnapshotSource supplies the most recent funding snapshot per contract.
type SnapshotSource interface {
	Current(ctx context.Context) ([]market.FundingRateSnapshot, error)
}

// ServiceConfig tunes the arbitrage service.
type ServiceConfig struct {
	// SamplingInterval is the cycle grid; recorded_at timestamps are
	// truncated to it so re-running a cycle is idempotent.
	SamplingInterval time.Duration

	// LockTTL bounds how long a crashed instance can hold the sampling
	// lock.
	LockTTL time.Duration

	// Retention is how much spread history the pruning task keeps.
	Retention time.Duration

	DefaultPageSize int
	MaxPageSize     int
}

func (c *ServiceConfig) applyDefaults() {
	if c.SamplingInterval <= 0 {
		c.SamplingInterval = 5 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 90 * 24 * time.Hour
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 50
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 500
	}
}

// Service ties the pipeline together: current snapshots in, generated and
// scored opportunities out, with sampling and retention cycles on top.
// The query path only reads materialized state and holds no locks across
// requests.
type Service struct {
	snapshots SnapshotSource
	history   History
	scorer    *Scorer
	generator *Generator
	cache     cache.Cacher
	cfg       ServiceConfig
}

// NewService creates the arbitrage service.
func NewService(snapshots SnapshotSource, history History, scorer *Scorer, generator *Generator, cacher cache.Cacher, cfg ServiceConfig) *Service {
	cfg.applyDefaults()
	return &Service{
		snapshots: snapshots,
		history:   history,
		scorer:    scorer,
		generator: generator,
		cache:     cacher,
		cfg:       cfg,
	}
}

// QueryRequest is a validated opportunity query. Slice filters are OR
// within themselves and AND across; exchange and interval filters match
// when either leg matches.
type QueryRequest struct {
	Assets    []string
	Exchanges []string
	Intervals []float64

	MinSpread    *float64
	MinAPRSpread *float64
	MaxAPRSpread *float64

	MinOpenInterestEither   *float64
	MinOpenInterestCombined *float64

	SignificantOnly bool
	ExtremeOnly     bool

	SortBy  string
	SortDir string

	Page     int
	PageSize int
}

// Validate normalizes the request in place and rejects inconsistent
// parameters. Zero Page/PageSize/SortBy mean "use the default".
func (r *QueryRequest) Validate(defaultPageSize, maxPageSize int) error {
	if r.Page == 0 {
		r.Page = 1
	}
	if r.Page < 1 {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeValidation,
			"Invalid page number", fmt.Sprintf("page must be >= 1, got %d", r.Page), nil)
	}
	if r.PageSize == 0 {
		r.PageSize = defaultPageSize
	}
	if r.PageSize < 1 || r.PageSize > maxPageSize {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeValidation,
			"Invalid page size", fmt.Sprintf("page_size must be between 1 and %d, got %d", maxPageSize, r.PageSize), nil)
	}

	if r.SortBy == "" {
		r.SortBy = SortByAPRSpread
	}
	switch r.SortBy {
	case SortByAPRSpread, SortByRateSpread, SortByZScore, SortByCombinedOI, SortByAsset:
	default:
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeValidation,
			"Invalid sort key", fmt.Sprintf("sort_by %q is not supported", r.SortBy), nil)
	}
	if r.SortDir == "" {
		if r.SortBy == SortByAsset {
			r.SortDir = SortAsc
		} else {
			r.SortDir = SortDesc
		}
	}
	if r.SortDir != SortAsc && r.SortDir != SortDesc {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeValidation,
			"Invalid sort direction", fmt.Sprintf("sort_dir must be %q or %q, got %q", SortAsc, SortDesc, r.SortDir), nil)
	}

	if r.MinSpread != nil && *r.MinSpread < 0 {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeValidation,
			"Invalid minimum spread", "min_spread must be >= 0", nil)
	}
	if r.MinAPRSpread != nil && r.MaxAPRSpread != nil && *r.MinAPRSpread > *r.MaxAPRSpread {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeValidation,
			"Invalid APR spread range",
			fmt.Sprintf("min_apr %v is greater than max_apr %v", *r.MinAPRSpread, *r.MaxAPRSpread), nil)
	}
	if r.MinOpenInterestEither != nil && *r.MinOpenInterestEither < 0 {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeValidation,
			"Invalid open interest filter", "min_oi_either must be >= 0", nil)
	}
	if r.MinOpenInterestCombined != nil && *r.MinOpenInterestCombined < 0 {
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeValidation,
			"Invalid open interest filter", "min_oi_combined must be >= 0", nil)
	}
	for _, interval := range r.Intervals {
		if interval <= 0 {
			return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeValidation,
				"Invalid interval filter", fmt.Sprintf("intervals must be positive hours, got %v", interval), nil)
		}
	}

	for i, asset := range r.Assets {
		r.Assets[i] = strings.ToUpper(strings.TrimSpace(asset))
	}
	for i, exchange := range r.Exchanges {
		r.Exchanges[i] = strings.ToLower(strings.TrimSpace(exchange))
	}
	return nil
}

// Pagination describes the returned page within the filtered set.
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// QueryStats aggregates the whole filtered set, not just the page.
type QueryStats struct {
	Count            int     `json:"count"`
	MaxRateSpread    float64 `json:"max_rate_spread"`
	MaxAPRSpread     float64 `json:"max_apr_spread"`
	AvgAPRSpread     float64 `json:"avg_apr_spread"`
	SignificantCount int     `json:"significant_count"`
	ExtremeCount     int     `json:"extreme_count"`
	AssetCount       int     `json:"asset_count"`
}

// QueryResult is one page of opportunities with its aggregate statistics.
type QueryResult struct {
	Opportunities []Opportunity `json:"opportunities"`
	Statistics    QueryStats    `json:"statistics"`
	Pagination    Pagination    `json:"pagination"`
	GeneratedAt   time.Time     `json:"timestamp"`
}

// CurrentOpportunities generates and scores the full unfiltered set from
// the most recent snapshots.
func (s *Service) CurrentOpportunities(ctx context.Context) ([]Opportunity, error) {
	snapshots, err := s.snapshots.Current(ctx)
	if err != nil {
		return nil, err
	}

	opportunities := s.generator.Generate(snapshots)
	s.scorer.ScoreAll(opportunities)
	return opportunities, nil
}

// SignificantOpportunities returns the current opportunities whose spread
// is statistically significant.
func (s *Service) SignificantOpportunities(ctx context.Context) ([]Opportunity, error) {
	opportunities, err := s.CurrentOpportunities(ctx)
	if err != nil {
		return nil, err
	}

	significant := make([]Opportunity, 0, len(opportunities))
	for _, opp := range opportunities {
		if opp.IsSignificant {
			significant = append(significant, opp)
		}
	}
	return significant, nil
}

// QueryOpportunities runs the filter/sort/paginate pipeline over the
// current opportunity set.
func (s *Service) QueryOpportunities(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if err := req.Validate(s.cfg.DefaultPageSize, s.cfg.MaxPageSize); err != nil {
		return nil, err
	}

	opportunities, err := s.CurrentOpportunities(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]Opportunity, 0, len(opportunities))
	for _, opp := range opportunities {
		if matchesFilters(&opp, &req) {
			filtered = append(filtered, opp)
		}
	}

	// Soft cancellation guard between the pipeline stages.
	if err := ctx.Err(); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeTimeout, "Opportunity query cancelled")
	}

	stats := aggregateStats(filtered)
	sortOpportunities(filtered, req.SortBy, req.SortDir)

	total := len(filtered)
	totalPages := 0
	if total > 0 {
		totalPages = (total + req.PageSize - 1) / req.PageSize
	}

	page := []Opportunity{}
	if start := (req.Page - 1) * req.PageSize; start < total {
		end := start + req.PageSize
		if end > total {
			end = total
		}
		page = filtered[start:end]
	}

	return &QueryResult{
		Opportunities: page,
		Statistics:    stats,
		Pagination: Pagination{
			Total:      total,
			Page:       req.Page,
			PageSize:   req.PageSize,
			TotalPages: totalPages,
		},
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// SampleSpreads runs one sampling cycle: generate the current pairings and
// append one sample per pairing at the cycle-truncated timestamp. A
// distributed lock keeps concurrent instances from duplicating the work;
// the history's unique index keeps duplicates out even without it.
func (s *Service) SampleSpreads(ctx context.Context) (int, error) {
	acquired, err := s.cache.AcquireLock(ctx, samplingLockName, s.cfg.LockTTL)
	if err != nil {
		logger.Warn("Sampling lock unavailable, relying on history idempotency", "error", err)
	} else if !acquired {
		return 0, ErrSamplingLocked
	} else {
		defer func() {
			if err := s.cache.ReleaseLock(context.Background(), samplingLockName); err != nil {
				logger.Warn("Failed to release sampling lock", "error", err)
			}
		}()
	}

	snapshots, err := s.snapshots.Current(ctx)
	if err != nil {
		return 0, err
	}

	opportunities := s.generator.Generate(snapshots)
	if len(opportunities) == 0 {
		logger.Debug("Sampling cycle found no pairings")
		return 0, nil
	}

	recordedAt := time.Now().UTC().Truncate(s.cfg.SamplingInterval)
	samples := make([]SpreadSample, len(opportunities))
	for i := range opportunities {
		samples[i] = opportunities[i].Sample(recordedAt)
	}

	recorded, err := s.history.Record(ctx, samples)
	if err != nil {
		return 0, apperrors.WrapError(err, apperrors.ErrCodeHistoryStoreUnavailable, "Failed to record spread samples")
	}

	logger.Info("Spread sampling cycle complete",
		"pairings", len(samples),
		"recorded", recorded,
		"recorded_at", recordedAt.Format(time.RFC3339),
	)
	return recorded, nil
}

// RefreshStats rebuilds the materialized spread statistics.
func (s *Service) RefreshStats(ctx context.Context) (int, error) {
	return s.scorer.Refresh(ctx)
}

// PruneHistory removes samples older than the retention window.
func (s *Service) PruneHistory(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.Retention)
	pruned, err := s.history.Prune(ctx, cutoff)
	if err != nil {
		return 0, apperrors.WrapError(err, apperrors.ErrCodeHistoryStoreUnavailable, "Failed to prune spread history")
	}
	if pruned > 0 {
		logger.Info("Pruned spread history", "removed", pruned, "cutoff", cutoff.Format(time.RFC3339))
	}
	return pruned, nil
}

// PairStatistics returns the materialized statistics for one unordered
// exchange pair.
func (s *Service) PairStatistics(asset, exchangeA, exchangeB string) (SpreadStatistics, bool) {
	return s.scorer.Statistics(asset, exchangeA, exchangeB)
}

// PairHistory returns one unordered pair's recorded samples since a point
// in time, oldest first.
func (s *Service) PairHistory(ctx context.Context, asset, exchangeA, exchangeB string, since time.Time) ([]SpreadSample, error) {
	samples, err := s.history.WindowFor(ctx, asset, exchangeA, exchangeB, since)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeHistoryStoreUnavailable, "Failed to load pair history")
	}
	return samples, nil
}

// StatsLastRefreshed reports when the statistics view was last rebuilt.
func (s *Service) StatsLastRefreshed() time.Time {
	return s.scorer.LastRefreshed()
}

// StatsPairCount reports how many pairings the statistics view covers.
func (s *Service) StatsPairCount() int {
	return s.scorer.PairCount()
}

func matchesFilters(opp *Opportunity, req *QueryRequest) bool {
	if len(req.Assets) > 0 && !containsString(req.Assets, opp.Asset) {
		return false
	}
	if len(req.Exchanges) > 0 &&
		!containsString(req.Exchanges, opp.Long.Exchange) &&
		!containsString(req.Exchanges, opp.Short.Exchange) {
		return false
	}
	if len(req.Intervals) > 0 &&
		!containsFloat(req.Intervals, opp.Long.FundingIntervalHours) &&
		!containsFloat(req.Intervals, opp.Short.FundingIntervalHours) {
		return false
	}
	if req.MinSpread != nil && opp.RateSpread < *req.MinSpread {
		return false
	}
	if req.MinAPRSpread != nil && opp.APRSpread < *req.MinAPRSpread {
		return false
	}
	if req.MaxAPRSpread != nil && opp.APRSpread > *req.MaxAPRSpread {
		return false
	}
	if req.MinOpenInterestEither != nil && smallerLeg(opp) < *req.MinOpenInterestEither {
		return false
	}
	if req.MinOpenInterestCombined != nil && opp.CombinedOpenInterest < *req.MinOpenInterestCombined {
		return false
	}
	if req.SignificantOnly && !opp.IsSignificant {
		return false
	}
	if req.ExtremeOnly && !opp.IsExtreme {
		return false
	}
	return true
}

// smallerLeg is the open interest of the less liquid leg; the either-leg
// floor means both venues must clear it.
func smallerLeg(opp *Opportunity) float64 {
	if opp.Long.OpenInterest < opp.Short.OpenInterest {
		return opp.Long.OpenInterest
	}
	return opp.Short.OpenInterest
}

func aggregateStats(opportunities []Opportunity) QueryStats {
	stats := QueryStats{Count: len(opportunities)}
	if len(opportunities) == 0 {
		return stats
	}

	assets := make(map[string]bool)
	var aprSum float64
	for i := range opportunities {
		opp := &opportunities[i]
		assets[opp.Asset] = true
		aprSum += opp.APRSpread
		if opp.RateSpread > stats.MaxRateSpread {
			stats.MaxRateSpread = opp.RateSpread
		}
		if opp.APRSpread > stats.MaxAPRSpread {
			stats.MaxAPRSpread = opp.APRSpread
		}
		if opp.IsSignificant {
			stats.SignificantCount++
		}
		if opp.IsExtreme {
			stats.ExtremeCount++
		}
	}
	stats.AvgAPRSpread = aprSum / float64(len(opportunities))
	stats.AssetCount = len(assets)
	return stats
}

// sortOpportunities orders the filtered set. Opportunities without a
// z-score sort after scored ones regardless of direction; remaining ties
// fall back to (asset, long exchange, short exchange) for a stable,
// page-safe order.
func sortOpportunities(opportunities []Opportunity, sortBy, sortDir string) {
	desc := sortDir == SortDesc

	sort.Slice(opportunities, func(i, j int) bool {
		a, b := &opportunities[i], &opportunities[j]

		var less, equal bool
		switch sortBy {
		case SortByRateSpread:
			less, equal = a.RateSpread < b.RateSpread, a.RateSpread == b.RateSpread
		case SortByZScore:
			switch {
			case a.SpreadZScore == nil && b.SpreadZScore == nil:
				equal = true
			case a.SpreadZScore == nil:
				return false
			case b.SpreadZScore == nil:
				return true
			default:
				less = *a.SpreadZScore < *b.SpreadZScore
				equal = *a.SpreadZScore == *b.SpreadZScore
			}
		case SortByCombinedOI:
			less = a.CombinedOpenInterest < b.CombinedOpenInterest
			equal = a.CombinedOpenInterest == b.CombinedOpenInterest
		case SortByAsset:
			less, equal = a.Asset < b.Asset, a.Asset == b.Asset
		default:
			less, equal = a.APRSpread < b.APRSpread, a.APRSpread == b.APRSpread
		}

		if !equal {
			if desc {
				return !less
			}
			return less
		}
		return tieBreak(a, b)
	})
}

func tieBreak(a, b *Opportunity) bool {
	if a.Asset != b.Asset {
		return a.Asset < b.Asset
	}
	if a.Long.Exchange != b.Long.Exchange {
		return a.Long.Exchange < b.Long.Exchange
	}
	return a.Short.Exchange < b.Short.Exchange
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsFloat(haystack []float64, needle float64) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
