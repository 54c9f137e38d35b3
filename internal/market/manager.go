package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fundarb/internal/cache"
	"fundarb/internal/errors"
	"fundarb/internal/logger"
	"fundarb/internal/market/symbols"
)

// Manager owns the current funding snapshot set: collectors push batches
// in, the opportunity engine and the API read the latest set back out.
type Manager struct {
	store      SnapshotStore
	cache      cache.Cacher
	normalizer *symbols.Normalizer
	cacheTTL   time.Duration

	mu       sync.RWMutex
	current  map[string]FundingRateSnapshot
	loadedAt time.Time
}

// NewManager creates a snapshot manager. The store may be nil, in which
// case the manager runs cache-only and loses state across restarts.
func NewManager(store SnapshotStore, cacher cache.Cacher, normalizer *symbols.Normalizer, cacheTTL time.Duration) *Manager {
	if normalizer == nil {
		normalizer = symbols.NewNormalizer(nil)
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Manager{
		store:      store,
		cache:      cacher,
		normalizer: normalizer,
		cacheTTL:   cacheTTL,
		current:    make(map[string]FundingRateSnapshot),
	}
}

// Warm loads the persisted snapshot set into memory, typically at startup.
func (m *Manager) Warm(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	snapshots, err := m.store.CurrentSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm snapshot set: %w", err)
	}

	m.replaceCurrent(snapshots)
	logger.Info("Snapshot set warmed", "count", len(snapshots))
	return nil
}

// Ingest validates, normalizes and stores a batch of snapshots. Invalid
// entries are dropped with a warning; the batch fails only when the store
// rejects it. Returns the number of accepted snapshots.
func (m *Manager) Ingest(ctx context.Context, snapshots []FundingRateSnapshot) (int, error) {
	accepted := make([]FundingRateSnapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		if err := snap.Validate(); err != nil {
			logger.Warn("Dropping invalid snapshot", "error", err.Error())
			continue
		}

		snap.Exchange = strings.ToLower(strings.TrimSpace(snap.Exchange))
		snap.BaseAsset = m.normalizer.Normalize(snap.Exchange, snap.Symbol)
		if snap.BaseAsset == strings.ToUpper(strings.TrimSpace(snap.Symbol)) && looksUnnormalized(snap.Symbol) {
			logger.Warn("Symbol passed through normalization unchanged",
				"exchange", snap.Exchange,
				"symbol", snap.Symbol,
			)
		}
		accepted = append(accepted, snap)
	}

	if len(accepted) == 0 {
		return 0, nil
	}

	if m.store != nil {
		if err := m.store.UpsertSnapshots(ctx, accepted); err != nil {
			return 0, errors.NewAppError(
				errors.ErrCodeSnapshotStoreUnavailable,
				"Snapshot store rejected batch",
				err,
			)
		}
	}

	m.mergeCurrent(accepted)
	m.refreshCache(ctx)
	return len(accepted), nil
}

// Current returns the latest snapshot per (exchange, symbol). It serves
// from memory, falls back to the shared cache and then the store, and as a
// last resort serves the stale in-memory copy when the store is down.
func (m *Manager) Current(ctx context.Context) ([]FundingRateSnapshot, error) {
	m.mu.RLock()
	if len(m.current) > 0 && time.Since(m.loadedAt) < m.cacheTTL {
		out := snapshotSlice(m.current)
		m.mu.RUnlock()
		return out, nil
	}
	m.mu.RUnlock()

	if m.cache != nil {
		var cached []FundingRateSnapshot
		if err := m.cache.GetCurrentSnapshots(ctx, &cached); err == nil && len(cached) > 0 {
			m.replaceCurrent(cached)
			return cached, nil
		}
	}

	if m.store != nil {
		snapshots, err := m.store.CurrentSnapshots(ctx)
		if err == nil {
			m.replaceCurrent(snapshots)
			m.refreshCache(ctx)
			return snapshots, nil
		}

		m.mu.RLock()
		stale := snapshotSlice(m.current)
		m.mu.RUnlock()
		if len(stale) > 0 {
			logger.Warn("Serving stale snapshot set, store unavailable", "error", err.Error())
			return stale, nil
		}

		return nil, errors.NewAppError(
			errors.ErrCodeSnapshotStoreUnavailable,
			"Snapshot store unavailable",
			err,
		)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshotSlice(m.current), nil
}

// Exchanges returns the distinct exchanges present in the current set.
func (m *Manager) Exchanges(ctx context.Context) ([]string, error) {
	snapshots, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var exchanges []string
	for _, snap := range snapshots {
		if !seen[snap.Exchange] {
			seen[snap.Exchange] = true
			exchanges = append(exchanges, snap.Exchange)
		}
	}
	sort.Strings(exchanges)
	return exchanges, nil
}

// ExchangeSummaries aggregates the current set per exchange: contract and
// asset counts plus the freshest observation time, sorted by exchange.
func (m *Manager) ExchangeSummaries(ctx context.Context) ([]ExchangeSummary, error) {
	snapshots, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make(map[string]*ExchangeSummary)
	assets := make(map[string]map[string]bool)
	for _, snap := range snapshots {
		summary, ok := summaries[snap.Exchange]
		if !ok {
			summary = &ExchangeSummary{Exchange: snap.Exchange}
			summaries[snap.Exchange] = summary
			assets[snap.Exchange] = make(map[string]bool)
		}
		summary.ContractCount++
		if snap.BaseAsset != "" && !assets[snap.Exchange][snap.BaseAsset] {
			assets[snap.Exchange][snap.BaseAsset] = true
			summary.AssetCount++
		}
		if snap.ObservedAt.After(summary.LastObservedAt) {
			summary.LastObservedAt = snap.ObservedAt
		}
	}

	out := make([]ExchangeSummary, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out, nil
}

// SearchAssets returns canonical assets matching the query, prefix matches
// first, then substring matches, each group alphabetical.
func (m *Manager) SearchAssets(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}

	assets, err := m.assetIndex(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" {
		if len(assets) > limit {
			assets = assets[:limit]
		}
		return assets, nil
	}

	var prefix, contains []string
	for _, asset := range assets {
		switch {
		case strings.HasPrefix(asset, q):
			prefix = append(prefix, asset)
		case strings.Contains(asset, q):
			contains = append(contains, asset)
		}
	}

	matches := append(prefix, contains...)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// HealthCheck reports whether the read path can produce a snapshot set.
func (m *Manager) HealthCheck(ctx context.Context) error {
	_, err := m.Current(ctx)
	return err
}

// PruneStale removes snapshots not observed within maxAge. Exchanges that
// disappear from the collector stop contributing to pairings once pruned.
func (m *Manager) PruneStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)

	pruned, err := m.store.PruneStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune stale snapshots: %w", err)
	}
	if pruned == 0 {
		return 0, nil
	}

	m.mu.Lock()
	for key, snap := range m.current {
		if snap.ObservedAt.Before(cutoff) {
			delete(m.current, key)
		}
	}
	m.mu.Unlock()

	m.refreshCache(ctx)
	logger.Info("Pruned stale snapshots", "removed", pruned, "max_age", maxAge.String())
	return pruned, nil
}

func (m *Manager) assetIndex(ctx context.Context) ([]string, error) {
	if m.cache != nil {
		var cached []string
		if err := m.cache.GetAssetIndex(ctx, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	snapshots, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var assets []string
	for _, snap := range snapshots {
		if snap.BaseAsset == "" || seen[snap.BaseAsset] {
			continue
		}
		seen[snap.BaseAsset] = true
		assets = append(assets, snap.BaseAsset)
	}
	sort.Strings(assets)

	if m.cache != nil && len(assets) > 0 {
		if err := m.cache.SetAssetIndex(ctx, assets, m.cacheTTL); err != nil {
			logger.Debug("Failed to cache asset index", "error", err.Error())
		}
	}
	return assets, nil
}

func (m *Manager) mergeCurrent(snapshots []FundingRateSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, snap := range snapshots {
		existing, ok := m.current[snap.Key()]
		if ok && existing.ObservedAt.After(snap.ObservedAt) {
			continue
		}
		m.current[snap.Key()] = snap
	}
	m.loadedAt = time.Now()
}

func (m *Manager) replaceCurrent(snapshots []FundingRateSnapshot) {
	next := make(map[string]FundingRateSnapshot, len(snapshots))
	for _, snap := range snapshots {
		next[snap.Key()] = snap
	}

	m.mu.Lock()
	m.current = next
	m.loadedAt = time.Now()
	m.mu.Unlock()
}

func (m *Manager) refreshCache(ctx context.Context) {
	if m.cache == nil {
		return
	}

	m.mu.RLock()
	snapshots := snapshotSlice(m.current)
	m.mu.RUnlock()

	if err := m.cache.SetCurrentSnapshots(ctx, snapshots, m.cacheTTL); err != nil {
		logger.Debug("Failed to cache snapshot set", "error", err.Error())
	}
	if err := m.cache.Delete(ctx, cache.KeyAssetIndex); err != nil {
		logger.Debug("Failed to invalidate asset index", "error", err.Error())
	}
}

func snapshotSlice(current map[string]FundingRateSnapshot) []FundingRateSnapshot {
	out := make([]FundingRateSnapshot, 0, len(current))
	for _, snap := range current {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// looksUnnormalized reports whether an unchanged symbol still carries
// markers the normalizer usually strips, which suggests a convention we do
// not recognize yet.
func looksUnnormalized(symbol string) bool {
	s := strings.ToUpper(symbol)
	return strings.ContainsAny(s, "-_") ||
		strings.HasSuffix(s, "USDT") || strings.HasSuffix(s, "USDC") ||
		strings.HasSuffix(s, "BUSD") || strings.HasSuffix(s, "USD")
}
