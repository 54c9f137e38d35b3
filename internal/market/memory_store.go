package market

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySnapshotStore implements SnapshotStore in memory. It backs the
// degraded mode when the database is unreachable at startup; snapshots do
// not survive a restart.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]FundingRateSnapshot
}

// NewMemorySnapshotStore creates an empty in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]FundingRateSnapshot)}
}

// UpsertSnapshots replaces the stored observation per (exchange, symbol).
// Stale submissions never overwrite a newer observation.
func (s *MemorySnapshotStore) UpsertSnapshots(ctx context.Context, snapshots []FundingRateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snapshot := range snapshots {
		key := snapshot.Key()
		if existing, ok := s.snapshots[key]; ok && existing.ObservedAt.After(snapshot.ObservedAt) {
			continue
		}
		s.snapshots[key] = snapshot
	}
	return nil
}

// CurrentSnapshots returns every stored snapshot, ordered by exchange then
// symbol.
func (s *MemorySnapshotStore) CurrentSnapshots(ctx context.Context) ([]FundingRateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FundingRateSnapshot, 0, len(s.snapshots))
	for _, snapshot := range s.snapshots {
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

// Exchanges returns the distinct exchange names, sorted.
func (s *MemorySnapshotStore) Exchanges(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, snapshot := range s.snapshots {
		seen[snapshot.Exchange] = true
	}
	out := make([]string, 0, len(seen))
	for exchange := range seen {
		out = append(out, exchange)
	}
	sort.Strings(out)
	return out, nil
}

// PruneStale removes snapshots last observed before the cutoff.
func (s *MemorySnapshotStore) PruneStale(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for key, snapshot := range s.snapshots {
		if snapshot.ObservedAt.Before(cutoff) {
			delete(s.snapshots, key)
			pruned++
		}
	}
	return pruned, nil
}
