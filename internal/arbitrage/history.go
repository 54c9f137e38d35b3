package arbitrage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// History is the append/query surface over recorded spread samples. The
// pair dimension is unordered: both orientations of a pairing share one
// distribution regardless of which side was long when a sample was taken.
type History interface {
	// Record appends a batch of samples, skipping duplicates for the same
	// (asset, pair, recorded_at). Returns the number actually written.
	Record(ctx context.Context, samples []SpreadSample) (int, error)

	// Window returns all samples recorded at or after since.
	Window(ctx context.Context, since time.Time) ([]SpreadSample, error)

	// WindowFor returns the samples for one unordered pair recorded at or
	// after since, oldest first.
	WindowFor(ctx context.Context, asset, exchangeA, exchangeB string, since time.Time) ([]SpreadSample, error)

	// Prune deletes samples recorded before the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// PostgresHistory implements History on PostgreSQL. Idempotent ingestion
// rests on a unique expression index over the sorted pair columns.
type PostgresHistory struct {
	db *sql.DB
}

// NewPostgresHistory creates a history store backed by db.
func NewPostgresHistory(db *sql.DB) *PostgresHistory {
	return &PostgresHistory{db: db}
}

// Record appends samples; re-ingesting a cycle is a no-op per sample.
func (h *PostgresHistory) Record(ctx context.Context, samples []SpreadSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO spread_samples (
			asset, exchange_long, exchange_short,
			funding_rate_spread, apr_spread, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset, LEAST(exchange_long, exchange_short), GREATEST(exchange_long, exchange_short), recorded_at)
		DO NOTHING
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	recorded := 0
	for _, sample := range samples {
		result, err := stmt.ExecContext(ctx,
			sample.Asset,
			sample.ExchangeLong,
			sample.ExchangeShort,
			sample.RateSpread,
			sample.APRSpread,
			sample.RecordedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to record sample %s: %w", sample.PairKey(), err)
		}
		if n, err := result.RowsAffected(); err == nil {
			recorded += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit samples: %w", err)
	}
	return recorded, nil
}

// Window returns all samples in the trailing window, oldest first.
func (h *PostgresHistory) Window(ctx context.Context, since time.Time) ([]SpreadSample, error) {
	query := `
		SELECT asset, exchange_long, exchange_short,
		       funding_rate_spread, apr_spread, recorded_at
		FROM spread_samples
		WHERE recorded_at >= $1
		ORDER BY recorded_at
	`

	rows, err := h.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query spread samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// WindowFor returns one unordered pair's samples, oldest first.
func (h *PostgresHistory) WindowFor(ctx context.Context, asset, exchangeA, exchangeB string, since time.Time) ([]SpreadSample, error) {
	first, second := sortedPair(exchangeA, exchangeB)

	query := `
		SELECT asset, exchange_long, exchange_short,
		       funding_rate_spread, apr_spread, recorded_at
		FROM spread_samples
		WHERE asset = $1
		  AND LEAST(exchange_long, exchange_short) = $2
		  AND GREATEST(exchange_long, exchange_short) = $3
		  AND recorded_at >= $4
		ORDER BY recorded_at
	`

	rows, err := h.db.QueryContext(ctx, query, strings.ToUpper(asset), first, second, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query pair samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// Prune removes samples older than the retention cutoff.
func (h *PostgresHistory) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := h.db.ExecContext(ctx, `DELETE FROM spread_samples WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune spread samples: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func scanSamples(rows *sql.Rows) ([]SpreadSample, error) {
	var samples []SpreadSample
	for rows.Next() {
		var s SpreadSample
		if err := rows.Scan(
			&s.Asset,
			&s.ExchangeLong,
			&s.ExchangeShort,
			&s.RateSpread,
			&s.APRSpread,
			&s.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan spread sample: %w", err)
		}
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spread samples: %w", err)
	}
	return samples, nil
}

func sortedPair(exchangeA, exchangeB string) (string, string) {
	a := strings.ToLower(exchangeA)
	b := strings.ToLower(exchangeB)
	if a > b {
		return b, a
	}
	return a, b
}

// MemoryHistory implements History in memory. It backs tests and the
// cache-only degraded mode; samples do not survive a restart.
type MemoryHistory struct {
	mu      sync.RWMutex
	samples []SpreadSample
	index   map[string]bool
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{index: make(map[string]bool)}
}

func (h *MemoryHistory) Record(ctx context.Context, samples []SpreadSample) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	recorded := 0
	for _, sample := range samples {
		key := sample.PairKey() + "|" + sample.RecordedAt.UTC().Format(time.RFC3339Nano)
		if h.index[key] {
			continue
		}
		h.index[key] = true
		h.samples = append(h.samples, sample)
		recorded++
	}
	return recorded, nil
}

func (h *MemoryHistory) Window(ctx context.Context, since time.Time) ([]SpreadSample, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []SpreadSample
	for _, sample := range h.samples {
		if !sample.RecordedAt.Before(since) {
			out = append(out, sample)
		}
	}
	sortSamplesByTime(out)
	return out, nil
}

func (h *MemoryHistory) WindowFor(ctx context.Context, asset, exchangeA, exchangeB string, since time.Time) ([]SpreadSample, error) {
	key := PairKey(asset, exchangeA, exchangeB)

	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []SpreadSample
	for _, sample := range h.samples {
		if sample.PairKey() == key && !sample.RecordedAt.Before(since) {
			out = append(out, sample)
		}
	}
	sortSamplesByTime(out)
	return out, nil
}

func (h *MemoryHistory) Prune(ctx context.Context, before time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.samples[:0]
	var pruned int64
	for _, sample := range h.samples {
		if sample.RecordedAt.Before(before) {
			key := sample.PairKey() + "|" + sample.RecordedAt.UTC().Format(time.RFC3339Nano)
			delete(h.index, key)
			pruned++
			continue
		}
		kept = append(kept, sample)
	}
	h.samples = kept
	return pruned, nil
}

func sortSamplesByTime(samples []SpreadSample) {
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].RecordedAt.Before(samples[j].RecordedAt)
	})
}
