package market

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SnapshotStore persists the current funding snapshot per (exchange, symbol).
type SnapshotStore interface {
	UpsertSnapshots(ctx context.Context, snapshots []FundingRateSnapshot) error
	CurrentSnapshots(ctx context.Context) ([]FundingRateSnapshot, error)
	Exchanges(ctx context.Context) ([]string, error)
	PruneStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostgresSnapshotStore implements SnapshotStore on PostgreSQL.
type PostgresSnapshotStore struct {
	db *sql.DB
}

// NewPostgresSnapshotStore creates a snapshot store backed by db.
func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

// UpsertSnapshots writes a batch of snapshots, replacing the previous
// observation per (exchange, symbol). Stale submissions never overwrite a
// newer observation.
func (s *PostgresSnapshotStore) UpsertSnapshots(ctx context.Context, snapshots []FundingRateSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO funding_snapshots (
			exchange, symbol, base_asset, funding_rate, funding_interval_hours,
			mark_price, open_interest, next_funding_time, observed_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (exchange, symbol)
		DO UPDATE SET
			base_asset = EXCLUDED.base_asset,
			funding_rate = EXCLUDED.funding_rate,
			funding_interval_hours = EXCLUDED.funding_interval_hours,
			mark_price = EXCLUDED.mark_price,
			open_interest = EXCLUDED.open_interest,
			next_funding_time = EXCLUDED.next_funding_time,
			observed_at = EXCLUDED.observed_at,
			updated_at = NOW()
		WHERE funding_snapshots.observed_at <= EXCLUDED.observed_at
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot upsert: %w", err)
	}
	defer stmt.Close()

	for _, snap := range snapshots {
		var nextFunding sql.NullTime
		if !snap.NextFundingTime.IsZero() {
			nextFunding = sql.NullTime{Time: snap.NextFundingTime, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			snap.Exchange,
			snap.Symbol,
			snap.BaseAsset,
			snap.FundingRate,
			snap.FundingIntervalHours,
			snap.MarkPrice,
			snap.OpenInterest,
			nextFunding,
			snap.ObservedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert snapshot %s/%s: %w", snap.Exchange, snap.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot upsert: %w", err)
	}
	return nil
}

// CurrentSnapshots returns the latest snapshot per (exchange, symbol).
func (s *PostgresSnapshotStore) CurrentSnapshots(ctx context.Context) ([]FundingRateSnapshot, error) {
	query := `
		SELECT exchange, symbol, base_asset, funding_rate, funding_interval_hours,
		       mark_price, open_interest, next_funding_time, observed_at
		FROM funding_snapshots
		ORDER BY exchange, symbol
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []FundingRateSnapshot
	for rows.Next() {
		var snap FundingRateSnapshot
		var nextFunding sql.NullTime
		if err := rows.Scan(
			&snap.Exchange,
			&snap.Symbol,
			&snap.BaseAsset,
			&snap.FundingRate,
			&snap.FundingIntervalHours,
			&snap.MarkPrice,
			&snap.OpenInterest,
			&nextFunding,
			&snap.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if nextFunding.Valid {
			snap.NextFundingTime = nextFunding.Time
		}
		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// Exchanges returns the distinct exchanges with at least one snapshot.
func (s *PostgresSnapshotStore) Exchanges(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT exchange FROM funding_snapshots ORDER BY exchange`)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []string
	for rows.Next() {
		var exchange string
		if err := rows.Scan(&exchange); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		exchanges = append(exchanges, exchange)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exchanges: %w", err)
	}
	return exchanges, nil
}

// PruneStale removes snapshots not refreshed since the cutoff. Exchanges
// that stop reporting drop out of pairing instead of pinning old rates.
func (s *PostgresSnapshotStore) PruneStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM funding_snapshots WHERE observed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune stale snapshots: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
