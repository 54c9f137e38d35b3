package api

import (
	"time"

	"fundarb/internal/arbitrage"
	"fundarb/internal/market"
	"fundarb/internal/orchestrator"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// TokenRequest exchanges a collector API key for a JWT.
type TokenRequest struct {
	KeyID  string `json:"key_id" binding:"required"`
	APIKey string `json:"api_key" binding:"required"`
}

// TokenResponse carries an issued access token.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresIn int64     `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SnapshotBatch is the ingest payload pushed by collectors.
type SnapshotBatch struct {
	Snapshots []market.FundingRateSnapshot `json:"snapshots" binding:"required"`
}

// IngestResult reports how a snapshot batch was processed. Rejected
// snapshots failed validation and were dropped; they do not fail the batch.
type IngestResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// PairHistoryResponse is the raw sample window for one pairing.
type PairHistoryResponse struct {
	Asset     string                   `json:"asset"`
	ExchangeA string                   `json:"exchange_a"`
	ExchangeB string                   `json:"exchange_b"`
	Since     time.Time                `json:"since"`
	Samples   []arbitrage.SpreadSample `json:"samples"`
}

// HealthCheck is the probe result for one dependency.
type HealthCheck struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the aggregate health report. Status is "healthy" when
// every dependency responds, "degraded" when an optional dependency is down
// but the read path still works, and "down" otherwise.
type HealthResponse struct {
	Status           string                 `json:"status"`
	Version          string                 `json:"version"`
	Timestamp        time.Time              `json:"timestamp"`
	Checks           map[string]HealthCheck `json:"checks"`
	StatsRefreshedAt *time.Time             `json:"stats_refreshed_at,omitempty"`
	StatsPairCount   int                    `json:"stats_pair_count"`
	Tasks            []orchestrator.Task    `json:"tasks,omitempty"`
}

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
	statusDown     = "down"
	statusDisabled = "disabled"
)
