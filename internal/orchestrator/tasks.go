package orchestrator

import (
	"context"
	"errors"
	"time"

	"fundarb/internal/arbitrage"
	"fundarb/internal/logger"
	"fundarb/internal/market"
	"fundarb/internal/monitoring"
)

// Task names, also used by the health endpoint.
const (
	TaskSpreadSampling   = "spread_sampling"
	TaskStatsRefresh     = "stats_refresh"
	TaskHistoryRetention = "history_retention"
)

// Broadcaster receives the significant opportunity set after each
// sampling cycle. The websocket hub implements it.
type Broadcaster interface {
	BroadcastOpportunities(opportunities []arbitrage.Opportunity)
}

// Tasks builds the scheduled task handlers over the arbitrage service.
// Metrics and the broadcaster are optional.
type Tasks struct {
	service *arbitrage.Service
	markets *market.Manager
	metrics *monitoring.Metrics
	hub     Broadcaster

	snapshotMaxAge time.Duration
}

// NewTasks creates the task set. markets, metrics and hub may be nil.
func NewTasks(service *arbitrage.Service, markets *market.Manager, metrics *monitoring.Metrics, hub Broadcaster, snapshotMaxAge time.Duration) *Tasks {
	if snapshotMaxAge <= 0 {
		snapshotMaxAge = 24 * time.Hour
	}
	return &Tasks{
		service:        service,
		markets:        markets,
		metrics:        metrics,
		hub:            hub,
		snapshotMaxAge: snapshotMaxAge,
	}
}

// Register wires the task handlers into the scheduler on the given cron
// specs.
func (t *Tasks) Register(scheduler *Scheduler, samplingSpec, statsSpec, retentionSpec string) error {
	if err := scheduler.AddTask(TaskSpreadSampling, samplingSpec, t.SpreadSampling()); err != nil {
		return err
	}
	if err := scheduler.AddTask(TaskStatsRefresh, statsSpec, t.StatsRefresh()); err != nil {
		return err
	}
	return scheduler.AddTask(TaskHistoryRetention, retentionSpec, t.Retention())
}

// SpreadSampling records one spread sample per current pairing, then
// pushes the refreshed significant set to websocket subscribers.
func (t *Tasks) SpreadSampling() TaskHandler {
	return TaskHandlerFunc(func(ctx context.Context) error {
		recorded, err := t.service.SampleSpreads(ctx)
		if errors.Is(err, arbitrage.ErrSamplingLocked) {
			logger.Debug("Sampling cycle skipped, lock held elsewhere")
			if t.metrics != nil {
				t.metrics.RecordSampleSkipped("lock_held")
			}
			return ErrSkipped
		}
		if err != nil {
			return err
		}

		if t.metrics != nil {
			t.metrics.RecordSamplesRecorded(recorded)
		}
		t.publish(ctx)
		return nil
	})
}

// StatsRefresh rebuilds the materialized spread statistics view.
func (t *Tasks) StatsRefresh() TaskHandler {
	return TaskHandlerFunc(func(ctx context.Context) error {
		start := time.Now()
		pairs, err := t.service.RefreshStats(ctx)
		if err != nil {
			return err
		}
		if t.metrics != nil {
			t.metrics.ObserveStatsRefresh(time.Since(start), pairs)
		}
		return nil
	})
}

// Retention prunes spread history past the retention window and snapshot
// rows that stopped receiving observations.
func (t *Tasks) Retention() TaskHandler {
	return TaskHandlerFunc(func(ctx context.Context) error {
		if _, err := t.service.PruneHistory(ctx); err != nil {
			return err
		}
		if t.markets != nil {
			if _, err := t.markets.PruneStale(ctx, t.snapshotMaxAge); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *Tasks) publish(ctx context.Context) {
	if t.hub == nil && t.metrics == nil {
		return
	}

	opportunities, err := t.service.CurrentOpportunities(ctx)
	if err != nil {
		logger.Warn("Failed to compute opportunities after sampling", "error", err.Error())
		return
	}

	if t.metrics != nil {
		t.metrics.SetCurrentOpportunities(len(opportunities))
	}
	if t.hub == nil {
		return
	}

	significant := make([]arbitrage.Opportunity, 0, len(opportunities))
	for _, opp := range opportunities {
		if opp.IsSignificant {
			significant = append(significant, opp)
		}
	}
	t.hub.BroadcastOpportunities(significant)
}
