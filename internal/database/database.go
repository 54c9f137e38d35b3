package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"fundarb/internal/logger"
)

// DB wraps the sql connection pool with stats monitoring.
type DB struct {
	*sql.DB
	config *Config
	stats  *PoolStats
	mu     sync.RWMutex
	stop   chan struct{}

	monitorCallback func(*PoolStats)
}

// Config represents database connection configuration.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpen         int
	MaxIdle         int
	Timeout         time.Duration
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// PoolStats represents connection pool statistics.
type PoolStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration
	MaxIdleClosed      int64
	MaxLifetimeClosed  int64
	LastUpdated        time.Time
}

// NewConnection opens a postgres connection pool and verifies it with
// retried pings.
func NewConnection(cfg *Config) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 25
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = time.Hour
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = 15 * time.Minute
	}

	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	var pingErr error
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		pingErr = db.PingContext(ctx)
		if pingErr == nil {
			break
		}

		logger.Warn("database ping failed",
			"attempt", i+1,
			"max_retries", maxRetries,
			"error", pingErr.Error(),
		)
		if i < maxRetries-1 {
			time.Sleep(time.Second * time.Duration(i+1))
		}
	}

	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %q on %s:%d after %d attempts: %w",
			cfg.DBName, cfg.Host, cfg.Port, maxRetries, pingErr)
	}

	logger.Info("database connection established",
		"max_open", cfg.MaxOpen,
		"max_idle", cfg.MaxIdle,
		"conn_max_lifetime", cfg.ConnMaxLifetime.String(),
	)

	database := &DB{
		DB:     db,
		config: cfg,
		stats:  &PoolStats{},
		stop:   make(chan struct{}),
	}

	go database.monitorPoolStats()

	return database, nil
}

// Close stops the stats monitor and closes the pool.
func (db *DB) Close() error {
	close(db.stop)
	return db.DB.Close()
}

// HealthCheck pings the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// GetPoolStats returns a copy of the current pool statistics.
func (db *DB) GetPoolStats() *PoolStats {
	db.mu.RLock()
	defer db.mu.RUnlock()

	stats := *db.stats
	return &stats
}

// SetMonitorCallback registers a callback invoked on every stats update.
func (db *DB) SetMonitorCallback(callback func(*PoolStats)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.monitorCallback = callback
}

func (db *DB) monitorPoolStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-db.stop:
			return
		case <-ticker.C:
			db.updatePoolStats()
		}
	}
}

func (db *DB) updatePoolStats() {
	stats := db.DB.Stats()

	db.mu.Lock()
	db.stats.MaxOpenConnections = stats.MaxOpenConnections
	db.stats.OpenConnections = stats.OpenConnections
	db.stats.InUse = stats.InUse
	db.stats.Idle = stats.Idle
	db.stats.WaitCount = stats.WaitCount
	db.stats.WaitDuration = stats.WaitDuration
	db.stats.MaxIdleClosed = stats.MaxIdleClosed
	db.stats.MaxLifetimeClosed = stats.MaxLifetimeClosed
	db.stats.LastUpdated = time.Now()

	callback := db.monitorCallback
	statsCopy := *db.stats
	db.mu.Unlock()

	if callback != nil {
		callback(&statsCopy)
	}

	if stats.WaitCount > 0 {
		logger.Warn("database connection pool under pressure",
			"wait_count", stats.WaitCount,
			"wait_duration", stats.WaitDuration.String(),
			"in_use", stats.InUse,
			"idle", stats.Idle,
		)
	}
}

// IsHealthy reports whether the pool is under acceptable load.
func (db *DB) IsHealthy() bool {
	stats := db.GetPoolStats()

	if stats.InUse > stats.MaxOpenConnections*80/100 {
		return false
	}

	if stats.WaitCount > 100 {
		return false
	}

	return true
}
