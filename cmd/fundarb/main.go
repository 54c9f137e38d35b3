package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fundarb/internal/api"
	"fundarb/internal/arbitrage"
	"fundarb/internal/auth"
	"fundarb/internal/cache"
	"fundarb/internal/config"
	"fundarb/internal/database"
	"fundarb/internal/logger"
	"fundarb/internal/market"
	"fundarb/internal/market/symbols"
	"fundarb/internal/monitoring"
	"fundarb/internal/orchestrator"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "configuration file path")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using process environment")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.ApplySecretOverrides(config.NewEnvManager("", ""))

	logger.Init(logger.Config{
		Level:      logger.LogLevel(cfg.Logging.Level),
		Format:     logger.LogFormat(cfg.Logging.Format),
		Output:     cfg.Logging.Output,
		Filename:   cfg.Logging.Filename,
		MaxSize:    cfg.Logging.MaxSize,
		MaxAge:     cfg.Logging.MaxAge,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Timestamp:  true,
	})

	logger.Info("Starting funding rate arbitrage service",
		"version", cfg.App.Version,
		"env", cfg.App.Env,
	)

	// Postgres when configured; otherwise, or when unreachable, the
	// service degrades to in-memory stores and keeps serving.
	var db *database.DB
	if cfg.Database.Host != "" {
		db, err = database.NewConnection(&database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			MaxOpen:  cfg.Database.MaxOpen,
			MaxIdle:  cfg.Database.MaxIdle,
			Timeout:  cfg.Database.Timeout,
		})
		if err != nil {
			logger.Error("Database unreachable, degrading to in-memory stores",
				"error", err.Error(),
			)
			db = nil
		}
	} else {
		logger.Warn("No database configured, data will not survive restarts")
	}

	var (
		snapshotStore market.SnapshotStore
		history       arbitrage.History
	)
	if db != nil {
		defer db.Close()
		snapshotStore = market.NewPostgresSnapshotStore(db.DB)
		history = arbitrage.NewPostgresHistory(db.DB)
	} else {
		snapshotStore = market.NewMemorySnapshotStore()
		history = arbitrage.NewMemoryHistory()
	}

	cacher, err := cache.NewCacher(&cache.Config{
		Enabled:  cfg.Redis.Addr != "",
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory cache", "error", err.Error())
	}
	defer cacher.Close()

	normalizer := symbols.NewNormalizer(&symbols.Config{
		Exceptions:         cfg.Normalizer.Exceptions,
		QuoteAssets:        cfg.Normalizer.QuoteAssets,
		MultiplierPrefixes: cfg.Normalizer.MultiplierPrefixes,
	})

	markets := market.NewManager(snapshotStore, cacher, normalizer, cfg.Arbitrage.SnapshotCacheTTL)
	if err := markets.Warm(context.Background()); err != nil {
		logger.Warn("Snapshot warm-up failed, starting cold", "error", err.Error())
	}

	scorer := arbitrage.NewScorer(history, arbitrage.ScorerConfig{
		MinSamples:        cfg.Arbitrage.MinSamples,
		ZScoreSignificant: cfg.Arbitrage.ZScoreSignificant,
		ZScoreExtreme:     cfg.Arbitrage.ZScoreExtreme,
		Window:            cfg.Arbitrage.StatsWindow(),
		MaxWindowSamples:  cfg.Arbitrage.MaxWindowSamples,
	})
	service := arbitrage.NewService(markets, history, scorer,
		arbitrage.NewGenerator(cfg.Arbitrage.MinSpread), cacher,
		arbitrage.ServiceConfig{
			SamplingInterval: cfg.Sampling.Interval,
			LockTTL:          cfg.Sampling.LockTTL,
			Retention:        time.Duration(cfg.Sampling.RetentionDays) * 24 * time.Hour,
			DefaultPageSize:  cfg.Arbitrage.DefaultPageSize,
			MaxPageSize:      cfg.Arbitrage.MaxPageSize,
		})

	if _, err := service.RefreshStats(context.Background()); err != nil {
		logger.Warn("Initial statistics refresh failed", "error", err.Error())
	}

	var metrics *monitoring.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewMetrics()
		if db != nil {
			db.SetMonitorCallback(func(stats *database.PoolStats) {
				metrics.ObserveDBPool(stats.OpenConnections, stats.InUse, stats.Idle, stats.WaitCount)
			})
		}
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTDuration)
	scheduler := orchestrator.NewScheduler(cfg.Sampling.LockTTL)

	server := api.NewServer(cfg, api.Deps{
		DB:        db,
		Cache:     cacher,
		Markets:   markets,
		Service:   service,
		Scheduler: scheduler,
		JWT:       jwtManager,
		Metrics:   metrics,
	})

	tasks := orchestrator.NewTasks(service, markets, metrics, server.Hub(), cfg.Sampling.SnapshotMaxAge)
	if cfg.Sampling.Enabled {
		if err := tasks.Register(scheduler, cfg.Sampling.Spec, cfg.Arbitrage.StatsRefreshSpec, cfg.Sampling.RetentionSpec); err != nil {
			logger.Fatal("Failed to register scheduled tasks", "error", err.Error())
		}
		scheduler.Start()
		defer scheduler.Stop()
	} else {
		logger.Warn("Sampling disabled, serving queries over existing history only")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("API server failed", "error", err.Error())
		}
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("Shutdown did not complete cleanly", "error", err.Error())
	}
}
