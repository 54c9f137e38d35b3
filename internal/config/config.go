package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	CORS       CORSConfig       `yaml:"cors"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Arbitrage  ArbitrageConfig  `yaml:"arbitrage"`
	Sampling   SamplingConfig   `yaml:"sampling"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	DBName   string        `yaml:"dbname"`
	SSLMode  string        `yaml:"sslmode"`
	MaxOpen  int           `yaml:"max_open"`
	MaxIdle  int           `yaml:"max_idle"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// AuthConfig represents authentication configuration. API keys identify
// external snapshot collectors allowed to push data.
type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	JWTDuration time.Duration  `yaml:"jwt_duration"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig is a named collector credential.
type APIKeyConfig struct {
	ID  string `yaml:"id"`
	Key string `yaml:"key"`
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPath    string `yaml:"prometheus_path"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	Filename   string `yaml:"filename"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// ArbitrageConfig tunes opportunity detection and scoring.
type ArbitrageConfig struct {
	MinSpread         float64       `yaml:"min_spread"`
	MinSamples        int           `yaml:"min_samples"`
	ZScoreSignificant float64       `yaml:"zscore_significant"`
	ZScoreExtreme     float64       `yaml:"zscore_extreme"`
	StatsWindowDays   int           `yaml:"stats_window_days"`
	MaxWindowSamples  int           `yaml:"max_window_samples"`
	StatsRefreshSpec  string        `yaml:"stats_refresh_spec"`
	DefaultPageSize   int           `yaml:"default_page_size"`
	MaxPageSize       int           `yaml:"max_page_size"`
	SearchLimit       int           `yaml:"search_limit"`
	MaxSearchLimit    int           `yaml:"max_search_limit"`
	SnapshotCacheTTL  time.Duration `yaml:"snapshot_cache_ttl"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// SamplingConfig drives the spread sampling and retention tasks.
type SamplingConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Spec          string        `yaml:"spec"`
	Interval      time.Duration `yaml:"interval"`
	RetentionSpec string        `yaml:"retention_spec"`
	RetentionDays int           `yaml:"retention_days"`
	LockTTL       time.Duration `yaml:"lock_ttl"`

	// SnapshotMaxAge is how long a contract snapshot stays eligible for
	// pairing without a fresh observation.
	SnapshotMaxAge time.Duration `yaml:"snapshot_max_age"`
}

// NormalizerConfig extends the built-in normalization rule set.
type NormalizerConfig struct {
	Exceptions         map[string]string `yaml:"exceptions"`
	QuoteAssets        []string          `yaml:"quote_assets"`
	MultiplierPrefixes []string          `yaml:"multiplier_prefixes"`
}

// Load loads configuration from a YAML file. Environment references of
// the form ${VAR} are expanded before parsing.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := NewValidator(&config).Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// ApplySecretOverrides lets prefixed environment variables override the
// secrets parsed from the file. Values carrying the ENC: prefix, whether
// they came from the environment or the file itself, are decrypted by
// the manager.
func (c *Config) ApplySecretOverrides(em *EnvManager) {
	if em == nil {
		return
	}
	c.Database.Password = em.DecryptValue(em.GetEncryptedString("DB_PASSWORD", c.Database.Password))
	c.Redis.Password = em.DecryptValue(em.GetEncryptedString("REDIS_PASSWORD", c.Redis.Password))
	c.Auth.JWTSecret = em.DecryptValue(em.GetEncryptedString("JWT_SECRET", c.Auth.JWTSecret))
	for i := range c.Auth.APIKeys {
		c.Auth.APIKeys[i].Key = em.DecryptValue(c.Auth.APIKeys[i].Key)
	}
}

// applyDefaults fills zero values with operational defaults.
func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "fundarb"
	}
	if c.App.Env == "" {
		c.App.Env = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = 1 << 20
	}
	if c.Database.MaxOpen == 0 {
		c.Database.MaxOpen = 25
	}
	if c.Database.MaxIdle == 0 {
		c.Database.MaxIdle = 5
	}
	if c.Database.Timeout == 0 {
		c.Database.Timeout = 5 * time.Second
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Auth.JWTDuration == 0 {
		c.Auth.JWTDuration = 24 * time.Hour
	}
	if c.Monitoring.PrometheusPath == "" {
		c.Monitoring.PrometheusPath = "/metrics"
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 1200
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Arbitrage.MinSpread == 0 {
		c.Arbitrage.MinSpread = 0.0001
	}
	if c.Arbitrage.MinSamples == 0 {
		c.Arbitrage.MinSamples = 10
	}
	if c.Arbitrage.ZScoreSignificant == 0 {
		c.Arbitrage.ZScoreSignificant = 2.0
	}
	if c.Arbitrage.ZScoreExtreme == 0 {
		c.Arbitrage.ZScoreExtreme = 3.0
	}
	if c.Arbitrage.StatsWindowDays == 0 {
		c.Arbitrage.StatsWindowDays = 30
	}
	if c.Arbitrage.MaxWindowSamples == 0 {
		c.Arbitrage.MaxWindowSamples = 10000
	}
	if c.Arbitrage.StatsRefreshSpec == "" {
		c.Arbitrage.StatsRefreshSpec = "0 */5 * * * *"
	}
	if c.Arbitrage.DefaultPageSize == 0 {
		c.Arbitrage.DefaultPageSize = 50
	}
	if c.Arbitrage.MaxPageSize == 0 {
		c.Arbitrage.MaxPageSize = 500
	}
	if c.Arbitrage.SearchLimit == 0 {
		c.Arbitrage.SearchLimit = 20
	}
	if c.Arbitrage.MaxSearchLimit == 0 {
		c.Arbitrage.MaxSearchLimit = 100
	}
	if c.Arbitrage.SnapshotCacheTTL == 0 {
		c.Arbitrage.SnapshotCacheTTL = time.Minute
	}
	if c.Arbitrage.RequestTimeout == 0 {
		c.Arbitrage.RequestTimeout = 10 * time.Second
	}
	if c.Sampling.Spec == "" {
		c.Sampling.Spec = "0 */5 * * * *"
	}
	if c.Sampling.Interval == 0 {
		c.Sampling.Interval = 5 * time.Minute
	}
	if c.Sampling.RetentionSpec == "" {
		c.Sampling.RetentionSpec = "0 0 3 * * *"
	}
	if c.Sampling.RetentionDays == 0 {
		c.Sampling.RetentionDays = 90
	}
	if c.Sampling.LockTTL == 0 {
		c.Sampling.LockTTL = 2 * time.Minute
	}
	if c.Sampling.SnapshotMaxAge == 0 {
		c.Sampling.SnapshotMaxAge = 24 * time.Hour
	}
}

// StatsWindow returns the statistics window as a duration.
func (c *ArbitrageConfig) StatsWindow() time.Duration {
	return time.Duration(c.StatsWindowDays) * 24 * time.Hour
}
