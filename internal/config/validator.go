package config

import (
	"fmt"
	"strings"
)

// Validator checks a loaded Config for inconsistent values.
type Validator struct {
	config *Config
}

// NewValidator creates a validator for the given config.
func NewValidator(config *Config) *Validator {
	return &Validator{config: config}
}

// Validate runs all section checks and returns the combined failures.
func (v *Validator) Validate() error {
	var errs []string

	if err := v.validateServer(); err != nil {
		errs = append(errs, fmt.Sprintf("server: %v", err))
	}
	if err := v.validateDatabase(); err != nil {
		errs = append(errs, fmt.Sprintf("database: %v", err))
	}
	if err := v.validateAuth(); err != nil {
		errs = append(errs, fmt.Sprintf("auth: %v", err))
	}
	if err := v.validateArbitrage(); err != nil {
		errs = append(errs, fmt.Sprintf("arbitrage: %v", err))
	}
	if err := v.validateSampling(); err != nil {
		errs = append(errs, fmt.Sprintf("sampling: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (v *Validator) validateServer() error {
	s := v.config.Server
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

func (v *Validator) validateDatabase() error {
	d := v.config.Database
	if d.Host == "" {
		// No database configured means degraded mode; nothing to check.
		return nil
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("port %d out of range", d.Port)
	}
	if d.DBName == "" {
		return fmt.Errorf("dbname is required when host is set")
	}
	if d.MaxIdle > d.MaxOpen {
		return fmt.Errorf("max_idle %d exceeds max_open %d", d.MaxIdle, d.MaxOpen)
	}
	return nil
}

func (v *Validator) validateAuth() error {
	a := v.config.Auth
	if len(a.APIKeys) > 0 && a.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required when api_keys are configured")
	}
	seen := make(map[string]bool)
	for _, k := range a.APIKeys {
		if k.ID == "" || k.Key == "" {
			return fmt.Errorf("api key entries need both id and key")
		}
		if seen[k.ID] {
			return fmt.Errorf("duplicate api key id %q", k.ID)
		}
		seen[k.ID] = true
	}
	return nil
}

func (v *Validator) validateArbitrage() error {
	a := v.config.Arbitrage
	if a.MinSpread < 0 {
		return fmt.Errorf("min_spread must not be negative")
	}
	if a.MinSamples < 2 {
		return fmt.Errorf("min_samples %d too small for stddev", a.MinSamples)
	}
	if a.ZScoreSignificant <= 0 {
		return fmt.Errorf("zscore_significant must be positive")
	}
	if a.ZScoreExtreme < a.ZScoreSignificant {
		return fmt.Errorf("zscore_extreme %v below zscore_significant %v", a.ZScoreExtreme, a.ZScoreSignificant)
	}
	if a.StatsWindowDays < 1 {
		return fmt.Errorf("stats_window_days must be at least 1")
	}
	if a.DefaultPageSize < 1 || a.DefaultPageSize > a.MaxPageSize {
		return fmt.Errorf("default_page_size %d out of range (max %d)", a.DefaultPageSize, a.MaxPageSize)
	}
	return nil
}

func (v *Validator) validateSampling() error {
	s := v.config.Sampling
	if s.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if s.Spec == "" {
		return fmt.Errorf("spec is required")
	}
	return nil
}
