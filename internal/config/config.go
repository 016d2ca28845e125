// Package config loads and validates pipeline configuration from a TOML
// file with built-in defaults. Only configuration errors are fatal to a
// run; everything else degrades.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Observer is a ground location carried in configuration for future
// extension; the screening algorithm does not use it.
type Observer struct {
	LatitudeDeg  float64 `toml:"latitude_deg"`
	LongitudeDeg float64 `toml:"longitude_deg"`
	AltitudeM    float64 `toml:"altitude_m"`
}

// Retry configures the acquisition client's transport retry policy.
type Retry struct {
	MaxAttempts      int     `toml:"max_attempts"`
	InitialBackoffMs int     `toml:"initial_backoff_ms"`
	Multiplier       float64 `toml:"multiplier"`
}

// Alerts configures webhook alerting for critical events.
type Alerts struct {
	Enabled    bool   `toml:"enabled"`
	WebhookURL string `toml:"webhook_url"`
	TimeoutSec int    `toml:"timeout_seconds"`
}

// Config is the full pipeline configuration.
type Config struct {
	Observer Observer `toml:"observer"`

	PredictionHorizonHours float64 `toml:"prediction_horizon_hours"`
	TemporalResolution     int     `toml:"temporal_resolution"`

	CollisionThresholdKm float64 `toml:"collision_threshold_km"`
	HighRiskThresholdKm  float64 `toml:"high_risk_threshold_km"`
	CriticalThresholdKm  float64 `toml:"critical_threshold_km"`
	CellSizeKm           float64 `toml:"cell_size_km"`

	CacheDir   string `toml:"cache_dir"`
	ReportPath string `toml:"report_path"`
	StatePath  string `toml:"state_path"`

	MaxWorkers       int `toml:"max_workers"`
	FetchTimeoutSec  int `toml:"fetch_timeout_seconds"`
	CacheMaxAgeHours int `toml:"cache_max_age_hours"`

	Retry  Retry  `toml:"retry"`
	Alerts Alerts `toml:"alerts"`

	// Sources maps source name to fetch URL.
	Sources map[string]string `toml:"sources"`
}

// Default returns the built-in configuration. Sources are intentionally
// empty: they must come from the config file.
func Default() Config {
	return Config{
		PredictionHorizonHours: 24,
		TemporalResolution:     1440,
		CollisionThresholdKm:   5.0,
		HighRiskThresholdKm:    1.0,
		CriticalThresholdKm:    0.5,
		CellSizeKm:             50.0,
		CacheDir:               "/tmp/conjwatch/tle",
		ReportPath:             "/tmp/conjwatch/conjunctions.csv",
		StatePath:              "/tmp/conjwatch/run_state.json",
		MaxWorkers:             4,
		FetchTimeoutSec:        30,
		CacheMaxAgeHours:       6,
		Retry: Retry{
			MaxAttempts:      3,
			InitialBackoffMs: 500,
			Multiplier:       2.0,
		},
		Alerts: Alerts{
			TimeoutSec: 10,
		},
		Sources: map[string]string{},
	}
}

// Load reads a TOML config file over the defaults and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations under which no meaningful run is
// possible. These are the only errors that propagate out of the pipeline.
func (c Config) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New("at least one TLE source must be configured")
	}
	if c.TemporalResolution < 2 {
		return fmt.Errorf("temporal_resolution must be >= 2, got %d", c.TemporalResolution)
	}
	if c.PredictionHorizonHours <= 0 {
		return fmt.Errorf("prediction_horizon_hours must be positive, got %g", c.PredictionHorizonHours)
	}
	if c.CellSizeKm <= 0 {
		return fmt.Errorf("cell_size_km must be positive, got %g", c.CellSizeKm)
	}
	if c.CollisionThresholdKm <= 0 || c.HighRiskThresholdKm <= 0 || c.CriticalThresholdKm <= 0 {
		return errors.New("all risk thresholds must be positive")
	}
	if !(c.CriticalThresholdKm < c.HighRiskThresholdKm && c.HighRiskThresholdKm < c.CollisionThresholdKm) {
		return fmt.Errorf("thresholds must satisfy critical < high_risk < collision, got %g/%g/%g",
			c.CriticalThresholdKm, c.HighRiskThresholdKm, c.CollisionThresholdKm)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be >= 1, got %d", c.MaxWorkers)
	}
	if c.Alerts.Enabled && c.Alerts.WebhookURL == "" {
		return errors.New("alerts.webhook_url is required when alerting is enabled")
	}
	return nil
}

// Horizon returns the prediction horizon as a duration.
func (c Config) Horizon() time.Duration {
	return time.Duration(c.PredictionHorizonHours * float64(time.Hour))
}

// FetchTimeout returns the per-fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// CacheMaxAge returns the cache staleness bound as a duration.
func (c Config) CacheMaxAge() time.Duration {
	return time.Duration(c.CacheMaxAgeHours) * time.Hour
}

// AlertTimeout returns the webhook delivery timeout as a duration.
func (c Config) AlertTimeout() time.Duration {
	if c.Alerts.TimeoutSec < 1 {
		return 10 * time.Second
	}
	return time.Duration(c.Alerts.TimeoutSec) * time.Second
}

// InitialBackoff returns the first retry delay as a duration.
func (r Retry) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffMs) * time.Millisecond
}
