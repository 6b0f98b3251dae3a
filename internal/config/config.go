// Package config loads the YAML configuration file and translates it into
// the component configs. Defaults are applied in code so an empty file (or
// no file at all) yields a working single-node setup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/laneiq/freightlens/internal/engine"
	"github.com/laneiq/freightlens/internal/schedule"
	"github.com/laneiq/freightlens/internal/store/postgres"
)

// Config is the full configuration surface.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig configures the Postgres pool. An empty DSN selects the
// in-memory stores.
type DatabaseConfig struct {
	DSN             string  `yaml:"dsn"`
	MaxOpenConns    int     `yaml:"max_open_conns"`
	MaxIdleConns    int     `yaml:"max_idle_conns"`
	QueryTimeoutMS  int     `yaml:"query_timeout_ms"`
	FetchBatchSize  int     `yaml:"fetch_batch_size"`
	FetchRatePerSec float64 `yaml:"fetch_rate_per_sec"`
}

// RedisConfig configures the shared result cache. An empty Addr selects
// the in-process cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig tunes the analysis orchestrator.
type EngineConfig struct {
	LeaseSeconds     int    `yaml:"lease_seconds"`
	WaitSeconds      int    `yaml:"wait_seconds"`
	ResultTTLSeconds int    `yaml:"result_ttl_seconds"`
	RetryMax         uint64 `yaml:"retry_max"`
	RetryBaseMS      int    `yaml:"retry_base_ms"`
	TrendThreshold   string `yaml:"trend_threshold"`
}

// SchedulerConfig tunes the schedule executor.
type SchedulerConfig struct {
	PollSeconds int `yaml:"poll_seconds"`
	Workers     int `yaml:"workers"`
	BatchLimit  int `yaml:"batch_limit"`
}

// HTTPConfig configures the read-only ops server.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads path (optional: empty path loads pure defaults), applies env
// overrides, and validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnv lets deploy environments inject connection secrets without
// writing them into the config file.
func (c *Config) applyEnv() {
	if dsn := os.Getenv("FREIGHTLENS_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
}

// Validate rejects values the components would silently misread.
func (c *Config) Validate() error {
	if c.Engine.TrendThreshold != "" {
		if _, err := decimal.NewFromString(c.Engine.TrendThreshold); err != nil {
			return fmt.Errorf("engine trend_threshold %q is not a decimal: %w",
				c.Engine.TrendThreshold, err)
		}
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port %d out of range", c.HTTP.Port)
	}
	if c.Database.FetchRatePerSec < 0 {
		return fmt.Errorf("database fetch_rate_per_sec cannot be negative")
	}
	switch c.Log.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// ToEngine translates to the orchestrator tunables. Zero values keep the
// orchestrator defaults.
func (c *Config) ToEngine() engine.Config {
	out := engine.Config{
		LeaseDuration: time.Duration(c.Engine.LeaseSeconds) * time.Second,
		WaitTimeout:   time.Duration(c.Engine.WaitSeconds) * time.Second,
		ResultTTL:     time.Duration(c.Engine.ResultTTLSeconds) * time.Second,
		RetryMax:      c.Engine.RetryMax,
		RetryBase:     time.Duration(c.Engine.RetryBaseMS) * time.Millisecond,
	}
	if c.Engine.TrendThreshold != "" {
		// Validate() already vetted the string.
		out.TrendThreshold, _ = decimal.NewFromString(c.Engine.TrendThreshold)
	}
	return out
}

// ToPostgres translates to the pool settings.
func (c *Config) ToPostgres() postgres.Config {
	return postgres.Config{
		DSN:            c.Database.DSN,
		MaxOpenConns:   c.Database.MaxOpenConns,
		MaxIdleConns:   c.Database.MaxIdleConns,
		QueryTimeout:   time.Duration(c.Database.QueryTimeoutMS) * time.Millisecond,
		FetchBatchSize: c.Database.FetchBatchSize,
		FetchBatchRate: c.Database.FetchRatePerSec,
	}
}

// ToScheduler translates to the executor settings.
func (c *Config) ToScheduler() schedule.Config {
	return schedule.Config{
		PollInterval: time.Duration(c.Scheduler.PollSeconds) * time.Second,
		Workers:      c.Scheduler.Workers,
		BatchLimit:   c.Scheduler.BatchLimit,
	}
}

// ListenAddr is the ops server bind address.
func (c *Config) ListenAddr() string {
	host := c.HTTP.Host
	port := c.HTTP.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}
