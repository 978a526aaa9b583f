package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/engine"
	"github.com/rustyeddy/challenger/market"
)

// Config is the complete engine configuration.
type Config struct {
	Engine      EngineConfig        `json:"engine" yaml:"engine"`
	Retry       RetryConfig         `json:"retry" yaml:"retry"`
	Store       StoreConfig         `json:"store" yaml:"store"`
	Server      ServerConfig        `json:"server" yaml:"server"`
	Log         LogConfig           `json:"log" yaml:"log"`
	Instruments []market.Instrument `json:"instruments,omitempty" yaml:"instruments,omitempty"`
}

type EngineConfig struct {
	Workers             int    `json:"workers" yaml:"workers"` // 0 means one per CPU
	Timezone            string `json:"timezone" yaml:"timezone"`
	DailyBreachStatus   string `json:"daily_breach_status" yaml:"daily_breach_status"`
	OverallBreachStatus string `json:"overall_breach_status" yaml:"overall_breach_status"`
	MetricsBuffer       int    `json:"metrics_buffer" yaml:"metrics_buffer"`
	LockReleaseInterval string `json:"lock_release_interval" yaml:"lock_release_interval"` // e.g. "1m"
}

// RetryConfig bounds the backoff around store calls. Intervals are
// duration strings such as "50ms".
type RetryConfig struct {
	MaxAttempts     int    `json:"max_attempts" yaml:"max_attempts"`
	InitialInterval string `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     string `json:"max_interval" yaml:"max_interval"`
}

type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "memory", "sqlite" or "postgres"
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "pretty", "text" or "json"
}

// Load reads a .env file if present, then the config file, then applies
// environment overrides and validates the result. An empty path starts
// from Default.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = parseFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file (YAML, or JSON as a
// fallback) without consulting the environment.
func LoadFromFile(path string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Unset fields keep their defaults.
	cfg := Default()
	cfg.Instruments = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		cfg.Instruments = nil
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	if len(cfg.Instruments) == 0 {
		cfg.Instruments = append([]market.Instrument(nil), market.DefaultInstruments...)
	}
	return cfg, nil
}

// ApplyEnv overrides file settings with CHALLENGER_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CHALLENGER_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("CHALLENGER_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("CHALLENGER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CHALLENGER_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	daily := challenge.Status(c.Engine.DailyBreachStatus)
	switch daily {
	case challenge.StatusFailed, challenge.StatusDailyLocked, challenge.StatusDisqualified:
	default:
		return fmt.Errorf("engine.daily_breach_status must be FAILED, DAILY_LOCKED or DISQUALIFIED")
	}
	overall := challenge.Status(c.Engine.OverallBreachStatus)
	if !overall.Failed() {
		return fmt.Errorf("engine.overall_breach_status must be FAILED or DISQUALIFIED")
	}
	if c.Engine.MetricsBuffer <= 0 {
		return fmt.Errorf("engine.metrics_buffer must be positive")
	}
	if _, err := ParseDuration("engine.lock_release_interval", c.Engine.LockReleaseInterval); err != nil {
		return err
	}

	if _, err := c.RetryPolicy(); err != nil {
		return err
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be 'memory', 'sqlite' or 'postgres'")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	switch c.Log.Format {
	case "pretty", "text", "json":
	default:
		return fmt.Errorf("log.format must be 'pretty', 'text' or 'json'")
	}

	if _, err := c.InstrumentTable(); err != nil {
		return fmt.Errorf("instruments: %w", err)
	}
	return nil
}

// ParseDuration parses a duration setting; empty means zero.
func ParseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

func (c *Config) Location() (*time.Location, error) {
	if c.Engine.Timezone == "" || c.Engine.Timezone == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return nil, fmt.Errorf("engine.timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) RetryPolicy() (engine.RetryPolicy, error) {
	if c.Retry.MaxAttempts <= 0 {
		return engine.RetryPolicy{}, fmt.Errorf("retry.max_attempts must be positive")
	}
	initial, err := ParseDuration("retry.initial_interval", c.Retry.InitialInterval)
	if err != nil {
		return engine.RetryPolicy{}, err
	}
	maxInterval, err := ParseDuration("retry.max_interval", c.Retry.MaxInterval)
	if err != nil {
		return engine.RetryPolicy{}, err
	}
	if maxInterval > 0 && initial > maxInterval {
		return engine.RetryPolicy{}, fmt.Errorf("retry.initial_interval exceeds retry.max_interval")
	}
	return engine.RetryPolicy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: initial,
		MaxInterval:     maxInterval,
	}, nil
}

// InstrumentTable builds the instrument metadata, falling back to the
// built-in table when none are configured.
func (c *Config) InstrumentTable() (*market.Instruments, error) {
	if len(c.Instruments) == 0 {
		return market.NewInstruments(market.DefaultInstruments)
	}
	return market.NewInstruments(c.Instruments)
}

// EngineOptions translates the config into engine options.
func (c *Config) EngineOptions(log *slog.Logger) (engine.Options, error) {
	loc, err := c.Location()
	if err != nil {
		return engine.Options{}, err
	}
	retry, err := c.RetryPolicy()
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Workers:             c.Engine.Workers,
		Location:            loc,
		DailyBreachStatus:   challenge.Status(c.Engine.DailyBreachStatus),
		OverallBreachStatus: challenge.Status(c.Engine.OverallBreachStatus),
		Retry:               retry,
		Logger:              log,
	}, nil
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Workers:             runtime.NumCPU(),
			Timezone:            "UTC",
			DailyBreachStatus:   string(challenge.StatusFailed),
			OverallBreachStatus: string(challenge.StatusFailed),
			MetricsBuffer:       64,
			LockReleaseInterval: "1m",
		},
		Retry: RetryConfig{
			MaxAttempts:     5,
			InitialInterval: "50ms",
			MaxInterval:     "2s",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "./challenger.db",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "pretty",
		},
		Instruments: append([]market.Instrument(nil), market.DefaultInstruments...),
	}
}
