// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/maasdash/trafficaudit/internal/fetcher"
	"github.com/maasdash/trafficaudit/internal/observability"
	"github.com/maasdash/trafficaudit/internal/pricing"
	"github.com/maasdash/trafficaudit/internal/resilience"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRAFFICAUDIT_"

// Source modes.
const (
	ModeScrape = "scrape"
	ModeQuery  = "query"
)

// Config represents the complete engine configuration.
type Config struct {
	Server         ServerConfig                `yaml:"server"`
	Poll           PollConfig                  `yaml:"poll"`
	Window         WindowConfig                `yaml:"window"`
	Sources        SourcesConfig               `yaml:"sources"`
	Synthesis      SynthesisConfig             `yaml:"synthesis"`
	Seed           SeedConfig                  `yaml:"seed"`
	Pricing        []pricing.ModelPricing      `yaml:"pricing"`
	CircuitBreaker resilience.Config           `yaml:"circuit_breaker"`
	Logging        LoggingConfig               `yaml:"logging"`
	Metrics        MetricsConfig               `yaml:"metrics"`
	Tracing        observability.TracingConfig `yaml:"tracing"`
	CORS           CORSConfig                  `yaml:"cors"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PollConfig controls the poll loop and on-demand refreshes.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	// StaleAfter triggers a poll from ListRequests when the last one is older.
	StaleAfter   time.Duration `yaml:"stale_after"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// RefreshRate is the on-demand poll budget per second.
	RefreshRate  float64 `yaml:"refresh_rate"`
	RefreshBurst int     `yaml:"refresh_burst"`
}

// WindowConfig bounds the rolling record window.
type WindowConfig struct {
	Size   int           `yaml:"size"`
	MaxAge time.Duration `yaml:"max_age"`
}

// SourcesConfig configures the four telemetry sources.
type SourcesConfig struct {
	// BearerToken is the default token for every source without its own.
	BearerToken string             `yaml:"bearer_token"`
	Log         LogSourceConfig    `yaml:"log"`
	Gateway     MetricSourceConfig `yaml:"gateway"`
	Counter     MetricSourceConfig `yaml:"counter"`
	Auth        MetricSourceConfig `yaml:"auth"`
}

// LogSourceConfig configures the access log source.
type LogSourceConfig struct {
	Enabled bool `yaml:"enabled"`
	// Location is a file path, file:// URL or http(s) URL.
	Location    string `yaml:"location"`
	TailBytes   int64  `yaml:"tail_bytes"`
	BearerToken string `yaml:"bearer_token"`
}

// MetricSourceConfig configures a Prometheus-backed source.
type MetricSourceConfig struct {
	Enabled bool `yaml:"enabled"`
	// Mode is "scrape" (text exposition at URL) or "query" (Prometheus HTTP
	// API rooted at URL, running Queries).
	Mode         string            `yaml:"mode"`
	URL          string            `yaml:"url"`
	Queries      []fetcher.Query   `yaml:"queries"`
	BearerToken  string            `yaml:"bearer_token"`
	Headers      map[string]string `yaml:"headers"`
	MaxBodyBytes int64             `yaml:"max_body_bytes"`
	// RateWindow converts auth request rates to counts. Auth source only.
	RateWindow time.Duration `yaml:"rate_window"`
}

// SynthesisConfig controls record inference and synthesis.
type SynthesisConfig struct {
	MaxBatch int `yaml:"max_batch"`
	// InitialBackfill caps records synthesized on a source's first
	// observation. Negative means the window size.
	InitialBackfill     int               `yaml:"initial_backfill"`
	DefaultModel        string            `yaml:"default_model"`
	DefaultTeam         string            `yaml:"default_team"`
	TierPrefix          string            `yaml:"tier_prefix"`
	Teams               map[string]string `yaml:"teams"`
	BytesPerToken       int               `yaml:"bytes_per_token"`
	DefaultInputTokens  int               `yaml:"default_input_tokens"`
	DefaultOutputTokens int               `yaml:"default_output_tokens"`
}

// SeedConfig controls placeholder data before real traffic.
type SeedConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CORSConfig controls cross-origin access for the dashboard front end.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Poll: PollConfig{
			Interval:     2 * time.Second,
			StaleAfter:   5 * time.Second,
			FetchTimeout: fetcher.DefaultTimeout,
			RefreshRate:  1,
			RefreshBurst: 3,
		},
		Window: WindowConfig{
			Size:   100,
			MaxAge: time.Hour,
		},
		Sources: SourcesConfig{
			Log:     LogSourceConfig{TailBytes: fetcher.DefaultLogTailBytes},
			Gateway: MetricSourceConfig{Mode: ModeScrape},
			Counter: MetricSourceConfig{Mode: ModeScrape},
			Auth:    MetricSourceConfig{Mode: ModeScrape, RateWindow: 5 * time.Minute},
		},
		Synthesis: SynthesisConfig{
			MaxBatch:            1000,
			InitialBackfill:     -1,
			DefaultModel:        "vllm-simulator",
			DefaultTeam:         "default",
			TierPrefix:          "inference-gateway-tier-",
			BytesPerToken:       4,
			DefaultInputTokens:  50,
			DefaultOutputTokens: 150,
		},
		Seed: SeedConfig{
			Enabled: true,
		},
		CircuitBreaker: resilience.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: observability.DefaultTracingConfig(),
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded, then
// TRAFFICAUDIT_* variables override individual fields.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Load builds a configuration from defaults and the environment only.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// overrides lists the fields that can be set from the environment. It is
// pre-filled from the file so unset variables keep the file's values.
type overrides struct {
	Port            int           `env:"SERVER_PORT"`
	PollInterval    time.Duration `env:"POLL_INTERVAL"`
	StaleAfter      time.Duration `env:"POLL_STALE_AFTER"`
	FetchTimeout    time.Duration `env:"POLL_FETCH_TIMEOUT"`
	WindowSize      int           `env:"WINDOW_SIZE"`
	WindowMaxAge    time.Duration `env:"WINDOW_MAX_AGE"`
	BearerToken     string        `env:"SOURCES_BEARER_TOKEN"`
	LogEnabled      bool          `env:"SOURCES_LOG_ENABLED"`
	LogLocation     string        `env:"SOURCES_LOG_LOCATION"`
	GatewayEnabled  bool          `env:"SOURCES_GATEWAY_ENABLED"`
	GatewayURL      string        `env:"SOURCES_GATEWAY_URL"`
	CounterEnabled  bool          `env:"SOURCES_COUNTER_ENABLED"`
	CounterURL      string        `env:"SOURCES_COUNTER_URL"`
	AuthEnabled     bool          `env:"SOURCES_AUTH_ENABLED"`
	AuthURL         string        `env:"SOURCES_AUTH_URL"`
	SeedEnabled     bool          `env:"SEED_ENABLED"`
	LogLevel        string        `env:"LOG_LEVEL"`
	LogFormat       string        `env:"LOG_FORMAT"`
	TracingEnabled  bool          `env:"TRACING_ENABLED"`
	TracingEndpoint string        `env:"TRACING_ENDPOINT"`
	CORSOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

func (c *Config) applyEnv() error {
	o := overrides{
		Port:            c.Server.Port,
		PollInterval:    c.Poll.Interval,
		StaleAfter:      c.Poll.StaleAfter,
		FetchTimeout:    c.Poll.FetchTimeout,
		WindowSize:      c.Window.Size,
		WindowMaxAge:    c.Window.MaxAge,
		BearerToken:     c.Sources.BearerToken,
		LogEnabled:      c.Sources.Log.Enabled,
		LogLocation:     c.Sources.Log.Location,
		GatewayEnabled:  c.Sources.Gateway.Enabled,
		GatewayURL:      c.Sources.Gateway.URL,
		CounterEnabled:  c.Sources.Counter.Enabled,
		CounterURL:      c.Sources.Counter.URL,
		AuthEnabled:     c.Sources.Auth.Enabled,
		AuthURL:         c.Sources.Auth.URL,
		SeedEnabled:     c.Seed.Enabled,
		LogLevel:        c.Logging.Level,
		LogFormat:       c.Logging.Format,
		TracingEnabled:  c.Tracing.Enabled,
		TracingEndpoint: c.Tracing.Endpoint,
		CORSOrigins:     c.CORS.AllowedOrigins,
	}
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	c.Server.Port = o.Port
	c.Poll.Interval = o.PollInterval
	c.Poll.StaleAfter = o.StaleAfter
	c.Poll.FetchTimeout = o.FetchTimeout
	c.Window.Size = o.WindowSize
	c.Window.MaxAge = o.WindowMaxAge
	c.Sources.BearerToken = o.BearerToken
	c.Sources.Log.Enabled = o.LogEnabled
	c.Sources.Log.Location = o.LogLocation
	c.Sources.Gateway.Enabled = o.GatewayEnabled
	c.Sources.Gateway.URL = o.GatewayURL
	c.Sources.Counter.Enabled = o.CounterEnabled
	c.Sources.Counter.URL = o.CounterURL
	c.Sources.Auth.Enabled = o.AuthEnabled
	c.Sources.Auth.URL = o.AuthURL
	c.Seed.Enabled = o.SeedEnabled
	c.Logging.Level = o.LogLevel
	c.Logging.Format = o.LogFormat
	c.Tracing.Enabled = o.TracingEnabled
	c.Tracing.Endpoint = o.TracingEndpoint
	c.CORS.AllowedOrigins = o.CORSOrigins
	return nil
}

func (c *Config) applyDerived() {
	if c.Synthesis.InitialBackfill < 0 {
		c.Synthesis.InitialBackfill = c.Window.Size
	}
	for _, src := range []*MetricSourceConfig{&c.Sources.Gateway, &c.Sources.Counter, &c.Sources.Auth} {
		if src.BearerToken == "" {
			src.BearerToken = c.Sources.BearerToken
		}
		src.Mode = strings.ToLower(strings.TrimSpace(src.Mode))
		if src.Mode == "" {
			src.Mode = ModeScrape
		}
	}
	if c.Sources.Log.BearerToken == "" {
		c.Sources.Log.BearerToken = c.Sources.BearerToken
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	if c.Poll.FetchTimeout <= 0 {
		return fmt.Errorf("poll.fetch_timeout must be positive")
	}
	if c.Poll.StaleAfter < 0 {
		return fmt.Errorf("poll.stale_after cannot be negative")
	}
	if c.Poll.RefreshRate < 0 || c.Poll.RefreshBurst < 0 {
		return fmt.Errorf("poll.refresh_rate and poll.refresh_burst cannot be negative")
	}
	if c.Window.Size <= 0 {
		return fmt.Errorf("window.size must be positive")
	}
	if c.Window.MaxAge < 0 {
		return fmt.Errorf("window.max_age cannot be negative")
	}
	if c.Synthesis.MaxBatch <= 0 {
		return fmt.Errorf("synthesis.max_batch must be positive")
	}

	if c.Sources.Log.Enabled && c.Sources.Log.Location == "" {
		return fmt.Errorf("sources.log: location is required")
	}
	sources := map[string]MetricSourceConfig{
		"gateway": c.Sources.Gateway,
		"counter": c.Sources.Counter,
		"auth":    c.Sources.Auth,
	}
	for name, src := range sources {
		if !src.Enabled {
			continue
		}
		if src.URL == "" {
			return fmt.Errorf("sources.%s: url is required", name)
		}
		switch src.Mode {
		case ModeScrape:
		case ModeQuery:
			if len(src.Queries) == 0 {
				return fmt.Errorf("sources.%s: query mode needs at least one query", name)
			}
			for i, q := range src.Queries {
				if q.Alias == "" || q.Expr == "" {
					return fmt.Errorf("sources.%s.queries[%d]: alias and expr are required", name, i)
				}
			}
		default:
			return fmt.Errorf("sources.%s: unknown mode %q", name, src.Mode)
		}
	}

	if c.CircuitBreaker.Enabled && c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}

	return nil
}

// Warnings returns non-fatal configuration issues worth logging at startup.
func (c *Config) Warnings() []string {
	var warnings []string
	if !c.Sources.Log.Enabled && !c.Sources.Gateway.Enabled && !c.Sources.Counter.Enabled && !c.Sources.Auth.Enabled {
		warnings = append(warnings, "no telemetry source enabled; only seed data will be served")
	}
	if c.CORS.Enabled && c.CORS.AllowCredentials {
		for _, o := range c.CORS.AllowedOrigins {
			if o == "*" {
				warnings = append(warnings, "cors allows credentials with wildcard origin")
				break
			}
		}
	}
	return warnings
}
