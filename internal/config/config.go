// Package config loads service and CLI settings: built-in defaults, then an
// optional YAML file, then SREC_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvFile names the environment variable holding the YAML file path.
const EnvFile = "SREC_CONFIG"

type ObserverConfig struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
	Alt float64 `yaml:"alt"` // meters
}

type SearchConfig struct {
	Start            string  `yaml:"start"` // RFC 3339; empty means now
	HoursForward     float64 `yaml:"hours_forward"`
	SearchHours      float64 `yaml:"search_hours"`
	MaxPasses        int     `yaml:"max_passes"`
	StepSeconds      int     `yaml:"step_seconds"`
	TrackStepSeconds int     `yaml:"track_step_seconds"`
}

type TrackerConfig struct {
	IntervalSeconds float64 `yaml:"interval_seconds"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

type StreamConfig struct {
	MaxConcurrentPerIP int  `yaml:"max_concurrent_per_ip"`
	MaxConcurrent      int  `yaml:"max_concurrent"` // across all clients
	KeepaliveSeconds   int  `yaml:"keepalive_seconds"`
	TrustProxy         bool `yaml:"trust_proxy"`
}

// Config is the full set of recognised options.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	TLEFile  string `yaml:"tle_file"` // empty selects the embedded record
	Timezone string `yaml:"timezone"` // IANA name for pass tables
	LogLevel string `yaml:"log_level"`
	Workers  int    `yaml:"workers"`

	Observer ObserverConfig `yaml:"observer"`
	Search   SearchConfig   `yaml:"search"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Auth     AuthConfig     `yaml:"auth"`
	Stream   StreamConfig   `yaml:"stream"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Workers:  runtime.NumCPU(),
		Observer: ObserverConfig{Lat: 40.7128, Lon: -74.006, Alt: 10},
		Search: SearchConfig{
			HoursForward:     1.5,
			SearchHours:      24,
			MaxPasses:        5,
			StepSeconds:      20,
			TrackStepSeconds: 30,
		},
		Tracker: TrackerConfig{IntervalSeconds: 1},
		Stream: StreamConfig{
			MaxConcurrentPerIP: 10,
			MaxConcurrent:      1000,
			KeepaliveSeconds:   30,
		},
	}
}

// Load builds the configuration. path overrides SREC_CONFIG; when both are
// empty no file is read. Invalid environment values are logged and ignored.
func Load(path string, logger *slog.Logger) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		logger.Debug("config file loaded", "path", path)
	}

	applyEnv(&cfg, logger)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so typos do not pass silently.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks settings that cannot fall back to a default.
func (c Config) Validate() error {
	if c.Auth.Enabled && c.Auth.Token == "" {
		return errors.New("auth token is required when auth is enabled (SREC_AUTH_TOKEN)")
	}
	if c.Stream.MaxConcurrentPerIP < 1 || c.Stream.MaxConcurrent < c.Stream.MaxConcurrentPerIP {
		return fmt.Errorf("stream limits: max_concurrent (%d) must be at least max_concurrent_per_ip (%d), which must be positive",
			c.Stream.MaxConcurrent, c.Stream.MaxConcurrentPerIP)
	}
	if _, err := c.StartTime(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// StartTime returns the configured search start, or the zero time for "now".
func (c Config) StartTime() (time.Time, error) {
	if c.Search.Start == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.Search.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid search start %q: must be RFC 3339", c.Search.Start)
	}
	return t.UTC(), nil
}

// Location returns the pass table time zone, or nil when unset.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return lvl, nil
}

func applyEnv(cfg *Config, logger *slog.Logger) {
	envString(logger, "SREC_HTTP_ADDR", &cfg.HTTPAddr)
	envString(logger, "SREC_TLE_FILE", &cfg.TLEFile)
	envString(logger, "SREC_TIMEZONE", &cfg.Timezone)
	envString(logger, "SREC_LOG_LEVEL", &cfg.LogLevel)
	envInt(logger, "SREC_WORKERS", &cfg.Workers, 1)

	envFloat(logger, "SREC_OBSERVER_LAT", &cfg.Observer.Lat)
	envFloat(logger, "SREC_OBSERVER_LON", &cfg.Observer.Lon)
	envFloat(logger, "SREC_OBSERVER_ALT", &cfg.Observer.Alt)

	envString(logger, "SREC_START", &cfg.Search.Start)
	envFloat(logger, "SREC_HOURS_FORWARD", &cfg.Search.HoursForward)
	envFloat(logger, "SREC_SEARCH_HOURS", &cfg.Search.SearchHours)
	envInt(logger, "SREC_MAX_PASSES", &cfg.Search.MaxPasses, 1)
	envInt(logger, "SREC_STEP_SECONDS", &cfg.Search.StepSeconds, 1)
	envInt(logger, "SREC_TRACK_STEP_SECONDS", &cfg.Search.TrackStepSeconds, 1)

	envFloat(logger, "SREC_TRACKER_INTERVAL", &cfg.Tracker.IntervalSeconds)

	envBool(logger, "SREC_AUTH_ENABLED", &cfg.Auth.Enabled)
	envString(logger, "SREC_AUTH_TOKEN", &cfg.Auth.Token)

	envInt(logger, "SREC_STREAM_MAX_CONCURRENT", &cfg.Stream.MaxConcurrentPerIP, 1)
	envInt(logger, "SREC_STREAM_MAX_TOTAL", &cfg.Stream.MaxConcurrent, 1)
	envInt(logger, "SREC_STREAM_KEEPALIVE_INTERVAL", &cfg.Stream.KeepaliveSeconds, 1)
	envBool(logger, "SREC_TRUST_PROXY", &cfg.Stream.TrustProxy)
}

func envString(_ *slog.Logger, name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = strings.TrimSpace(v)
	}
}

func envInt(logger *slog.Logger, name string, dst *int, min int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = n
}

func envFloat(logger *slog.Logger, name string, dst *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = f
}

func envBool(logger *slog.Logger, name string, dst *bool) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = b
}
