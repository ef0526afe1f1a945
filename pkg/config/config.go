// Package config loads the run-mode device configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mash-protocol/runmode-go/pkg/buffer"
	"github.com/mash-protocol/runmode-go/pkg/connection"
	"github.com/mash-protocol/runmode-go/pkg/failsafe"
	"github.com/mash-protocol/runmode-go/pkg/runmode"
)

// Defaults for optional keys.
const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultLogLevel     = "info"
)

// ErrMissingInitialMode is returned when initial_mode is absent.
var ErrMissingInitialMode = errors.New("initial_mode is required")

// Config is the device configuration file.
type Config struct {
	InitialMode  runmode.Mode   `yaml:"initial_mode"`
	TickInterval time.Duration  `yaml:"tick_interval"`
	IOTimeout    time.Duration  `yaml:"io_timeout"`
	Online       OnlineConfig   `yaml:"online"`
	Offline      OfflineConfig  `yaml:"offline"`
	Failsafe     FailsafeConfig `yaml:"failsafe"`
	Monitor      MonitorConfig  `yaml:"monitor"`
	Buffer       BufferConfig   `yaml:"buffer"`
	StateFile    string         `yaml:"state_file"`
	EventLog     string         `yaml:"event_log"`
	TraceTicks   bool           `yaml:"trace_ticks"`
	Metrics      MetricsConfig  `yaml:"metrics"`
	LogLevel     string         `yaml:"log_level"`
}

// OnlineConfig holds the ONLINE processing settings.
type OnlineConfig struct {
	MaxFailures int `yaml:"max_failures"`
	ResyncBatch int `yaml:"resync_batch"`
}

// OfflineConfig holds the OFFLINE processing settings.
type OfflineConfig struct {
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig is the probe schedule. Jitter is a pointer so that an
// explicit zero can disable jitter.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     *float64      `yaml:"jitter"`
}

// FailsafeConfig holds the failsafe timer settings. Limits are optional.
type FailsafeConfig struct {
	Duration         time.Duration  `yaml:"duration"`
	GracePeriod      *time.Duration `yaml:"grace_period"`
	ConsumptionLimit *int64         `yaml:"consumption_limit"`
	ProductionLimit  *int64         `yaml:"production_limit"`
}

// MonitorConfig holds the link debounce thresholds.
type MonitorConfig struct {
	UpThreshold   int `yaml:"up_threshold"`
	DownThreshold int `yaml:"down_threshold"`
}

// BufferConfig holds the backlog settings.
type BufferConfig struct {
	Capacity  int    `yaml:"capacity"`
	SpoolPath string `yaml:"spool_path"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// FieldError reports an invalid configuration key.
type FieldError struct {
	Key     string
	Message string
}

func (e *FieldError) Error() string {
	return "config: " + e.Key + ": " + e.Message
}

// LoadError reports a configuration file that could not be loaded.
type LoadError struct {
	File  string
	Cause error
}

func (e *LoadError) Error() string {
	return e.File + ": " + e.Cause.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Load reads, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Finish(); err != nil {
		return nil, &LoadError{File: path, Cause: err}
	}
	return cfg, nil
}

// ReadFile decodes the file at path without applying defaults, so that
// callers can overlay command-line flags before validation.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Cause: err}
	}
	cfg, err := Decode(data)
	if err != nil {
		return nil, &LoadError{File: path, Cause: err}
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode decodes YAML without applying defaults. Unknown keys are errors.
func Decode(data []byte) (*Config, error) {
	cfg := &Config{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Finish applies defaults and validates.
func (c *Config) Finish() error {
	c.ApplyDefaults()
	return c.Validate()
}

// ApplyDefaults fills zero values of optional keys.
func (c *Config) ApplyDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = runmode.DefaultIOTimeout
	}
	if c.Online.MaxFailures == 0 {
		c.Online.MaxFailures = runmode.DefaultMaxOnlineFailures
	}

	b := &c.Offline.Backoff
	if b.Initial == 0 {
		b.Initial = connection.InitialBackoff
	}
	if b.Max == 0 {
		b.Max = connection.MaxBackoff
	}
	if b.Multiplier == 0 {
		b.Multiplier = connection.BackoffMultiplier
	}
	if b.Jitter == nil {
		j := connection.JitterFactor
		b.Jitter = &j
	}

	if c.Failsafe.Duration == 0 {
		c.Failsafe.Duration = failsafe.DefaultDuration
	}
	if c.Failsafe.GracePeriod == nil {
		g := failsafe.DefaultGracePeriod
		c.Failsafe.GracePeriod = &g
	}

	if c.Monitor.UpThreshold == 0 {
		c.Monitor.UpThreshold = connection.DefaultUpThreshold
	}
	if c.Monitor.DownThreshold == 0 {
		c.Monitor.DownThreshold = connection.DefaultDownThreshold
	}
	if c.Buffer.Capacity == 0 {
		c.Buffer.Capacity = buffer.DefaultCapacity
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks every key and returns the first problem found.
func (c *Config) Validate() error {
	if c.InitialMode == 0 {
		return &FieldError{Key: "initial_mode", Message: ErrMissingInitialMode.Error()}
	}
	if !c.InitialMode.Valid() {
		return &FieldError{Key: "initial_mode", Message: "must be online or offline"}
	}
	if c.TickInterval <= 0 {
		return &FieldError{Key: "tick_interval", Message: "must be positive"}
	}
	if c.IOTimeout <= 0 {
		return &FieldError{Key: "io_timeout", Message: "must be positive"}
	}
	if c.Online.MaxFailures < 1 {
		return &FieldError{Key: "online.max_failures", Message: "must be at least 1"}
	}
	if c.Online.ResyncBatch < 0 {
		return &FieldError{Key: "online.resync_batch", Message: "must not be negative"}
	}

	b := c.Offline.Backoff
	if b.Initial < 0 {
		return &FieldError{Key: "offline.backoff.initial", Message: "must not be negative"}
	}
	if b.Max < b.Initial {
		return &FieldError{Key: "offline.backoff.max", Message: "must not be below initial"}
	}
	if b.Multiplier <= 1 {
		return &FieldError{Key: "offline.backoff.multiplier", Message: "must be greater than 1"}
	}
	if b.Jitter != nil && (*b.Jitter < 0 || *b.Jitter > 1) {
		return &FieldError{Key: "offline.backoff.jitter", Message: "must be between 0 and 1"}
	}

	if c.Failsafe.Duration < failsafe.MinDuration || c.Failsafe.Duration > failsafe.MaxDuration {
		return &FieldError{
			Key:     "failsafe.duration",
			Message: fmt.Sprintf("must be between %s and %s", failsafe.MinDuration, failsafe.MaxDuration),
		}
	}
	if c.Failsafe.GracePeriod != nil && *c.Failsafe.GracePeriod < 0 {
		return &FieldError{Key: "failsafe.grace_period", Message: "must not be negative"}
	}
	if c.Failsafe.ConsumptionLimit != nil && *c.Failsafe.ConsumptionLimit < 0 {
		return &FieldError{Key: "failsafe.consumption_limit", Message: "must not be negative"}
	}
	if c.Failsafe.ProductionLimit != nil && *c.Failsafe.ProductionLimit > 0 {
		return &FieldError{Key: "failsafe.production_limit", Message: "must not be positive"}
	}

	if c.Monitor.UpThreshold < 1 {
		return &FieldError{Key: "monitor.up_threshold", Message: "must be at least 1"}
	}
	if c.Monitor.DownThreshold < 1 {
		return &FieldError{Key: "monitor.down_threshold", Message: "must be at least 1"}
	}
	if c.Buffer.Capacity < 1 {
		return &FieldError{Key: "buffer.capacity", Message: "must be at least 1"}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return &FieldError{Key: "log_level", Message: err.Error()}
	}
	return nil
}

// ControllerConfig returns the controller settings. Collaborators are left
// for the caller to fill in.
func (c *Config) ControllerConfig() runmode.Config {
	cfg := runmode.DefaultConfig()
	cfg.IOTimeout = c.IOTimeout
	cfg.MaxOnlineFailures = c.Online.MaxFailures
	cfg.ResyncBatch = c.Online.ResyncBatch
	cfg.Backoff = c.BackoffConfig()
	cfg.TraceTicks = c.TraceTicks
	return cfg
}

// BackoffConfig returns the probe schedule.
func (c *Config) BackoffConfig() connection.BackoffConfig {
	b := c.Offline.Backoff
	cfg := connection.BackoffConfig{
		Initial:    b.Initial,
		Max:        b.Max,
		Multiplier: b.Multiplier,
	}
	if b.Jitter != nil {
		cfg.Jitter = *b.Jitter
	}
	return cfg
}

// FailsafeConfig returns the failsafe timer settings.
func (c *Config) FailsafeConfig() failsafe.Config {
	cfg := failsafe.Config{Duration: c.Failsafe.Duration}
	if c.Failsafe.GracePeriod != nil {
		cfg.GracePeriod = *c.Failsafe.GracePeriod
		cfg.NoGracePeriod = cfg.GracePeriod == 0
	}
	if c.Failsafe.ConsumptionLimit != nil {
		cfg.Limits.ConsumptionLimit = *c.Failsafe.ConsumptionLimit
		cfg.Limits.HasConsumptionLimit = true
	}
	if c.Failsafe.ProductionLimit != nil {
		cfg.Limits.ProductionLimit = *c.Failsafe.ProductionLimit
		cfg.Limits.HasProductionLimit = true
	}
	return cfg
}

// MonitorConfig returns the link monitor settings.
func (c *Config) MonitorConfig() connection.MonitorConfig {
	return connection.MonitorConfig{
		UpThreshold:   c.Monitor.UpThreshold,
		DownThreshold: c.Monitor.DownThreshold,
	}
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
