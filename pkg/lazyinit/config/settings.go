package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/lazyinit/pkg/lazyinit/retry"
)

// Metrics backends accepted in Settings.Metrics.
const (
	MetricsNone       = "none"
	MetricsOTel       = "otel"
	MetricsPrometheus = "prometheus"
)

// ErrInvalidSettings is returned by Validate and Decode for out-of-range
// settings.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings configures cells and registries built by an application.
//
// Example YAML:
//
//	name: pools
//	log_level: debug
//	metrics: prometheus
//	tracing: true
//	wait_timeout: 5s
//	warm_limit: 4
//	retry:
//	  max_attempts: 5
//	  initial_backoff: 200ms
//	  max_backoff: 10s
//	  backoff_factor: 2
//	  jitter: 0.1
type Settings struct {
	Name        string
	LogLevel    slog.Level
	Metrics     string
	Tracing     bool
	WaitTimeout time.Duration // zero means wait indefinitely
	WarmLimit   int           // zero means no limit
	Retry       retry.Config
}

// DefaultSettings returns the settings used for missing keys.
func DefaultSettings() Settings {
	return Settings{
		LogLevel: slog.LevelInfo,
		Metrics:  MetricsNone,
		Retry:    retry.Default,
	}
}

// Decode reads Settings from c, filling missing keys from DefaultSettings.
func Decode(c Config) (Settings, error) {
	s := DefaultSettings()

	s.Name = c.String("name", s.Name)
	s.Metrics = strings.ToLower(c.String("metrics", s.Metrics))
	s.Tracing = c.Bool("tracing", s.Tracing)
	s.WaitTimeout = c.Duration("wait_timeout", s.WaitTimeout)
	s.WarmLimit = c.Int("warm_limit", s.WarmLimit)

	if c.Has("log_level") {
		level, err := ParseLevel(c.String("log_level", ""))
		if err != nil {
			return Settings{}, err
		}
		s.LogLevel = level
	}

	r := c.Sub("retry")
	s.Retry = retry.Config{
		MaxAttempts:    r.Int("max_attempts", s.Retry.MaxAttempts),
		InitialBackoff: r.Duration("initial_backoff", s.Retry.InitialBackoff),
		MaxBackoff:     r.Duration("max_backoff", s.Retry.MaxBackoff),
		BackoffFactor:  r.Float("backoff_factor", s.Retry.BackoffFactor),
		Jitter:         r.Float("jitter", s.Retry.Jitter),
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Load reads and decodes a settings file.
func Load(path string) (Settings, error) {
	c, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	s, err := Decode(c)
	if err != nil {
		return Settings{}, fmt.Errorf("load %s: %w", path, err)
	}
	return s, nil
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	var errs []error

	switch s.Metrics {
	case MetricsNone, MetricsOTel, MetricsPrometheus:
	default:
		errs = append(errs, fmt.Errorf("metrics: unknown backend %q", s.Metrics))
	}
	if s.WaitTimeout < 0 {
		errs = append(errs, fmt.Errorf("wait_timeout: must not be negative, got %s", s.WaitTimeout))
	}
	if s.WarmLimit < 0 {
		errs = append(errs, fmt.Errorf("warm_limit: must not be negative, got %d", s.WarmLimit))
	}
	if s.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts: must be at least 1, got %d", s.Retry.MaxAttempts))
	}
	if s.Retry.BackoffFactor < 1 && s.Retry.MaxAttempts > 1 {
		errs = append(errs, fmt.Errorf("retry.backoff_factor: must be at least 1, got %g", s.Retry.BackoffFactor))
	}
	if s.Retry.Jitter < 0 || s.Retry.Jitter > 1 {
		errs = append(errs, fmt.Errorf("retry.jitter: must be within [0, 1], got %g", s.Retry.Jitter))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}

// ParseLevel parses debug, info, warn or error (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("%w: log_level: %w", ErrInvalidSettings, err)
	}
	return level, nil
}
