// Package config handles configuration loading for the spool daemon:
// defaults, an optional YAML file, and CALLSPOOL_* environment overrides.
// No global mutable state; the resulting struct is passed explicitly to
// constructors.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the spool daemon.
type Config struct {
	// SpoolRoot is the directory holding the pending/active/archive/failed
	// bins.
	SpoolRoot string

	// OriginateCommand is the external dialer invoked per attempt.
	OriginateCommand string

	// AttemptTimeout bounds a single origination attempt.
	AttemptTimeout time.Duration

	// PollInterval is the scan fallback when filesystem notifications are
	// unavailable or miss events.
	PollInterval time.Duration

	// MaxConcurrent bounds in-flight origination attempts.
	MaxConcurrent int

	// OriginateRate paces attempts per second; zero means unlimited.
	OriginateRate float64

	// OriginateBurst is the rate limiter burst size.
	OriginateBurst int

	// ExemptSuccessFromBudget keeps successful requeued attempts from
	// counting against MaxRetries.
	ExemptSuccessFromBudget bool

	// DefaultMaxRetries and DefaultRetryInterval seed newly enqueued jobs
	// that do not specify their own values.
	DefaultMaxRetries    int
	DefaultRetryInterval time.Duration

	// MetricsPort serves the Prometheus /metrics endpoint.
	MetricsPort int

	// OTELEndpoint is the OTLP/gRPC collector address; empty disables
	// tracing.
	OTELEndpoint string
}

// Load reads configuration from an optional YAML file and environment
// variables. When path is empty, callspool.yaml is searched in the current
// directory and /etc/callspool.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("poll_interval", "5s")
	v.SetDefault("attempt_timeout", "45s")
	v.SetDefault("max_concurrent", 4)
	v.SetDefault("originate_rate", 0.0)
	v.SetDefault("originate_burst", 1)
	v.SetDefault("exempt_success_from_budget", false)
	v.SetDefault("default_max_retries", 3)
	v.SetDefault("default_retry_interval", "5m")
	v.SetDefault("metrics_port", 6162)
	v.SetDefault("otel_endpoint", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("callspool")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/callspool")
		// The file is optional in search mode.
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Read environment variables that match "CALLSPOOL_VARNAME".
	v.SetEnvPrefix("CALLSPOOL")
	v.AutomaticEnv()

	cfg := &Config{
		SpoolRoot:               v.GetString("spool_root"),
		OriginateCommand:        v.GetString("originate_command"),
		AttemptTimeout:          v.GetDuration("attempt_timeout"),
		PollInterval:            v.GetDuration("poll_interval"),
		MaxConcurrent:           v.GetInt("max_concurrent"),
		OriginateRate:           v.GetFloat64("originate_rate"),
		OriginateBurst:          v.GetInt("originate_burst"),
		ExemptSuccessFromBudget: v.GetBool("exempt_success_from_budget"),
		DefaultMaxRetries:       v.GetInt("default_max_retries"),
		DefaultRetryInterval:    v.GetDuration("default_retry_interval"),
		MetricsPort:             v.GetInt("metrics_port"),
		OTELEndpoint:            v.GetString("otel_endpoint"),
	}

	if cfg.SpoolRoot == "" {
		return nil, errors.New("spool_root is required (env: CALLSPOOL_SPOOL_ROOT)")
	}
	if cfg.OriginateCommand == "" {
		return nil, errors.New("originate_command is required (env: CALLSPOOL_ORIGINATE_COMMAND)")
	}
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max_concurrent must be positive, got %d", cfg.MaxConcurrent)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll_interval must be positive, got %v", cfg.PollInterval)
	}
	if cfg.AttemptTimeout <= 0 {
		return nil, fmt.Errorf("attempt_timeout must be positive, got %v", cfg.AttemptTimeout)
	}
	if cfg.OriginateRate < 0 {
		return nil, fmt.Errorf("originate_rate must not be negative, got %v", cfg.OriginateRate)
	}

	return cfg, nil
}
