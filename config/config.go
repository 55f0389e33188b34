// Package config centralises runtime configuration for the DSL engine.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/strataquant/dslengine/errs"
)

// Profile selects a resource-limit preset.
type Profile string

const (
	// ProfileInteractive suits editor validation and chart previews.
	ProfileInteractive Profile = "interactive"
	// ProfileBacktest suits long historical runs.
	ProfileBacktest Profile = "backtest"
)

// LimitsConfig bounds a single script execution.
type LimitsConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	MaxMemoryBytes    int64         `yaml:"max_memory_bytes"`
	MaxIterations     int64         `yaml:"max_iterations"`
	MaxRecursionDepth int           `yaml:"max_recursion_depth"`
}

// CacheConfig configures the bytecode cache tiers.
type CacheConfig struct {
	// Capacity is the L1 entry cap.
	Capacity int `yaml:"capacity"`
	// TTL applies to cached bytecode in both tiers.
	TTL time.Duration `yaml:"ttl"`
	// Dir is the persistent tier directory; empty disables persistence.
	Dir string `yaml:"dir"`
}

// TelemetryConfig configures metric export.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// RuntimeConfig tunes the runtime service facade.
type RuntimeConfig struct {
	// Profile picks the default limit preset.
	Profile Profile `yaml:"profile"`
	// MaxSourceBytes caps accepted script size.
	MaxSourceBytes int `yaml:"max_source_bytes"`
	// CompileRatePerSecond throttles compilation; zero disables the limiter.
	CompileRatePerSecond float64 `yaml:"compile_rate_per_second"`
	// CompileBurst is the limiter burst size.
	CompileBurst int `yaml:"compile_burst"`
	// BatchWorkers bounds concurrent executions in ExecuteBatch.
	BatchWorkers int `yaml:"batch_workers"`
}

// Settings is the engine configuration tree.
type Settings struct {
	Limits    map[Profile]LimitsConfig `yaml:"limits"`
	Cache     CacheConfig              `yaml:"cache"`
	Telemetry TelemetryConfig          `yaml:"telemetry"`
	Runtime   RuntimeConfig            `yaml:"runtime"`
}

// Default returns the built-in configuration.
func Default() Settings {
	return Settings{
		Limits: map[Profile]LimitsConfig{
			ProfileInteractive: {
				Timeout:           5 * time.Second,
				MaxMemoryBytes:    64 << 20,
				MaxIterations:     1_000_000,
				MaxRecursionDepth: 64,
			},
			ProfileBacktest: {
				Timeout:           5 * time.Minute,
				MaxMemoryBytes:    512 << 20,
				MaxIterations:     100_000_000,
				MaxRecursionDepth: 64,
			},
		},
		Cache: CacheConfig{
			Capacity: 1024,
			TTL:      24 * time.Hour,
			Dir:      "",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "dslengine",
			OTLPEndpoint: "",
		},
		Runtime: RuntimeConfig{
			Profile:              ProfileInteractive,
			MaxSourceBytes:       256 * 1024,
			CompileRatePerSecond: 50,
			CompileBurst:         100,
			BatchWorkers:         8,
		},
	}
}

// FromEnv loads configuration from environment variables over defaults.
func FromEnv() Settings {
	cfg := Default()
	if v := strings.TrimSpace(os.Getenv("DSLENGINE_PROFILE")); v != "" {
		cfg.Runtime.Profile = Profile(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("DSLENGINE_CACHE_DIR")); v != "" {
		cfg.Cache.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("DSLENGINE_CACHE_TTL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("DSLENGINE_CACHE_CAPACITY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Cache.Capacity = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DSLENGINE_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("DSLENGINE_SERVICE_NAME")); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("DSLENGINE_EXEC_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			limits := cfg.Limits[cfg.Runtime.Profile]
			limits.Timeout = dur
			cfg.Limits[cfg.Runtime.Profile] = limits
		}
	}
	return cfg
}

// LoadFile reads a YAML configuration file over defaults.
func LoadFile(path string) (Settings, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errs.New("config", errs.CodeNotFound,
			errs.WithMessage("read config file"), errs.WithCause(err))
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errs.New("config", errs.CodeInvalid,
			errs.WithMessage("parse config file"), errs.WithCause(err))
	}
	return cfg, nil
}

// LimitsFor returns the limit preset for the profile, falling back to
// interactive.
func (s Settings) LimitsFor(p Profile) LimitsConfig {
	if l, ok := s.Limits[p]; ok {
		return l
	}
	return s.Limits[ProfileInteractive]
}
