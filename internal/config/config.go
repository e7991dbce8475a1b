package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-bodkin/internal/cpufeatures"
)

// Environment variables consulted by FromEnv.
const (
	EnvLogLevel    = "BODKIN_LOG_LEVEL"
	EnvLogFormat   = "BODKIN_LOG_FORMAT"
	EnvForceTier   = "BODKIN_FORCE_TIER"
	EnvWorkers     = "BODKIN_WORKERS"
	EnvMetricsAddr = "BODKIN_METRICS_ADDR"
	EnvMemoryLimit = "BODKIN_MEMORY_LIMIT"
)

// Config carries process-level runtime settings. Attention parameters
// are per-instance and live in the attention package; this covers the
// ambient concerns shared by every instance.
type Config struct {
	LogLevel  string
	LogFormat string

	// ForceTier pins the kernel tier ("wide", "narrow", "scalar")
	// instead of using runtime detection. Empty means auto.
	ForceTier string

	// Workers bounds intra-stage parallelism. 0 or 1 means serial.
	Workers int

	// MetricsAddr, when non-empty, is the listen address for the
	// metrics and health endpoint.
	MetricsAddr string

	// MemoryLimit caps total live allocator bytes. 0 means unlimited.
	MemoryLimit int64
}

func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// FromEnv starts from Default and overrides from the BODKIN_*
// environment variables. Malformed numeric values are reported rather
// than silently ignored.
func FromEnv() (Config, error) {
	c := Default()
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv(EnvForceTier); v != "" {
		c.ForceTier = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("invalid %s: %q", EnvWorkers, v)
		}
		c.Workers = n
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv(EnvMemoryLimit); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c, fmt.Errorf("invalid %s: %q", EnvMemoryLimit, v)
		}
		c.MemoryLimit = n
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %q (must be trace, debug, info, warn, or error)", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	if c.ForceTier != "" {
		if _, ok := cpufeatures.ParseTier(c.ForceTier); !ok {
			return fmt.Errorf("invalid force_tier: %q (must be wide, narrow, or scalar)", c.ForceTier)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("invalid workers: %d (must be non-negative)", c.Workers)
	}
	if c.MemoryLimit < 0 {
		return fmt.Errorf("invalid memory_limit: %d (must be non-negative)", c.MemoryLimit)
	}
	return nil
}

// Tier resolves ForceTier against runtime detection. An empty or
// unparseable value falls back to the best detected tier.
func (c *Config) Tier() cpufeatures.Tier {
	if t, ok := cpufeatures.ParseTier(c.ForceTier); ok {
		return t
	}
	return cpufeatures.Get().Best()
}
