package config

import (
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/cpufeatures"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "console" {
		t.Errorf("expected LogFormat console, got %q", cfg.LogFormat)
	}
	if cfg.ForceTier != "" {
		t.Errorf("expected empty ForceTier, got %q", cfg.ForceTier)
	}
	if cfg.Workers != 0 {
		t.Errorf("expected Workers 0, got %d", cfg.Workers)
	}
	if cfg.MemoryLimit != 0 {
		t.Errorf("expected MemoryLimit 0, got %d", cfg.MemoryLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"json format", func(c *Config) { c.LogFormat = "json" }, false},
		{"debug level", func(c *Config) { c.LogLevel = "debug" }, false},
		{"forced scalar tier", func(c *Config) { c.ForceTier = "scalar" }, false},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"bad tier", func(c *Config) { c.ForceTier = "avx512" }, true},
		{"negative workers", func(c *Config) { c.Workers = -1 }, true},
		{"negative memory limit", func(c *Config) { c.MemoryLimit = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvForceTier, "narrow")
	t.Setenv(EnvWorkers, "8")
	t.Setenv(EnvMetricsAddr, "127.0.0.1:9091")
	t.Setenv(EnvMemoryLimit, "1048576")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel debug, got %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("expected LogFormat json, got %q", cfg.LogFormat)
	}
	if cfg.ForceTier != "narrow" {
		t.Errorf("expected ForceTier narrow, got %q", cfg.ForceTier)
	}
	if cfg.Workers != 8 {
		t.Errorf("expected Workers 8, got %d", cfg.Workers)
	}
	if cfg.MetricsAddr != "127.0.0.1:9091" {
		t.Errorf("expected MetricsAddr 127.0.0.1:9091, got %q", cfg.MetricsAddr)
	}
	if cfg.MemoryLimit != 1048576 {
		t.Errorf("expected MemoryLimit 1048576, got %d", cfg.MemoryLimit)
	}
	if got := cfg.Tier(); got != cpufeatures.TierNarrow {
		t.Errorf("expected resolved tier narrow, got %v", got)
	}
}

func TestFromEnvRejectsMalformed(t *testing.T) {
	t.Setenv(EnvWorkers, "many")
	if _, err := FromEnv(); err == nil {
		t.Error("expected error for malformed workers")
	}
}

func TestTierFallsBackToDetection(t *testing.T) {
	cfg := Default()
	if got, want := cfg.Tier(), cpufeatures.Get().Best(); got != want {
		t.Errorf("expected detected tier %v, got %v", want, got)
	}
}
