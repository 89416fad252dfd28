package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "wdftSize: 1024\nuseDynamicLogBase: true\nwindowFunction: hamming\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.WdftSize != 1024 || !cfg.UseDynamicLogBase || cfg.WindowFunction != "hamming" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.LogBins != Default().LogBins {
		t.Fatalf("untouched field changed: logBins=%d", cfg.LogBins)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"wdftSize":    func(c *Config) { c.WdftSize = 1000 },
		"frequency":   func(c *Config) { c.MinFrequency = c.MaxFrequency },
		"nyquist":     func(c *Config) { c.MaxFrequency = float64(c.SampleRate) },
		"logBase":     func(c *Config) { c.LogBase = 1 },
		"mfccFilters": func(c *Config) { c.MFCCCoefficients = c.MFCCFilters + 1 },
		"overlap":     func(c *Config) { c.Overlap = 0 },
		"topWavelets": func(c *Config) { c.TopWavelets = -1 },
		"hashTables":  func(c *Config) { c.HashTables = 0 },
	}

	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DB_TYPE", "badger")
	t.Setenv("LOG_BINS", "16")
	t.Setenv("USE_DYNAMIC_LOG_BASE", "true")
	t.Setenv("QUERY_STRIDE", "random:100:200")

	cfg, err := FromEnv(Default())
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	if cfg.DBType != "badger" || cfg.LogBins != 16 || !cfg.UseDynamicLogBase {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.QueryStridePolicy != "random:100:200" || cfg.DatabaseStridePolicy != "incremental:5115" {
		t.Fatalf("stride overrides not applied: %q, %q", cfg.DatabaseStridePolicy, cfg.QueryStridePolicy)
	}

	t.Setenv("LOG_BINS", "many")
	if _, err := FromEnv(Default()); err == nil || !strings.Contains(err.Error(), "LOG_BINS") {
		t.Fatalf("expected LOG_BINS parse error, got %v", err)
	}
}
