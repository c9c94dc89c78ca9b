package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if problems := cfg.Validate(); len(problems) > 0 {
		t.Fatalf("DefaultConfig should be valid, got %v", problems)
	}
	if cfg.SmoothingAlpha != 0.5 {
		t.Errorf("SmoothingAlpha: got %v, want 0.5", cfg.SmoothingAlpha)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, false},
		{"zero alpha", func(c *Config) { c.SmoothingAlpha = 0 }, false},
		{"alpha above one", func(c *Config) { c.SmoothingAlpha = 1.5 }, false},
		{"alpha of one", func(c *Config) { c.SmoothingAlpha = 1 }, true},
		{"non numeric port", func(c *Config) { c.WebPort = "http" }, false},
		{"tick too small", func(c *Config) { c.TickInterval = 0 }, false},
		{"unknown consent", func(c *Config) { c.Consent = "maybe" }, false},
		{"denied consent", func(c *Config) { c.Consent = "denied_by_user" }, true},
		{"bad pose url", func(c *Config) { c.PoseFeedURL = "not a url" }, false},
		{"pose url", func(c *Config) { c.PoseFeedURL = "ws://localhost:9000/pose" }, true},
		{"missing replay dir", func(c *Config) { c.ReplayDir = "/nonexistent/frames" }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			problems := cfg.Validate()
			if tc.valid && len(problems) > 0 {
				t.Errorf("expected valid, got %v", problems)
			}
			if !tc.valid && len(problems) == 0 {
				t.Error("expected validation problems, got none")
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvTickInterval, "10ms")
	t.Setenv(EnvAlpha, "0.25")
	t.Setenv(EnvConsent, "denied_by_user")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want debug", cfg.LogLevel)
	}
	if cfg.TickInterval != 10*time.Millisecond {
		t.Errorf("TickInterval: got %v, want 10ms", cfg.TickInterval)
	}
	if cfg.SmoothingAlpha != 0.25 {
		t.Errorf("SmoothingAlpha: got %v, want 0.25", cfg.SmoothingAlpha)
	}
	if cfg.Consent != "denied_by_user" {
		t.Errorf("Consent: got %q", cfg.Consent)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("STEREOMARK_WEB_PORT=9099\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set
	t.Setenv(EnvWebPort, "")
	os.Unsetenv(EnvWebPort)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WebPort != "9099" {
		t.Errorf("WebPort: got %q, want 9099", cfg.WebPort)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv(EnvTickInterval, "fast")
	if _, err := Load(filepath.Join(t.TempDir(), "none.env")); err == nil {
		t.Error("expected error for unparseable duration")
	}
}
