// Package config provides configuration helpers for go-stereomark commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvLogLevel      = "STEREOMARK_LOG_LEVEL"
	EnvLogFile       = "STEREOMARK_LOG_FILE"
	EnvWebPort       = "STEREOMARK_WEB_PORT"
	EnvTickInterval  = "STEREOMARK_TICK_INTERVAL"
	EnvFrameInterval = "STEREOMARK_FRAME_INTERVAL"
	EnvAlpha         = "STEREOMARK_SMOOTHING_ALPHA"
	EnvDictionary    = "STEREOMARK_DICTIONARY"
	EnvReplayDir     = "STEREOMARK_REPLAY_DIR"
	EnvPoseFeedURL   = "STEREOMARK_POSE_FEED_URL"
	EnvConsent       = "STEREOMARK_CONSENT"
)

// Config holds everything a stereomark host needs at startup.
type Config struct {
	LogLevel string `validate:"oneof=debug info warn error"`
	LogFile  string

	WebPort string `validate:"required,numeric"`

	// TickInterval is the render/update period.
	TickInterval time.Duration `validate:"min=1ms"`
	// FrameInterval paces the simulated sensors.
	FrameInterval time.Duration `validate:"min=1ms"`

	SmoothingAlpha float64 `validate:"gt=0,lte=1"`
	Dictionary     string  `validate:"required"`

	ReplayDir   string `validate:"omitempty,dir"`
	PoseFeedURL string `validate:"omitempty,url"`

	// Consent is the answer the simulated device gives to the access prompt.
	Consent string `validate:"oneof=granted denied_by_system denied_by_user not_declared prompt_required"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		LogLevel:       "info",
		WebPort:        "8088",
		TickInterval:   16 * time.Millisecond, // ~60Hz render loop
		FrameInterval:  33 * time.Millisecond, // VLC cameras stream at ~30fps
		SmoothingAlpha: 0.5,
		Dictionary:     "6x6_250",
		Consent:        "granted",
	}
}

var validate = validator.New()

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	return ValidateStruct(c)
}

// ValidateStruct checks v against its validate struct tags and returns one
// readable problem per failing field, or nil if valid.
func ValidateStruct(v any) []string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	var problems []string
	for _, fe := range verrs {
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			problems = append(problems, fmt.Sprintf("%s must satisfy %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	return problems
}

// Load reads an optional .env file and overlays STEREOMARK_* variables on
// the defaults. A missing .env is not an error.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := DefaultConfig()
	cfg.LogLevel = String(EnvLogLevel, cfg.LogLevel)
	cfg.LogFile = String(EnvLogFile, cfg.LogFile)
	cfg.WebPort = String(EnvWebPort, cfg.WebPort)
	cfg.Dictionary = String(EnvDictionary, cfg.Dictionary)
	cfg.ReplayDir = String(EnvReplayDir, cfg.ReplayDir)
	cfg.PoseFeedURL = String(EnvPoseFeedURL, cfg.PoseFeedURL)
	cfg.Consent = String(EnvConsent, cfg.Consent)

	var err error
	if cfg.TickInterval, err = Duration(EnvTickInterval, cfg.TickInterval); err != nil {
		return Config{}, err
	}
	if cfg.FrameInterval, err = Duration(EnvFrameInterval, cfg.FrameInterval); err != nil {
		return Config{}, err
	}
	if cfg.SmoothingAlpha, err = Float(EnvAlpha, cfg.SmoothingAlpha); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// String returns the env var value or def when unset.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Duration parses a time.Duration env var, falling back to def when unset.
func Duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// Float parses a float env var, falling back to def when unset.
func Float(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
