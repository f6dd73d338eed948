// Package config holds process configuration and the persisted user settings.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/naka-gawa/oss-stamp/internal/scoring"
)

// Environment variables read by Load.
const (
	EnvPrefix     = "OSS_STAMP_"
	EnvConfigPath = "OSS_STAMP_CONFIG"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Freshness is how long aggregated metrics are served without a refresh.
	Freshness time.Duration `koanf:"freshness"`
	// LoadTimeout bounds one aggregation, independent of the caller.
	LoadTimeout time.Duration `koanf:"load_timeout"`

	AnchorTimeout      time.Duration `koanf:"anchor_timeout"`
	AnchorPollInterval time.Duration `koanf:"anchor_poll_interval"`
	PollInterval       time.Duration `koanf:"poll_interval"`

	// SecondarySleepLimit is the longest secondary rate limit the client waits
	// out. Zero surfaces every secondary limit as an error.
	SecondarySleepLimit time.Duration `koanf:"secondary_sleep_limit"`

	GitHubAPIURL     string `koanf:"github_api_url"`
	GitHubGraphQLURL string `koanf:"github_graphql_url"`

	// SettingsPath is the YAML file holding the token and theme.
	SettingsPath string `koanf:"settings_path"`

	Scoring scoring.Policy `koanf:"scoring"`
}

// New returns a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Freshness:           time.Hour,
		LoadTimeout:         30 * time.Second,
		AnchorTimeout:       5 * time.Second,
		AnchorPollInterval:  100 * time.Millisecond,
		PollInterval:        200 * time.Millisecond,
		SecondarySleepLimit: 0,
		GitHubAPIURL:        "https://api.github.com/",
		GitHubGraphQLURL:    "https://api.github.com/graphql",
		SettingsPath:        defaultSettingsPath(),
		Scoring:             scoring.DefaultPolicy(),
	}
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "oss-stamp.yaml"
	}
	return filepath.Join(dir, "oss-stamp", "settings.yaml")
}

// Load builds a Config by layering, from low to high precedence:
//  1. defaults (New)
//  2. the YAML file at path, or at $OSS_STAMP_CONFIG when path is empty
//  3. env vars with the OSS_STAMP_ prefix; "__" separates nested keys,
//     e.g. OSS_STAMP_SCORING__REVIEW_CAP.
func Load(_ context.Context, path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	k.Delete("config")

	cfg := *New()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"freshness", c.Freshness},
		{"load_timeout", c.LoadTimeout},
		{"anchor_timeout", c.AnchorTimeout},
		{"anchor_poll_interval", c.AnchorPollInterval},
		{"poll_interval", c.PollInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, d.name, d.d)
		}
	}
	if c.SecondarySleepLimit < 0 {
		return fmt.Errorf("%w: secondary_sleep_limit must not be negative", ErrInvalidConfig)
	}
	if c.GitHubAPIURL == "" || c.GitHubGraphQLURL == "" {
		return fmt.Errorf("%w: github_api_url and github_graphql_url must not be empty", ErrInvalidConfig)
	}
	if c.SettingsPath == "" {
		return fmt.Errorf("%w: settings_path must not be empty", ErrInvalidConfig)
	}
	if err := c.Scoring.Validate(); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}
