// Package config loads transithub settings from an optional YAML file and
// TRANSITHUB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	// Timezone validation must not depend on the host's zoneinfo.
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FeedIDs are the status feeds the server can decode.
var FeedIDs = []string{"1", "26", "16", "21", "31", "36", "51", "si"}

type APIConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type StatusConfig struct {
	FeedID   string        `yaml:"feed_id" validate:"omitempty,oneof=1 26 16 21 31 36 51 si"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

type DisplayConfig struct {
	Timezone string `yaml:"timezone" validate:"required,timezone"`
	Icons    bool   `yaml:"icons"`
}

// AuthConfig describes the signed-in user. Either Token or RefreshToken
// starts a session; neither leaves the client anonymous.
type AuthConfig struct {
	UID          string `yaml:"uid" validate:"required_with=Token RefreshToken"`
	Email        string `yaml:"email" validate:"omitempty,email"`
	Token        string `yaml:"token"`
	RefreshToken string `yaml:"refresh_token"`
	TokenURL     string `yaml:"token_url" validate:"required_with=RefreshToken,omitempty,url"`
	ClientID     string `yaml:"client_id"`
}

type LokiConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url" validate:"omitempty,url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type Config struct {
	API     APIConfig     `yaml:"api"`
	Status  StatusConfig  `yaml:"status"`
	Display DisplayConfig `yaml:"display"`
	Auth    AuthConfig    `yaml:"auth"`
	Loki    LokiConfig    `yaml:"loki"`
	DryRun  bool          `yaml:"dry_run"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 30 * time.Second,
		},
		Status: StatusConfig{
			FeedID:   "1",
			Interval: 60 * time.Second,
		},
		Display: DisplayConfig{
			Timezone: "America/New_York",
			Icons:    true,
		},
		Loki: LokiConfig{
			URL: "http://localhost:3100",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if any) and
// then the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from set environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("TRANSITHUB_API_URL", &c.API.BaseURL)
	dur("TRANSITHUB_HTTP_TIMEOUT", &c.API.Timeout)
	str("TRANSITHUB_FEED_ID", &c.Status.FeedID)
	dur("TRANSITHUB_INTERVAL", &c.Status.Interval)
	str("TRANSITHUB_TIMEZONE", &c.Display.Timezone)
	boolean("TRANSITHUB_ICONS", &c.Display.Icons)
	str("TRANSITHUB_UID", &c.Auth.UID)
	str("TRANSITHUB_EMAIL", &c.Auth.Email)
	str("TRANSITHUB_TOKEN", &c.Auth.Token)
	str("TRANSITHUB_REFRESH_TOKEN", &c.Auth.RefreshToken)
	str("TRANSITHUB_TOKEN_URL", &c.Auth.TokenURL)
	str("TRANSITHUB_CLIENT_ID", &c.Auth.ClientID)
	boolean("TRANSITHUB_LOKI_ENABLED", &c.Loki.Enabled)
	str("TRANSITHUB_LOKI_URL", &c.Loki.URL)
	str("TRANSITHUB_LOKI_USER", &c.Loki.User)
	str("TRANSITHUB_LOKI_PASSWORD", &c.Loki.Password)
	boolean("TRANSITHUB_DRY_RUN", &c.DryRun)

	return errors.Join(errs...)
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Loki.Enabled && c.Loki.URL == "" {
		return errors.New("invalid configuration: loki.url is required when loki is enabled")
	}
	return nil
}

// HasSession reports whether credentials for a signed-in user are configured.
func (a AuthConfig) HasSession() bool {
	return a.Token != "" || a.RefreshToken != ""
}
