// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Client   ClientConfig   `yaml:"client"`
	Playback PlaybackConfig `yaml:"playback"`
	Settings SettingsConfig `yaml:"settings"`
}

// ServerConfig represents the media server connection.
type ServerConfig struct {
	URL      string `yaml:"url" validate:"required,url"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password"`
}

// ClientConfig identifies this client to the server.
type ClientConfig struct {
	Name       string `yaml:"name" default:"yaytsa-player"`
	Version    string `yaml:"version" default:"dev"`
	DeviceName string `yaml:"device_name" default:"player"`
}

// PlaybackConfig represents playback policy.
type PlaybackConfig struct {
	// PreviousRestartThresholdMs: Previous restarts the current track once
	// this much has elapsed, instead of going back in the queue.
	PreviousRestartThresholdMs int `yaml:"previous_restart_threshold_ms" default:"3000" validate:"gte=0,lte=60000"`
	ProgressIntervalSec        int `yaml:"progress_interval_sec" default:"10" validate:"gte=1,lte=300"`
	ReportTimeoutSec           int `yaml:"report_timeout_sec" default:"5" validate:"gte=1,lte=60"`
}

// SettingsConfig locates the persisted settings blob.
type SettingsConfig struct {
	Path string `yaml:"path" default:"settings.json"`
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values for credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("YAYTSA_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("YAYTSA_USERNAME"); v != "" {
		c.Server.Username = v
	}
	if v := os.Getenv("YAYTSA_PASSWORD"); v != "" {
		c.Server.Password = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// PreviousRestartThreshold returns the threshold as a duration.
func (c *Config) PreviousRestartThreshold() time.Duration {
	return time.Duration(c.Playback.PreviousRestartThresholdMs) * time.Millisecond
}

// ProgressInterval returns the progress report cadence as a duration.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Playback.ProgressIntervalSec) * time.Second
}

// ReportTimeout returns the per-report timeout as a duration.
func (c *Config) ReportTimeout() time.Duration {
	return time.Duration(c.Playback.ReportTimeoutSec) * time.Second
}
