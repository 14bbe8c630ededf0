// Package config loads the service configuration from a YAML file, with
// environment variables overriding secrets and deployment knobs.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything main needs to wire the service.
type Config struct {
	BasePath       string        `yaml:"base_path"`
	BaseURL        string        `yaml:"base_url"`
	Port           string        `yaml:"port"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	StorageBucket  string        `yaml:"storage_bucket"`
	LocalStorage   string        `yaml:"local_storage"`
	Twitter        TwitterConfig `yaml:"twitter"`
	Pocket         PocketConfig  `yaml:"pocket"`
}

// TwitterConfig holds the application's upstream API credentials.
type TwitterConfig struct {
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
}

// PocketConfig holds the read-later service credentials.
type PocketConfig struct {
	ConsumerKey string `yaml:"consumer_key"`
}

// Load reads path (a missing file is fine, env vars can carry
// everything), applies env overrides and defaults, and validates.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
		// env-only configuration
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Environment overrides
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		cfg.StorageBucket = v
	}
	if v := os.Getenv("LOCAL_STORAGE"); v != "" {
		cfg.LocalStorage = v
	}
	if v := os.Getenv("TWITTER_CONSUMER_KEY"); v != "" {
		cfg.Twitter.ConsumerKey = v
	}
	if v := os.Getenv("TWITTER_CONSUMER_SECRET"); v != "" {
		cfg.Twitter.ConsumerSecret = v
	}
	if v := os.Getenv("POCKET_CONSUMER_KEY"); v != "" {
		cfg.Pocket.ConsumerKey = v
	}

	// Defaults
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/"
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 24 * time.Hour
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Twitter.ConsumerKey == "" || c.Twitter.ConsumerSecret == "" {
		return errors.New("twitter consumer key and secret are required (config file or TWITTER_CONSUMER_KEY/TWITTER_CONSUMER_SECRET)")
	}
	return nil
}
