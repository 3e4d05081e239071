// Package config provides YAML-based configuration loading for Pitlane.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Pitlane configuration, loaded from config.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Slack    SlackConfig    `yaml:"slack"`
	Patrol   PatrolConfig   `yaml:"patrol"`
	Rigs     []RigConfig    `yaml:"rigs"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig holds connection settings for the row store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql, postgres, sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// DSN overrides the assembled connection string when set.
	DSN string `yaml:"dsn"`
}

// SessionConfig holds timed-session defaults.
type SessionConfig struct {
	DefaultSeconds int `yaml:"default_seconds"`
}

// SlackConfig holds the optional turn-ready notifier settings.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// PatrolConfig holds the background sweep daemon settings.
type PatrolConfig struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string `yaml:"schedule"`
}

// RigConfig declares a rig known to this deployment; rows are upserted
// at migration time.
type RigConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Claimed bool   `yaml:"claimed"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = 5432
		default:
			c.Database.Port = 3306
		}
	}
	if c.Database.Database == "" {
		c.Database.Database = "pitlane"
	}
	if c.Session.DefaultSeconds == 0 {
		c.Session.DefaultSeconds = 300
	}
	if c.Patrol.Schedule == "" {
		c.Patrol.Schedule = "* * * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of mysql, postgres, sqlite", c.Database.Driver))
	}
	if c.Session.DefaultSeconds < 30 || c.Session.DefaultSeconds > 600 {
		errs = append(errs, "session.default_seconds must be between 30 and 600")
	}
	for i, r := range c.Rigs {
		if r.ID == "" {
			errs = append(errs, fmt.Sprintf("rigs[%d].id is required", i))
		}
		if r.Name == "" {
			errs = append(errs, fmt.Sprintf("rigs[%d].name is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
