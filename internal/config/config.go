// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads, merges and persists labPortal configuration. Values
// are layered defaults → labportal.yaml → LABPORTAL_* environment → flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the portal server configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Auth       AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Pruner     PrunerConfig     `mapstructure:"pruner" yaml:"pruner"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit" yaml:"ratelimit"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

type ServerConfig struct {
	Listen         string        `mapstructure:"listen" yaml:"listen"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// AuthConfig holds the admin credential hash (bcrypt) and the shared secret
// that gates the prune endpoint.
type AuthConfig struct {
	AdminTokenHash string `mapstructure:"admin_token_hash" yaml:"admin_token_hash"`
	CronSecret     string `mapstructure:"cron_secret" yaml:"cron_secret"`
}

type PrunerConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Schedule      string `mapstructure:"schedule" yaml:"schedule"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
	BatchSize     int    `mapstructure:"batch_size" yaml:"batch_size"`
}

// DispatcherConfig tunes queue pulls. ReclaimAfter of zero disables the
// stale-running sweep.
type DispatcherConfig struct {
	MaxPull      int           `mapstructure:"max_pull" yaml:"max_pull"`
	ReclaimAfter time.Duration `mapstructure:"reclaim_after" yaml:"reclaim_after"`
}

type RateLimitConfig struct {
	AgentPerMinute int `mapstructure:"agent_per_minute" yaml:"agent_per_minute"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Defaults returns the built-in default values keyed by their viper path.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":              "sqlite",
		"database.dsn":               "./labportal.db",
		"server.listen":              ":8080",
		"server.request_timeout":     "30s",
		"auth.admin_token_hash":      "",
		"auth.cron_secret":           "",
		"pruner.enabled":             true,
		"pruner.schedule":            "0 3 * * *",
		"pruner.retention_days":      90,
		"pruner.batch_size":          1000,
		"dispatcher.max_pull":        10,
		"dispatcher.reclaim_after":   "0s",
		"ratelimit.agent_per_minute": 120,
		"log.level":                  "info",
	}
}

// DefaultConfig returns a Config holding only the built-in defaults.
func DefaultConfig() (Config, error) {
	var c Config
	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "labPortal")
		default:
			configDir = "/etc/labportal"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "labportal")
	}

	return filepath.Join(configDir, "labportal.yaml"), nil
}

// LoadConfig builds a T from defaults, the first labportal.yaml found (or the
// explicit file), LABPORTAL_* environment variables and the command's flags.
// A missing config file is not an error; the returned error is then a
// viper.ConfigFileNotFoundError only when no explicit file was requested.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFile *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("labportal")
	v.SetConfigType("yaml")
	if configFile != nil && *configFile != "" {
		v.SetConfigFile(*configFile)
	}
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	var notFound error
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
		notFound = err
	}

	v.SetEnvPrefix("labportal")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, notFound
}

// WriteConfigFile serialises c to the user (or system) config path. The file
// is written 0600 since it holds the cron secret.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}
	return WriteConfigFileTo(c, path)
}

// WriteConfigFileTo serialises c to path, creating parent directories.
func WriteConfigFileTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks values that would otherwise fail late at runtime.
func (c Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	if c.Database.Dsn == "" {
		return fmt.Errorf("database.dsn must not be empty")
	}
	if c.Pruner.RetentionDays < 1 || c.Pruner.RetentionDays > 36500 {
		return fmt.Errorf("pruner.retention_days must be between 1 and 36500")
	}
	if c.Pruner.BatchSize < 1 {
		return fmt.Errorf("pruner.batch_size must be at least 1")
	}
	if c.Dispatcher.MaxPull < 1 {
		return fmt.Errorf("dispatcher.max_pull must be at least 1")
	}
	if c.Dispatcher.ReclaimAfter < 0 {
		return fmt.Errorf("dispatcher.reclaim_after must not be negative")
	}
	return nil
}
