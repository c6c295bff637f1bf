// Package config loads claimsync configuration from file, environment, and
// defaults.
//
// Settings are read from claimsync.yaml (searched in the working directory
// and ~/.claimsync), overridden by CLAIMSYNC_* environment variables. A
// missing config file is fine; defaults plus environment are enough to run.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved claimsync configuration.
type Config struct {
	// BackendURL is the remote backend root, e.g. "https://api.example.com".
	BackendURL string `mapstructure:"backend_url"`

	// Owner scopes the realtime change stream to one account.
	Owner string `mapstructure:"owner"`

	// DBPath is the local SQLite database file.
	DBPath string `mapstructure:"db_path"`

	// SpoolDir is the photo spool directory; empty disables spool ingestion.
	SpoolDir string `mapstructure:"spool_dir"`

	// SyncInterval is the periodic sync trigger.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// ProbeInterval is the connectivity probe interval.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// DashboardPort is the status server port; zero disables it.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile, when set, routes daemon logs to a rotating file.
	LogFile string `mapstructure:"log_file"`
}

// Load reads the configuration. path may name an explicit config file;
// when empty the default search paths are used.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db_path", ".claimsync/claimsync.db")
	v.SetDefault("sync_interval", time.Minute)
	v.SetDefault("probe_interval", 15*time.Second)
	v.SetDefault("dashboard_port", 8090)

	// Keys without a meaningful default still need registering so
	// environment-only values survive Unmarshal.
	v.SetDefault("backend_url", "")
	v.SetDefault("owner", "")
	v.SetDefault("spool_dir", "")
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("CLAIMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("claimsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.claimsync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings needed for networked operation.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend_url is required (set CLAIMSYNC_BACKEND_URL or claimsync.yaml)")
	}
	if c.Owner == "" {
		return fmt.Errorf("owner is required (set CLAIMSYNC_OWNER or claimsync.yaml)")
	}
	return nil
}
