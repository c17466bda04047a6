// Package config loads the process configuration: a YAML file in the data
// directory, overridable per key through DECL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the data directory.
const FileName = "config.yaml"

// EnvPrefix namespaces environment overrides (DECL_TURSO_AUTH_TOKEN etc).
const EnvPrefix = "DECL"

// TursoConfig holds cloud backend credentials.
type TursoConfig struct {
	// PrimaryURL is the libsql:// URL of the cloud primary. Empty means
	// local-only operation.
	PrimaryURL string `mapstructure:"primary_url"`
	// AuthToken authenticates against the primary.
	AuthToken string `mapstructure:"auth_token"`
	// SyncInterval is the background replication period.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

// CatalogConfig selects where non-owned content comes from.
type CatalogConfig struct {
	// Path is a local YAML catalog file. Empty falls back to the bundled
	// catalog.
	Path string `mapstructure:"path"`
	// URL is a remote read-only catalog endpoint. Takes precedence over
	// Path when set.
	URL string `mapstructure:"url"`
}

// DashboardConfig holds the monitoring server settings.
type DashboardConfig struct {
	// Enabled turns the WebSocket dashboard on in serve mode.
	Enabled bool `mapstructure:"enabled"`
	// Port to listen on.
	Port int `mapstructure:"port"`
}

// LogConfig holds serve-mode log rotation settings.
type LogConfig struct {
	// Path is the log file; empty logs to stderr.
	Path string `mapstructure:"path"`
	// MaxSizeMB rotates the file past this size.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups bounds how many rotated files are kept.
	MaxBackups int `mapstructure:"max_backups"`
	// MaxAgeDays prunes rotated files older than this.
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// Config is the full process configuration.
type Config struct {
	// DataDir holds the database, state file, and legacy file.
	DataDir string `mapstructure:"data_dir"`
	// Environment selects failure handling ("dev" or "prod").
	Environment string `mapstructure:"environment"`

	Turso     TursoConfig     `mapstructure:"turso"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".declarations"
	}
	return filepath.Join(home, ".declarations")
}

// Load reads configuration from dataDir/config.yaml plus DECL_* environment
// overrides. A missing file is fine; defaults apply. dataDir may be empty,
// in which case the per-user default is used.
func Load(dataDir string) (Config, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(dataDir, FileName))
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("environment", "prod")
	v.SetDefault("turso.primary_url", "")
	v.SetDefault("turso.auth_token", "")
	v.SetDefault("turso.sync_interval", time.Minute)
	v.SetDefault("catalog.path", "")
	v.SetDefault("catalog.url", "")
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
