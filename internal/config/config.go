// Package config loads fieldsync configuration from file, environment and
// defaults, in that order of increasing precedence for the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	// RemoteBaseURL is the authoritative property service, e.g.
	// https://product.annk.info/api/realestate/v1.
	RemoteBaseURL string `mapstructure:"remote_base_url"`

	// RemoteAPIKey is sent as X-API-Key when non-empty.
	RemoteAPIKey string `mapstructure:"remote_api_key"`

	// DatabasePath is the local SQLite database file.
	DatabasePath string `mapstructure:"database_path"`

	// InboxDir is watched for dropped check-in JSON files. Empty
	// disables the importer.
	InboxDir string `mapstructure:"inbox_dir"`

	// SyncInterval is the periodic cycle cadence.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// ListenPort is the local API port.
	ListenPort int `mapstructure:"listen_port"`

	// LogFile routes daemon logs through a rotating file when set.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration. path may name an explicit config file; when
// empty, fieldsync.yaml is searched in the working directory and
// $HOME/.fieldsync. Environment variables use the FIELDSYNC_ prefix
// (FIELDSYNC_REMOTE_BASE_URL and so on).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Every key needs a default registered or AutomaticEnv will not
	// surface it through Unmarshal.
	v.SetDefault("remote_base_url", "")
	v.SetDefault("remote_api_key", "")
	v.SetDefault("database_path", ".fieldsync/fieldsync.db")
	v.SetDefault("inbox_dir", ".fieldsync/inbox")
	v.SetDefault("sync_interval", 5*time.Second)
	v.SetDefault("listen_port", 8719)
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fieldsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.fieldsync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine; env and defaults carry the day.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.RemoteBaseURL == "" {
		return nil, fmt.Errorf("remote_base_url is required (set FIELDSYNC_REMOTE_BASE_URL or the config file)")
	}
	if cfg.SyncInterval < time.Second {
		return nil, fmt.Errorf("sync_interval must be at least 1s (got %s)", cfg.SyncInterval)
	}

	return &cfg, nil
}
