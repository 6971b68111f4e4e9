// Package config loads and watches the client configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all user-tunable settings.
type Config struct {
	// APIToken is the WaniKani v2 API token.
	APIToken string `mapstructure:"api_token"`

	// DatabasePath is the SQLite file holding cached data. Empty means
	// a file under the user config directory.
	DatabasePath string `mapstructure:"database_path"`

	// SyncInterval is how often the daemon runs a full sync.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// RequestTimeout bounds individual API requests.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ProbeAddress is the host:port probed for reachability.
	ProbeAddress string `mapstructure:"probe_address"`

	// DashboardAddr is the listen address of the websocket dashboard.
	// Empty disables the dashboard.
	DashboardAddr string `mapstructure:"dashboard_addr"`

	// LogFile receives daemon logs. Empty means stderr.
	LogFile string `mapstructure:"log_file"`
}

// Validate checks that required settings are present and sane.
func (c *Config) Validate() error {
	if c.APIToken == "" {
		return fmt.Errorf("api_token is required")
	}
	if c.SyncInterval < time.Minute {
		return fmt.Errorf("sync_interval must be at least 1m, got %s", c.SyncInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// Loader reads the configuration file and re-reads it on change.
type Loader struct {
	v *viper.Viper

	mu        sync.Mutex
	current   *Config
	callbacks []func(*Config)
}

// Load reads the config file at path. If path is empty the default
// location under the user config directory is used and missing files
// fall back to defaults plus environment variables.
func Load(path string) (*Loader, error) {
	v := viper.New()

	v.SetDefault("sync_interval", time.Hour)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("probe_address", "api.wanikani.com:443")

	v.SetEnvPrefix("tsurukame")
	v.AutomaticEnv()
	if err := v.BindEnv("api_token", "TSURUKAME_API_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind TSURUKAME_API_TOKEN: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	l := &Loader{v: v}
	cfg, err := l.unmarshal()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// OnReload registers a callback invoked with the new configuration each
// time the config file changes on disk. Invalid edits are ignored and
// the previous configuration stays in effect.
func (l *Loader) OnReload(fn func(*Config)) {
	l.mu.Lock()
	l.callbacks = append(l.callbacks, fn)
	l.mu.Unlock()
}

// Watch starts watching the config file for changes. It returns
// immediately; callbacks registered with OnReload fire from a
// background goroutine owned by viper.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := l.unmarshal()
		if err != nil {
			return
		}
		l.mu.Lock()
		l.current = cfg
		callbacks := make([]func(*Config), len(l.callbacks))
		copy(callbacks, l.callbacks)
		l.mu.Unlock()
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	l.v.WatchConfig()
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.DatabasePath == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		cfg.DatabasePath = filepath.Join(dir, "cache.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultDir returns the directory holding the config file and local
// database by default.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(base, "tsurukame"), nil
}
