// Package config loads and persists the TOML configuration under the
// quotabar home directory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"
)

const (
	DefaultRefreshSecs = 300

	WarnThreshold = 80 // notify when any limit crosses this %
	CritThreshold = 95 // display turns critical above this %
)

// RefreshIntervals are the selectable refresh cadences, in seconds.
var RefreshIntervals = []int{60, 300, 900}

type NotificationsConfig struct {
	Warning bool `toml:"warning"` // threshold crossings
	Reset   bool `toml:"reset"`   // a limit window reset
	Pacing  bool `toml:"pacing"`  // projected exhaustion
}

type LoggingConfig struct {
	Path  string `toml:"path"`
	Level string `toml:"level"`
}

type Config struct {
	RefreshIntervalSecs int `toml:"refresh_interval_secs"`

	// Providers toggles cookie-based providers by id. The primary
	// provider defaults on; the rest are opt-in.
	Providers map[string]bool `toml:"providers"`

	// Keys holds API keys for key-based providers, by provider id.
	Keys map[string]string `toml:"keys"`

	// FeaturedProviders optionally overrides which providers the
	// compact view shows. Empty means all active providers.
	FeaturedProviders []string `toml:"featured_providers"`

	// CookieOverride is a manually pasted cookie string for the
	// primary provider, taking precedence over browser discovery.
	CookieOverride string `toml:"cookie_override"`

	Notifications NotificationsConfig `toml:"notifications"`
	Logging       LoggingConfig       `toml:"logging"`
}

func Default() Config {
	return Config{
		RefreshIntervalSecs: DefaultRefreshSecs,
		Providers:           map[string]bool{"claude": true},
		Keys:                map[string]string{},
		Notifications: NotificationsConfig{
			Warning: true,
			Reset:   true,
			Pacing:  true,
		},
		Logging: LoggingConfig{
			Path:  "~/.quotabar/quotabar.log",
			Level: "info",
		},
	}
}

func DefaultConfigPath() string {
	return "~/.quotabar/config.toml"
}

func DataDir() string {
	return "~/.quotabar"
}

// WidgetDir holds the snapshot file consumed by the glance widget.
func WidgetDir() string {
	return "~/.quotabar/widget"
}

func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path is empty")
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Clean(path), nil
}

// EnsureDataDir creates the quotabar home with owner-only permissions.
// Cached credentials may end up under it, so the mode is enforced even
// when the directory already exists.
func EnsureDataDir() (string, error) {
	dir, err := ExpandPath(DataDir())
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return "", fmt.Errorf("set data dir perms: %w", err)
	}
	return dir, nil
}

// Load reads the config at path, layering it over defaults. A missing
// file is not an error: defaults apply and the file is created on the
// first Save.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultConfigPath()
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return cfg, fmt.Errorf("expand config path: %w", err)
	}
	if _, err := os.Stat(expanded); err != nil {
		if os.IsNotExist(err) {
			return finishLoad(cfg)
		}
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	loaded := Config{}
	if _, err := toml.DecodeFile(expanded, &loaded); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	if loaded.RefreshIntervalSecs != 0 {
		cfg.RefreshIntervalSecs = loaded.RefreshIntervalSecs
	}
	if loaded.Providers != nil {
		for id, on := range loaded.Providers {
			cfg.Providers[id] = on
		}
	}
	if loaded.Keys != nil {
		for id, key := range loaded.Keys {
			cfg.Keys[id] = key
		}
	}
	if loaded.FeaturedProviders != nil {
		cfg.FeaturedProviders = loaded.FeaturedProviders
	}
	if loaded.CookieOverride != "" {
		cfg.CookieOverride = loaded.CookieOverride
	}
	if fileHasTable(expanded, "notifications") {
		cfg.Notifications = loaded.Notifications
	}
	if loaded.Logging.Path != "" {
		cfg.Logging.Path = loaded.Logging.Path
	}
	if loaded.Logging.Level != "" {
		cfg.Logging.Level = loaded.Logging.Level
	}

	return finishLoad(cfg)
}

func finishLoad(cfg Config) (Config, error) {
	if !validInterval(cfg.RefreshIntervalSecs) {
		return cfg, fmt.Errorf("refresh_interval_secs must be one of %v, got %d",
			RefreshIntervals, cfg.RefreshIntervalSecs)
	}
	var err error
	cfg.Logging.Path, err = ExpandPath(cfg.Logging.Path)
	if err != nil {
		return cfg, fmt.Errorf("expand log path: %w", err)
	}
	return cfg, nil
}

func validInterval(secs int) bool {
	for _, v := range RefreshIntervals {
		if v == secs {
			return true
		}
	}
	return false
}

// fileHasTable reports whether the raw TOML contains the named table,
// distinguishing "section absent, keep defaults" from "section present
// with everything false".
func fileHasTable(path, table string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(raw, []byte("["+table+"]"))
}

// Save writes the config atomically, holding a file lock so concurrent
// writers (the monitor and a second CLI invocation) do not interleave.
func Save(path string, cfg Config) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	lock := flock.New(expanded + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock config: %w", err)
	}
	defer lock.Unlock()

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := expanded + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, expanded); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
