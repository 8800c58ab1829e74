package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/tntscale/internal/backend"
)

// Config holds all application configuration.
type Config struct {
	Backend  BackendConfig `yaml:"backend"`
	Scan     ScanConfig    `yaml:"scan"`
	Session  SessionConfig `yaml:"session"`
	Profile  ProfileConfig `yaml:"profile"`
	Events   EventsConfig  `yaml:"events"`
	LogLevel string        `yaml:"log_level"`
}

// BackendConfig holds the pairing backend settings.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ScanConfig holds BLE discovery settings.
type ScanConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	Name         string        `yaml:"name"`    // local name filter, e.g. "TNT_"
	Address      string        `yaml:"address"` // device id filter, wins over name
	RegistrySize int           `yaml:"registry_size"`
}

// SessionConfig holds settings for one measurement run.
type SessionConfig struct {
	Slot           int           `yaml:"slot"`
	Bond           bool          `yaml:"bond"`
	ForceOverwrite bool          `yaml:"force_overwrite"`
	OfflineScale   bool          `yaml:"offline_scale"`
	AutoConfirm    bool          `yaml:"auto_confirm"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
}

// ProfileConfig is the user profile written to the scale.
type ProfileConfig struct {
	ID       int    `yaml:"id"`
	Nickname string `yaml:"nickname"`
	Height   string `yaml:"height"`
	DOB      string `yaml:"dob"`
	Calendar string `yaml:"calendar"`
	Gender   int    `yaml:"gender"`
	Tare     string `yaml:"tare"`
	UUID     string `yaml:"uuid"`
}

// EventsConfig holds the optional Redis event sink settings. Events are
// only published when redis_addr is set.
type EventsConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Channel       string `yaml:"channel"`
	Data          bool   `yaml:"data"` // publish raw messages too
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tntscale")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Timeout: 15 * time.Second,
		},
		Scan: ScanConfig{
			Timeout:      10 * time.Second,
			Name:         "TNT_",
			RegistrySize: 64,
		},
		Session: SessionConfig{
			Slot:        1,
			SettleDelay: time.Second,
		},
		Events: EventsConfig{
			Channel: "tntscale",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

const defaultHeader = `# tntscale configuration
# backend.url must point at the pairing backend before running "tntscale measure".
`

// WriteDefault writes the default config to DefaultConfigPath unless a file
// already exists there. It returns the path either way.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Backend.URL != "" {
		u, err := url.Parse(c.Backend.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("backend.url must be an http(s) URL, got %q", c.Backend.URL)
		}
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative")
	}

	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be > 0")
	}
	if c.Scan.RegistrySize < 0 {
		return fmt.Errorf("scan.registry_size must not be negative")
	}

	if c.Session.Slot < 0 {
		return fmt.Errorf("session.slot must not be negative, got %d", c.Session.Slot)
	}
	if c.Session.SettleDelay < 0 {
		return fmt.Errorf("session.settle_delay must not be negative")
	}

	if c.Profile.UUID != "" {
		if _, err := uuid.Parse(c.Profile.UUID); err != nil {
			return fmt.Errorf("profile.uuid: %w", err)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// BackendProfile returns the profile in the form sent to the backend and
// the scale.
func (p ProfileConfig) BackendProfile(slot int) backend.Profile {
	return backend.Profile{
		ID:       p.ID,
		Nickname: p.Nickname,
		Height:   p.Height,
		DOB:      p.DOB,
		Calendar: p.Calendar,
		Gender:   p.Gender,
		Tare:     p.Tare,
		UUID:     p.UUID,
		Slot:     slot,
	}
}

// ParseLogLevel maps a log_level value to a slog.Level. Unknown values
// map to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
