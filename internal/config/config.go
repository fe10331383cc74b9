// Package config loads the eterny configuration from a YAML file overlaid
// with ETERNY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cod31nvictus/eterny/server/recurrence"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. ETERNY_LISTEN.
const EnvPrefix = "ETERNY_"

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// StorageConfig selects the series store.
type StorageConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	// Path is the database file for the sqlite driver.
	Path string `yaml:"path" env:"PATH"`
}

// CountCacheConfig tunes the cache of count-rule cut-off dates.
type CountCacheConfig struct {
	Disabled   bool          `yaml:"disabled" env:"DISABLED"`
	TTL        time.Duration `yaml:"ttl" env:"TTL"`
	MaxEntries int           `yaml:"max_entries" env:"MAX_ENTRIES"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is text or json.
	Format string `yaml:"format" env:"FORMAT"`
}

// UserConfig is one Basic auth account. The username owns its series.
// PasswordHash is a bcrypt hash as printed by "eterny hash-password" and
// wins over Password when both are set.
type UserConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty"`
	ReadOnly     bool   `yaml:"read_only,omitempty"`
}

// TemplateConfig seeds a day template for an owner at startup.
type TemplateConfig struct {
	Owner string `yaml:"owner"`
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" env:"LISTEN"`
	// Realm is sent in Basic auth challenges.
	Realm string `yaml:"realm" env:"REALM"`

	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`

	// WeekStart anchors weekly intervals. "sunday" (default) or "monday".
	WeekStart string `yaml:"week_start" env:"WEEK_START"`
	// MaxRangeDays bounds a single occurrences query.
	MaxRangeDays int `yaml:"max_range_days" env:"MAX_RANGE_DAYS"`
	// MaxCountHorizonDays bounds the scan for the end of a count rule.
	MaxCountHorizonDays int `yaml:"max_count_horizon_days" env:"MAX_COUNT_HORIZON_DAYS"`

	CountCache CountCacheConfig `yaml:"count_cache" envPrefix:"COUNT_CACHE_"`
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`

	Users     []UserConfig     `yaml:"users"`
	Templates []TemplateConfig `yaml:"templates"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              "127.0.0.1:8080",
		Realm:               "eterny",
		Storage:             StorageConfig{Driver: DriverMemory},
		WeekStart:           "sunday",
		MaxRangeDays:        366,
		MaxCountHorizonDays: recurrence.DefaultEngineConfig.MaxCountHorizonDays,
		CountCache: CountCacheConfig{
			TTL:        recurrence.DefaultCacheConfig.TTL,
			MaxEntries: recurrence.DefaultCacheConfig.MaxEntries,
		},
		Log:       LogConfig{Level: "info", Format: "text"},
		Users:     []UserConfig{},
		Templates: []TemplateConfig{},
	}
}

// Normalize fills in missing or zero values with defaults so that
// partially filled files still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Realm == "" {
		c.Realm = def.Realm
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = def.Storage.Driver
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if c.WeekStart == "" {
		c.WeekStart = def.WeekStart
	}
	if c.MaxRangeDays <= 0 {
		c.MaxRangeDays = def.MaxRangeDays
	}
	if c.MaxCountHorizonDays <= 0 {
		c.MaxCountHorizonDays = def.MaxCountHorizonDays
	}
	if c.CountCache.TTL <= 0 {
		c.CountCache.TTL = def.CountCache.TTL
	}
	if c.CountCache.MaxEntries <= 0 {
		c.CountCache.MaxEntries = def.CountCache.MaxEntries
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Users == nil {
		c.Users = []UserConfig{}
	}
	if c.Templates == nil {
		c.Templates = []TemplateConfig{}
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if _, err := c.WeekStartDay(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	seen := make(map[string]bool, len(c.Users))
	for i, u := range c.Users {
		if u.Username == "" {
			return fmt.Errorf("users[%d]: username is required", i)
		}
		if u.Password == "" && u.PasswordHash == "" {
			return fmt.Errorf("users[%d]: password or password_hash is required", i)
		}
		if seen[u.Username] {
			return fmt.Errorf("users[%d]: duplicate username %q", i, u.Username)
		}
		seen[u.Username] = true
	}
	for i, t := range c.Templates {
		if t.Owner == "" || t.ID == "" {
			return fmt.Errorf("templates[%d]: owner and id are required", i)
		}
	}
	return nil
}

// WeekStartDay parses WeekStart.
func (c *Config) WeekStartDay() (time.Weekday, error) {
	switch c.WeekStart {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	default:
		return time.Sunday, fmt.Errorf("unknown week_start %q", c.WeekStart)
	}
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	return level, nil
}

// EngineConfig builds the recurrence engine settings. WeekStart must
// already be valid.
func (c *Config) EngineConfig() recurrence.EngineConfig {
	weekStart, _ := c.WeekStartDay()
	return recurrence.EngineConfig{
		WeekStart:           weekStart,
		MaxCountHorizonDays: c.MaxCountHorizonDays,
		CacheEnabled:        !c.CountCache.Disabled,
		CacheConfig: recurrence.CacheConfig{
			TTL:        c.CountCache.TTL,
			MaxEntries: c.CountCache.MaxEntries,
		},
	}
}

// ParseEnv overlays ETERNY_* environment variables onto cfg. Variables
// that are not set leave the field alone.
func ParseEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the YAML file at path, overlays the environment, normalizes
// and validates the result.
//
// When the file does not exist a default one is written with 0600 perms
// first, so a fresh install has something to edit.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path atomically through a temp file in the same
// directory.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eterny-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
