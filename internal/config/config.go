package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

const appName = "shaking-news"

// Environment overrides.
const (
	EnvMode       = "SHAKING_NEWS_ENV"
	EnvStorage    = "SHAKING_NEWS_STORAGE"
	EnvStorageDSN = "SHAKING_NEWS_STORAGE_DSN"
)

var storageDrivers = map[string]bool{
	"sqlite":   true,
	"memory":   true,
	"redis":    true,
	"postgres": true,
	"gcs":      true,
}

type CacheConfig struct {
	MaxSizeMB  int    `yaml:"max_size_mb"`
	DefaultTTL string `yaml:"default_ttl"`
	MaxEntries int    `yaml:"max_entries"`
	Enabled    bool   `yaml:"enabled"`
}

func (c CacheConfig) TTL() time.Duration {
	return durationOr(c.DefaultTTL, 15*time.Minute)
}

func (c CacheConfig) MaxSizeBytes() int64 {
	return int64(c.MaxSizeMB) << 20
}

type FetchConfig struct {
	Timeout   string `yaml:"timeout"`
	FeedTTL   string `yaml:"feed_ttl"`
	UserAgent string `yaml:"user_agent"`
}

func (f FetchConfig) TimeoutDuration() time.Duration {
	return durationOr(f.Timeout, 15*time.Second)
}

func (f FetchConfig) FeedTTLDuration() time.Duration {
	return durationOr(f.FeedTTL, 240*time.Minute)
}

type PreloadConfig struct {
	Interval         string `yaml:"interval"`
	MaxDailyRequests int    `yaml:"max_daily_requests"`
	RequestDelay     string `yaml:"request_delay"`
}

func (p PreloadConfig) IntervalDuration() time.Duration {
	return durationOr(p.Interval, 2*time.Hour)
}

func (p PreloadConfig) RequestDelayDuration() time.Duration {
	return durationOr(p.RequestDelay, time.Second)
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type RotationConfig struct {
	Interval string `yaml:"interval"`
}

func (r RotationConfig) IntervalDuration() time.Duration {
	return durationOr(r.Interval, 30*time.Second)
}

type Config struct {
	Language string         `yaml:"language"`
	Sources  []Source       `yaml:"sources"`
	Cache    CacheConfig    `yaml:"cache"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Preload  PreloadConfig  `yaml:"preload"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Rotation RotationConfig `yaml:"rotation"`
}

// EffectiveSources returns the configured sources, or the defaults for the
// configured language when none are set. URLs have environment variables
// expanded.
func (c *Config) EffectiveSources() []Source {
	sources := c.Sources
	if len(sources) == 0 {
		sources = DefaultSources(c.Language)
	}
	return ExpandSources(sources)
}

// ExpandSources returns a copy of sources with environment variables in
// their URLs expanded.
func ExpandSources(sources []Source) []Source {
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		s.URL = os.ExpandEnv(s.URL)
		out = append(out, s)
	}
	return out
}

func (c *Config) ActiveSources() []Source {
	var out []Source
	for _, s := range c.EffectiveSources() {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) SourceNames() []string {
	var names []string
	for _, s := range c.ActiveSources() {
		names = append(names, s.Name)
	}
	return names
}

// StorageDSN resolves the storage location, defaulting the sqlite file to
// the XDG cache directory.
func (c *Config) StorageDSN() string {
	if c.Storage.DSN != "" {
		return c.Storage.DSN
	}
	if c.Storage.Driver == "sqlite" || c.Storage.Driver == "" {
		return CachePath()
	}
	return ""
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

func CachePath() string {
	return filepath.Join(xdg.CacheHome, appName, "cache.db")
}

// LoadEnvFile reads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func loadDefaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

// Load reads the config at path over the embedded defaults. Keys missing
// from the file keep their default values. The defaults are written to path
// on first run.
func Load(path string) (*Config, error) {
	cfg, err := loadDefaults()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Non-fatal: the embedded defaults still apply.
		_ = writeDefaults(path)
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvStorage); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv(EnvStorageDSN); v != "" {
		cfg.Storage.DSN = v
	}
}

// Save writes cfg to path as YAML, replacing the file.
func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, _ := defaultConfigFS.ReadFile("default_config.yaml")
	return os.WriteFile(path, data, 0o644)
}

func validate(cfg *Config) error {
	if cfg.Language != "zh" && cfg.Language != "en" {
		return fmt.Errorf("language must be zh or en, got %q", cfg.Language)
	}

	seen := make(map[int]bool)
	for i, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("source %d: name is required", i)
		}
		if err := ValidateSourceURL(os.ExpandEnv(s.URL)); err != nil {
			return fmt.Errorf("source %q: %w", s.Name, err)
		}
		if s.ID != 0 {
			if seen[s.ID] {
				return fmt.Errorf("source %q: duplicate id %d", s.Name, s.ID)
			}
			seen[s.ID] = true
		}
	}

	if cfg.Cache.MaxSizeMB <= 0 {
		return fmt.Errorf("cache.max_size_mb must be positive, got %d", cfg.Cache.MaxSizeMB)
	}
	if cfg.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Preload.MaxDailyRequests <= 0 {
		return fmt.Errorf("preload.max_daily_requests must be positive, got %d", cfg.Preload.MaxDailyRequests)
	}

	durations := []struct {
		key, value string
	}{
		{"cache.default_ttl", cfg.Cache.DefaultTTL},
		{"fetch.timeout", cfg.Fetch.Timeout},
		{"fetch.feed_ttl", cfg.Fetch.FeedTTL},
		{"preload.interval", cfg.Preload.Interval},
		{"preload.request_delay", cfg.Preload.RequestDelay},
		{"rotation.interval", cfg.Rotation.Interval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.key, d.value)
		}
	}

	if !storageDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("storage.driver: unknown driver %q (valid: sqlite, memory, redis, postgres, gcs)", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver != "sqlite" && cfg.Storage.Driver != "memory" && cfg.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for driver %q", cfg.Storage.Driver)
	}
	return nil
}

// ParseDuration extends time.ParseDuration with an "Nd" day suffix.
func ParseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
