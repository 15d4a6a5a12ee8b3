package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig selects the persistence backend for the event list.
type StorageConfig struct {
	// Driver is "file" (JSON document) or "sqlite" (key-value table).
	Driver string `yaml:"driver" json:"driver"`
	// Path is the JSON file or SQLite database location.
	Path string `yaml:"path" json:"path"`
}

// CacheConfig tunes the in-memory expansion cache.
type CacheConfig struct {
	Disabled        bool          `yaml:"disabled" json:"disabled"`
	TTL             time.Duration `yaml:"ttl" json:"ttl"`
	MaxEntries      int           `yaml:"max_entries" json:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// SnapshotConfig controls the periodic ICS export of the event list.
type SnapshotConfig struct {
	// Cron is a cron-style schedule string (e.g. "0 3 * * *"). Empty disables
	// snapshots.
	Cron string `yaml:"cron" json:"cron"`
	// Path is where the .ics file is written.
	Path string `yaml:"path" json:"path"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used to read date-only inputs
	// (e.g. "?date=2024-01-31") and natural-language times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday begins the week view. Supported
	// values:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// ICSCacheDir keeps the last body and ETag of calendars imported by URL.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "UTC"
	defaultWeekStart   = "sunday"
	defaultLogLevel    = "info"
	defaultDriver      = "file"
	defaultStoragePath = "./var/calendar-events.json"
	defaultICSCacheDir = "./var/ics-cache"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		// Unknown value; fall back to sunday like the month grid does.
		c.WeekStart = defaultWeekStart
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = defaultICSCacheDir
	}

	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		c.Storage.Driver = defaultDriver
	}
	if c.Storage.Path == "" {
		if c.Storage.Driver == "sqlite" {
			c.Storage.Path = "./var/calendar.db"
		} else {
			c.Storage.Path = defaultStoragePath
		}
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 15 * time.Minute
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 1000
	}
	if c.Cache.CleanupInterval <= 0 {
		c.Cache.CleanupInterval = 5 * time.Minute
	}

	if c.Snapshot.Cron != "" && c.Snapshot.Path == "" {
		c.Snapshot.Path = "./var/calendar.ics"
	}
}

// WeekStartDay returns WeekStart as a time.Weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// envPrefix namespaces environment overrides.
const envPrefix = "CALPLANNER_"

// ApplyEnv overrides file values with CALPLANNER_* environment variables.
func (c *Config) ApplyEnv() {
	set := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	set("LISTEN", &c.Listen)
	set("TIMEZONE", &c.Timezone)
	set("WEEK_START", &c.WeekStart)
	set("LOG_LEVEL", &c.LogLevel)
	set("ICS_CACHE_DIR", &c.ICSCacheDir)
	set("STORAGE_DRIVER", &c.Storage.Driver)
	set("STORAGE_PATH", &c.Storage.Path)
	set("SNAPSHOT_CRON", &c.Snapshot.Cron)
	set("SNAPSHOT_PATH", &c.Snapshot.Path)
	c.Normalize()
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".calplanner-config-*.tmp")
}

// WriteFileAtomic writes data to a temp file next to path, fsyncs it, sets
// 0600 and renames it over path. The parent directory is created with 0700.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
