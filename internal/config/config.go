package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FeedConfig describes a read-only ICS subscription shown alongside tasks.
type FeedConfig struct {
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
}

// GoogleConfig configures the remote calendar mirrored by the sync client.
type GoogleConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Endpoint overrides the REST base path (tests, proxies). Empty uses
	// the library default.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	CalendarID string `yaml:"calendar_id" json:"calendar_id"`

	// TokenFile holds a bearer token. It is re-read on every remote call so
	// an external helper can rotate it.
	TokenFile string `yaml:"token_file" json:"token_file"`

	// LookbackDays bounds a full listing (timeMin = now - LookbackDays).
	LookbackDays int `yaml:"lookback_days" json:"lookback_days"`

	MaxResults int `yaml:"max_results" json:"max_results"`
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

	// Timezone is the IANA timezone used for date keys and the month grid.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule for background pulls.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// StateDir holds the persisted key-value state (tasks, cursor, links).
	StateDir string `yaml:"state_dir" json:"state_dir"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	ICS         []FeedConfig `yaml:"ics" json:"ics"`
	ICSCacheDir string       `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// CacheMonths bounds how many months of expanded feed events are kept.
	// Zero keeps every month until the next refresh.
	CacheMonths int `yaml:"cache_months" json:"cache_months"`

	Google GoogleConfig `yaml:"google" json:"google"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "UTC"
	defaultRefresh      = "*/15 * * * *"
	defaultStateDir     = "./var/state"
	defaultICSCacheDir  = "./var/ics-cache"
	defaultCalendarID   = "primary"
	defaultLookbackDays = 365
	defaultMaxResults   = 2500
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		WeekStart:   "monday",
		RefreshCron: defaultRefresh,
		StateDir:    defaultStateDir,
		LogLevel:    "info",
		ICS:         []FeedConfig{},
		ICSCacheDir: defaultICSCacheDir,
		Google: GoogleConfig{
			CalendarID:   defaultCalendarID,
			LookbackDays: defaultLookbackDays,
			MaxResults:   defaultMaxResults,
		},
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ICS == nil {
		c.ICS = []FeedConfig{}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = defaultICSCacheDir
	}
	if c.CacheMonths < 0 {
		c.CacheMonths = 0
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = defaultCalendarID
	}
	if c.Google.LookbackDays <= 0 {
		c.Google.LookbackDays = defaultLookbackDays
	}
	if c.Google.MaxResults <= 0 || c.Google.MaxResults > defaultMaxResults {
		c.Google.MaxResults = defaultMaxResults
	}
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FirstWeekday returns the weekday shown in the first grid column.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// Load loads configuration from the given YAML path. A missing file is
// created with defaults (0600) and the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
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

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory (0700) if needed.
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
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path through a temp file in the same
// directory, then renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".taskcal-*.tmp")
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
