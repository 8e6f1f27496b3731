package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// NOTE: YAML-backed load/save, including first-run config creation and
// 0600 permissions.

const (
	defaultListen          = "127.0.0.1:8080"
	defaultTimezone        = "America/Los_Angeles"
	defaultRefresh         = "*/15 * * * *"
	defaultCacheDir        = "/var/lib/showfilter/cache"
	defaultSnapshotDir     = "/var/lib/showfilter/snapshots"
	defaultDurationMinutes = 120
	defaultFetchTimeout    = 15
	defaultLogLevel        = "info"
)

// WidgetConfig is one embedded widget: a name to address it by and the
// declarative attributes it is built from.
type WidgetConfig struct {
	Name string `yaml:"name" json:"name"`
	// Attributes use the same keys as the embed's data-* attributes, with or
	// without the "data-" prefix (e.g. theatre, type, include-tags).
	Attributes map[string]string `yaml:"attributes" json:"attributes"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the pages and API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone that defines "today" and interprets API
	// dates without an offset.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a standard 5-field cron schedule for re-fetching events.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheDir holds the HTTP cache of API responses.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// SnapshotDir is where -snapshot writes PNGs.
	SnapshotDir string `yaml:"snapshot_dir" json:"snapshot_dir"`

	// EventDurationMinutes sets DTEND in the iCalendar feed.
	EventDurationMinutes int `yaml:"event_duration_minutes" json:"event_duration_minutes"`

	// FetchTimeoutSeconds bounds each request to the events API.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Widgets []WidgetConfig `yaml:"widgets" json:"widgets"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration with one sample
// widget.
func DefaultConfig() *Config {
	return &Config{
		Listen:               defaultListen,
		Timezone:             defaultTimezone,
		RefreshCron:          defaultRefresh,
		CacheDir:             defaultCacheDir,
		SnapshotDir:          defaultSnapshotDir,
		EventDurationMinutes: defaultDurationMinutes,
		FetchTimeoutSeconds:  defaultFetchTimeout,
		LogLevel:             defaultLogLevel,
		Widgets: []WidgetConfig{
			{
				Name: "shows",
				Attributes: map[string]string{
					"theatre": "thepit",
					"type":    "shows",
					"view":    "cards",
				},
			},
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = defaultSnapshotDir
	}
	if c.EventDurationMinutes <= 0 {
		c.EventDurationMinutes = defaultDurationMinutes
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = defaultFetchTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Widgets == nil {
		c.Widgets = []WidgetConfig{}
	}
	for i := range c.Widgets {
		if c.Widgets[i].Name == "" {
			c.Widgets[i].Name = fmt.Sprintf("widget-%d", i+1)
		}
		if c.Widgets[i].Attributes == nil {
			c.Widgets[i].Attributes = map[string]string{}
		}
	}
}

// Validate checks what Normalize cannot repair. Widget attributes are
// validated separately when the widgets are built.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("refresh %q: %w", c.RefreshCron, err)
	}
	seen := make(map[string]bool, len(c.Widgets))
	for _, w := range c.Widgets {
		if seen[w.Name] {
			return fmt.Errorf("duplicate widget name %q", w.Name)
		}
		seen[w.Name] = true
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil || c.Timezone == "" {
		return time.Local
	}
	return loc
}

// EventDuration is EventDurationMinutes as a duration.
func (c *Config) EventDuration() time.Duration {
	return time.Duration(c.EventDurationMinutes) * time.Minute
}

// FetchTimeout is FetchTimeoutSeconds as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// Widget looks a widget up by name.
func (c *Config) Widget(name string) (WidgetConfig, bool) {
	for _, w := range c.Widgets {
		if w.Name == name {
			return w, true
		}
	}
	return WidgetConfig{}, false
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
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".showfilter-config-*.tmp")
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

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
