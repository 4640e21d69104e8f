package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// NOTE: the YAML file is the source of truth and is written with 0600
// permissions on first run. Environment variables (BOXDISPLAY_<SECTION>_<KEY>)
// override file values at load time but are never written back.

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "BOXDISPLAY"

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" mapstructure:"username"`
	Password string `yaml:"password" json:"password" mapstructure:"password"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level" mapstructure:"level"`
}

// APIConfig points at the upstream box status API.
type APIConfig struct {
	// Base is the API root; requests go to {Base}/boxes/{n}/files.
	Base string `yaml:"base" json:"base" mapstructure:"base"`
	// Timeout per request, as a Go duration ("10s") or bare seconds ("10").
	Timeout string `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
}

// TimeoutDuration parses Timeout. Invalid values yield zero; Validate
// reports them.
func (a APIConfig) TimeoutDuration() time.Duration {
	d, _ := parseTimeout(a.Timeout)
	return d
}

func parseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// DisplayConfig describes the panel and the layout drawn on it.
type DisplayConfig struct {
	// Driver selects the panel driver: auto, spi, cgo or mock.
	Driver string `yaml:"driver" json:"driver" mapstructure:"driver"`
	Width  int    `yaml:"width" json:"width" mapstructure:"width"`
	Height int    `yaml:"height" json:"height" mapstructure:"height"`
	Title  string `yaml:"title" json:"title" mapstructure:"title"`

	// Optional assets. Empty paths use built-in fonts and no icon.
	IconPath     string `yaml:"icon_path" json:"icon_path" mapstructure:"icon_path"`
	FontPath     string `yaml:"font_path" json:"font_path" mapstructure:"font_path"`
	BoldFontPath string `yaml:"bold_font_path" json:"bold_font_path" mapstructure:"bold_font_path"`

	MaxNameChars int `yaml:"max_name_chars" json:"max_name_chars" mapstructure:"max_name_chars"`

	// PreviewPath is where the mock driver and --dump write the PNG preview.
	PreviewPath string `yaml:"preview_path" json:"preview_path" mapstructure:"preview_path"`
}

// RefreshConfig controls polling and the full/partial refresh policy.
type RefreshConfig struct {
	// FullEvery is the number of updates between full refreshes.
	FullEvery int `yaml:"full_every" json:"full_every" mapstructure:"full_every"`
	// PollCron re-fetches every slot (e.g. "*/5 * * * *"). Empty disables it.
	PollCron string `yaml:"poll_cron" json:"poll_cron" mapstructure:"poll_cron"`
	// FullCron forces a full refresh to clear ghosting. Empty disables it.
	FullCron string `yaml:"full_cron" json:"full_cron" mapstructure:"full_cron"`
}

type NotifyConfig struct {
	// Source is none, pusher or mqtt.
	Source string `yaml:"source" json:"source" mapstructure:"source"`
}

type PusherConfig struct {
	AppKey  string   `yaml:"app_key" json:"app_key" mapstructure:"app_key"`
	Cluster string   `yaml:"cluster" json:"cluster" mapstructure:"cluster"`
	Channel string   `yaml:"channel" json:"channel" mapstructure:"channel"`
	Events  []string `yaml:"events" json:"events" mapstructure:"events"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker" json:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" json:"topic" mapstructure:"topic"`
	ClientID string `yaml:"client_id" json:"client_id" mapstructure:"client_id"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen" mapstructure:"listen"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty" mapstructure:"basic_auth"`

	Log     LogConfig     `yaml:"log" json:"log" mapstructure:"log"`
	API     APIConfig     `yaml:"api" json:"api" mapstructure:"api"`
	Display DisplayConfig `yaml:"display" json:"display" mapstructure:"display"`
	Refresh RefreshConfig `yaml:"refresh" json:"refresh" mapstructure:"refresh"`
	Notify  NotifyConfig  `yaml:"notify" json:"notify" mapstructure:"notify"`
	Pusher  PusherConfig  `yaml:"pusher" json:"pusher" mapstructure:"pusher"`
	MQTT    MQTTConfig    `yaml:"mqtt" json:"mqtt" mapstructure:"mqtt"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen: "127.0.0.1:8080",
		Log:    LogConfig{Level: "info"},
		API: APIConfig{
			Base:    "http://localhost:3000/api",
			Timeout: "10s",
		},
		Display: DisplayConfig{
			Driver:       "auto",
			Width:        800,
			Height:       480,
			Title:        "pvfll_001",
			MaxNameChars: 20,
			PreviewPath:  "./var/preview.png",
		},
		Refresh: RefreshConfig{
			FullEvery: 10,
			PollCron:  "*/5 * * * *",
			FullCron:  "0 3 * * *",
		},
		Notify: NotifyConfig{Source: "pusher"},
		Pusher: PusherConfig{
			Cluster: "us2",
			Channel: "garden",
			Events:  []string{"file-uploaded", "file-deleted"},
		},
		MQTT: MQTTConfig{
			Topic: "boxdisplay/events",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	c.API.Base = strings.TrimRight(strings.TrimSpace(c.API.Base), "/")
	if c.API.Timeout == "" {
		c.API.Timeout = d.API.Timeout
	}
	c.Display.Driver = strings.ToLower(strings.TrimSpace(c.Display.Driver))
	if c.Display.Driver == "" {
		c.Display.Driver = d.Display.Driver
	}
	if c.Display.Width == 0 {
		c.Display.Width = d.Display.Width
	}
	if c.Display.Height == 0 {
		c.Display.Height = d.Display.Height
	}
	if c.Display.MaxNameChars <= 0 {
		c.Display.MaxNameChars = d.Display.MaxNameChars
	}
	if c.Refresh.FullEvery == 0 {
		c.Refresh.FullEvery = d.Refresh.FullEvery
	}
	c.Notify.Source = strings.ToLower(strings.TrimSpace(c.Notify.Source))
	if c.Notify.Source == "" {
		c.Notify.Source = "none"
	}
	if c.Pusher.Cluster == "" {
		c.Pusher.Cluster = d.Pusher.Cluster
	}
	if c.Pusher.Channel == "" {
		c.Pusher.Channel = d.Pusher.Channel
	}
	if len(c.Pusher.Events) == 0 {
		c.Pusher.Events = d.Pusher.Events
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate reports settings the application cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.API.Base == "" {
		errs = append(errs, errors.New("api.base is required"))
	} else if u, err := url.Parse(c.API.Base); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("api.base %q must be an http(s) url", c.API.Base))
	}
	if d, err := parseTimeout(c.API.Timeout); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout %q is not a positive duration", c.API.Timeout))
	}

	switch c.Display.Driver {
	case "auto", "spi", "cgo", "mock":
	default:
		errs = append(errs, fmt.Errorf("display.driver %q is not one of auto, spi, cgo, mock", c.Display.Driver))
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		errs = append(errs, fmt.Errorf("display size %dx%d must be positive", c.Display.Width, c.Display.Height))
	}
	if c.Refresh.FullEvery <= 0 {
		errs = append(errs, fmt.Errorf("refresh.full_every %d must be positive", c.Refresh.FullEvery))
	}
	for key, spec := range map[string]string{"refresh.poll_cron": c.Refresh.PollCron, "refresh.full_cron": c.Refresh.FullCron} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", key, spec, err))
		}
	}

	switch c.Notify.Source {
	case "none", "pusher":
		// A pusher source without app_key runs poll-only; see cmd/boxdisplay.
	case "mqtt":
		if c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			errs = append(errs, errors.New("mqtt.broker and mqtt.topic are required when notify.source is mqtt"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.source %q is not one of none, pusher, mqtt", c.Notify.Source))
	}

	return errors.Join(errs...)
}

// legacyEnv maps config keys to the environment names older deployments
// used, checked after the prefixed name.
var legacyEnv = map[string]string{
	"api.base":       "API_BASE",
	"api.timeout":    "HTTP_TIMEOUT",
	"pusher.app_key": "PUSHER_APP_KEY",
	"pusher.cluster": "PUSHER_CLUSTER",
	"pusher.channel": "PUSHER_CHANNEL",
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	defaults := map[string]any{
		"listen":                 d.Listen,
		"log.level":              d.Log.Level,
		"api.base":               d.API.Base,
		"api.timeout":            d.API.Timeout,
		"display.driver":         d.Display.Driver,
		"display.width":          d.Display.Width,
		"display.height":         d.Display.Height,
		"display.title":          d.Display.Title,
		"display.icon_path":      d.Display.IconPath,
		"display.font_path":      d.Display.FontPath,
		"display.bold_font_path": d.Display.BoldFontPath,
		"display.max_name_chars": d.Display.MaxNameChars,
		"display.preview_path":   d.Display.PreviewPath,
		"refresh.full_every":     d.Refresh.FullEvery,
		"refresh.poll_cron":      d.Refresh.PollCron,
		"refresh.full_cron":      d.Refresh.FullCron,
		"notify.source":          d.Notify.Source,
		"pusher.app_key":         d.Pusher.AppKey,
		"pusher.cluster":         d.Pusher.Cluster,
		"pusher.channel":         d.Pusher.Channel,
		"pusher.events":          d.Pusher.Events,
		"mqtt.broker":            d.MQTT.Broker,
		"mqtt.topic":             d.MQTT.Topic,
		"mqtt.client_id":         d.MQTT.ClientID,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for key, legacy := range legacyEnv {
		_ = v.BindEnv(key, envName(key), legacy)
	}
	_ = v.BindEnv("basic_auth.username")
	_ = v.BindEnv("basic_auth.password")
	return v
}

// Load loads configuration from the given YAML path and applies environment
// overrides.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms first.
//   - Values are read through viper, so BOXDISPLAY_* variables (and the
//     legacy names in legacyEnv) win over the file.
//   - The result is normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// First run: create default config file.
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, fmt.Errorf("config: write defaults: %w", err)
		}
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return &cfg, fmt.Errorf("config: %w", err)
	}
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

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".boxdisplay-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
