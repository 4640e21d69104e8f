package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadFirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Refresh.FullEvery != 10 || cfg.Display.Width != 800 || cfg.Display.Height != 480 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not created: %v", err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Fatalf("config perms = %o, want 600", perm)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "full_every: 10") {
		t.Fatalf("written config missing refresh section:\n%s", data)
	}
}

func TestLoadFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
listen: ":9090"
api:
  base: "https://boxes.example.com/api/"
  timeout: "3s"
display:
  driver: MOCK
  title: "Garden"
refresh:
  full_every: 4
notify:
  source: none
basic_auth:
  username: admin
  password: secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.API.Base != "https://boxes.example.com/api" {
		t.Errorf("api.base = %q (trailing slash should be trimmed)", cfg.API.Base)
	}
	if cfg.API.TimeoutDuration() != 3*time.Second {
		t.Errorf("timeout = %v", cfg.API.TimeoutDuration())
	}
	if cfg.Display.Driver != "mock" || cfg.Display.Title != "Garden" {
		t.Errorf("display = %+v", cfg.Display)
	}
	// Unset keys keep defaults.
	if cfg.Display.Width != 800 || cfg.Display.MaxNameChars != 20 {
		t.Errorf("display defaults lost: %+v", cfg.Display)
	}
	if cfg.Refresh.FullEvery != 4 {
		t.Errorf("full_every = %d", cfg.Refresh.FullEvery)
	}
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username != "admin" || cfg.BasicAuth.Password != "secret" {
		t.Errorf("basic_auth = %+v", cfg.BasicAuth)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "refresh:\n  full_every: 4\n")

	t.Setenv("BOXDISPLAY_REFRESH_FULL_EVERY", "7")
	t.Setenv("BOXDISPLAY_DISPLAY_DRIVER", "mock")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Refresh.FullEvery != 7 {
		t.Errorf("full_every = %d, want env value 7", cfg.Refresh.FullEvery)
	}
	if cfg.Display.Driver != "mock" {
		t.Errorf("driver = %q", cfg.Display.Driver)
	}
}

func TestLoadLegacyEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "notify:\n  source: pusher\n")

	t.Setenv("API_BASE", "http://10.0.0.2:3000/api")
	t.Setenv("HTTP_TIMEOUT", "7")
	t.Setenv("PUSHER_APP_KEY", "key123")
	t.Setenv("PUSHER_CHANNEL", "boxes")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Base != "http://10.0.0.2:3000/api" {
		t.Errorf("api.base = %q", cfg.API.Base)
	}
	if cfg.API.TimeoutDuration() != 7*time.Second {
		t.Errorf("timeout = %v, want 7s", cfg.API.TimeoutDuration())
	}
	if cfg.Pusher.AppKey != "key123" || cfg.Pusher.Channel != "boxes" {
		t.Errorf("pusher = %+v", cfg.Pusher)
	}
}

func TestPrefixedEnvBeatsLegacy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "{}\n")

	t.Setenv("API_BASE", "http://legacy/api")
	t.Setenv("BOXDISPLAY_API_BASE", "http://new/api")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Base != "http://new/api" {
		t.Fatalf("api.base = %q", cfg.API.Base)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"missing base":   func(c *Config) { c.API.Base = "" },
		"bad scheme":     func(c *Config) { c.API.Base = "ftp://x" },
		"bad timeout":    func(c *Config) { c.API.Timeout = "soon" },
		"bad driver":     func(c *Config) { c.Display.Driver = "hdmi" },
		"zero width":     func(c *Config) { c.Display.Width = -1 },
		"bad full_every": func(c *Config) { c.Refresh.FullEvery = -2 },
		"bad cron":       func(c *Config) { c.Refresh.PollCron = "every minute" },
		"bad source":     func(c *Config) { c.Notify.Source = "carrier-pigeon" },
		"mqtt no broker": func(c *Config) { c.Notify.Source = "mqtt" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Display.Title = "Lobby"
	cfg.Notify.Source = "none"
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Display.Title != "Lobby" || got.BasicAuth == nil || got.BasicAuth.Username != "u" {
		t.Fatalf("round trip lost values: %+v", got)
	}
}

func TestTimeoutForms(t *testing.T) {
	for in, want := range map[string]time.Duration{"10": 10 * time.Second, "1500ms": 1500 * time.Millisecond, "2m": 2 * time.Minute} {
		if got := (APIConfig{Timeout: in}).TimeoutDuration(); got != want {
			t.Errorf("TimeoutDuration(%q) = %v, want %v", in, got, want)
		}
	}
}
