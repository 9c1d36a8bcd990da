// Package config loads the kiosk's YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full kiosk configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Kiosk   KioskConfig   `yaml:"kiosk"`
	Admin   AdminConfig   `yaml:"admin"`
}

// BackendConfig points the kiosk at the cart platform.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"` // HTTP API + SSE, e.g. https://api.duckycart.me
	WSURL   string `yaml:"ws_url"`   // realtime channel, e.g. wss://api.duckycart.me
}

// KioskConfig tunes local behavior.
type KioskConfig struct {
	StatePath         string        `yaml:"state_path"`          // session state file
	TokenPollInterval time.Duration `yaml:"token_poll_interval"` // auth token expiry checks
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`  // realtime channel flat backoff
	ThankYouDwell     time.Duration `yaml:"thank_you_dwell"`     // thank-you screen hold
	ExpiredQRDwell    time.Duration `yaml:"expired_qr_dwell"`    // expired QR before full reset
	RedrawWindow      time.Duration `yaml:"redraw_window"`       // screen redraw coalescing
}

// UnmarshalYAML decodes duration fields from strings like "30s" or "2m".
func (k *KioskConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		StatePath         string `yaml:"state_path"`
		TokenPollInterval string `yaml:"token_poll_interval"`
		ReconnectInterval string `yaml:"reconnect_interval"`
		ThankYouDwell     string `yaml:"thank_you_dwell"`
		ExpiredQRDwell    string `yaml:"expired_qr_dwell"`
		RedrawWindow      string `yaml:"redraw_window"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	k.StatePath = raw.StatePath
	for _, f := range []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"token_poll_interval", raw.TokenPollInterval, &k.TokenPollInterval},
		{"reconnect_interval", raw.ReconnectInterval, &k.ReconnectInterval},
		{"thank_you_dwell", raw.ThankYouDwell, &k.ThankYouDwell},
		{"expired_qr_dwell", raw.ExpiredQRDwell, &k.ExpiredQRDwell},
		{"redraw_window", raw.RedrawWindow, &k.RedrawWindow},
	} {
		if f.src == "" {
			continue
		}
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("config: kiosk.%s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// AdminConfig guards operator-only actions.
type AdminConfig struct {
	// PasswordHash is a bcrypt hash of the admin password used by the
	// provision command. Generated with `cart-kiosk provision hash`.
	PasswordHash string `yaml:"password_hash"`
}

// DefaultPath returns the default config location (~/.cart-kiosk/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".cart-kiosk", "config.yaml")
}

// Load reads the config at path, applying defaults for anything unset.
// A missing file yields pure defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "https://api.duckycart.me"
	}
	if c.Backend.WSURL == "" {
		c.Backend.WSURL = "wss://api.duckycart.me"
	}
	if c.Kiosk.StatePath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.Kiosk.StatePath = filepath.Join(home, ".cart-kiosk", "state.json")
		} else {
			c.Kiosk.StatePath = "state.json"
		}
	}
	if c.Kiosk.TokenPollInterval <= 0 {
		c.Kiosk.TokenPollInterval = 30 * time.Second
	}
	if c.Kiosk.ReconnectInterval <= 0 {
		c.Kiosk.ReconnectInterval = 3 * time.Second
	}
	if c.Kiosk.ThankYouDwell <= 0 {
		c.Kiosk.ThankYouDwell = 15 * time.Second
	}
	if c.Kiosk.ExpiredQRDwell <= 0 {
		c.Kiosk.ExpiredQRDwell = 60 * time.Second
	}
	if c.Kiosk.RedrawWindow <= 0 {
		c.Kiosk.RedrawWindow = 50 * time.Millisecond
	}
}

func (c *Config) validate() error {
	for name, raw := range map[string]string{
		"backend.base_url": c.Backend.BaseURL,
		"backend.ws_url":   c.Backend.WSURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: %s is not a valid URL: %q", name, raw)
		}
	}
	return nil
}
