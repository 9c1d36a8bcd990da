package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.BaseURL != "https://api.duckycart.me" {
		t.Errorf("unexpected base url %q", cfg.Backend.BaseURL)
	}
	if cfg.Kiosk.ReconnectInterval != 3*time.Second {
		t.Errorf("unexpected reconnect interval %v", cfg.Kiosk.ReconnectInterval)
	}
	if cfg.Kiosk.TokenPollInterval != 30*time.Second {
		t.Errorf("unexpected token poll %v", cfg.Kiosk.TokenPollInterval)
	}
}

func TestLoad_OverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
backend:
  base_url: http://localhost:8000
kiosk:
  thank_you_dwell: 5s
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("override lost: %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.WSURL != "wss://api.duckycart.me" {
		t.Errorf("default lost: %q", cfg.Backend.WSURL)
	}
	if cfg.Kiosk.ThankYouDwell != 5*time.Second {
		t.Errorf("dwell override lost: %v", cfg.Kiosk.ThankYouDwell)
	}
}

func TestLoad_RejectsBadURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backend:\n  base_url: '::not a url'\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("\t:bad"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("kiosk:\n  thank_you_dwell: 5s\n"), 0600); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("kiosk:\n  thank_you_dwell: 9s\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Kiosk.ThankYouDwell != 9*time.Second {
			t.Errorf("reload picked up stale value: %v", cfg.Kiosk.ThankYouDwell)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never fired")
	}
}
