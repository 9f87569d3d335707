package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("expected 30s poll interval, got %s", cfg.PollInterval)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.EnableInbox {
		t.Error("inbox should be disabled by default")
	}
	if cfg.AlertsEnabled() {
		t.Error("alerts should be disabled without recipients")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("POLL_INTERVAL", "45")
	t.Setenv("REQUEST_TIMEOUT", "2s")
	t.Setenv("ENABLE_INBOX", "true")
	t.Setenv("ALERT_PHONE", "+15550100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != 45*time.Second {
		t.Errorf("expected 45s, got %s", cfg.PollInterval)
	}
	if cfg.RequestTimeout != 2*time.Second {
		t.Errorf("expected 2s, got %s", cfg.RequestTimeout)
	}
	if !cfg.EnableInbox {
		t.Error("expected inbox enabled")
	}
	if !cfg.AlertsEnabled() {
		t.Error("expected alerts enabled")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":          "abc",
		"POLL_INTERVAL": "soon",
		"REDIS_DB":      "one",
		"ENABLE_INBOX":  "maybe",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestLoad_RejectsNonPositivePollInterval(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("POLL_INTERVAL", "0s")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero poll interval")
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("API_BASE_URL=https://rx.example.com/api\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("API_BASE_URL", "")
	os.Unsetenv("API_BASE_URL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIBaseURL != "https://rx.example.com/api" {
		t.Errorf("expected base url from env file, got %s", cfg.APIBaseURL)
	}
}
