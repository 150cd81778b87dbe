package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Backend != StorageMongo {
		t.Errorf("backend = %q, want %q", cfg.Storage.Backend, StorageMongo)
	}
	if cfg.Shortener.RedirectStatus != 302 {
		t.Errorf("redirect status = %d, want 302", cfg.Shortener.RedirectStatus)
	}
	if !cfg.Clicks.Async || cfg.Clicks.Timeout != 2*time.Second {
		t.Errorf("clicks = %+v", cfg.Clicks)
	}
	if len(cfg.Security.APIKeys) != 0 {
		t.Errorf("api keys = %v, want none", cfg.Security.APIKeys)
	}
	if cfg.Security.UnlockAttemptsPerMinute != 10 {
		t.Errorf("unlock attempts = %d, want 10", cfg.Security.UnlockAttemptsPerMinute)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "MEMORY")
	t.Setenv("SHORTENER_BASE_URL", "https://z.example/")
	t.Setenv("API_KEYS", "k1, k2")
	t.Setenv("CLICKS_ASYNC", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Backend != StorageMemory {
		t.Errorf("backend = %q, want %q", cfg.Storage.Backend, StorageMemory)
	}
	if cfg.Shortener.BaseURL != "https://z.example" {
		t.Errorf("base url = %q, want trailing slash trimmed", cfg.Shortener.BaseURL)
	}
	if len(cfg.Security.APIKeys) != 2 || cfg.Security.APIKeys[1] != "k2" {
		t.Errorf("api keys = %v", cfg.Security.APIKeys)
	}
	if cfg.Clicks.Async {
		t.Error("clicks should be synchronous")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown backend", "STORAGE_BACKEND", "postgres"},
		{"bad redirect status", "REDIRECT_STATUS", "307"},
		{"slug too short", "SLUG_LENGTH", "3"},
		{"slug too long", "SLUG_LENGTH", "33"},
		{"zero click timeout", "CLICKS_TIMEOUT", "0s"},
		{"negative shutdown timeout", "SHUTDOWN_TIMEOUT", "-1s"},
		{"negative unlock attempts", "UNLOCK_ATTEMPTS_PER_MINUTE", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
