package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"CHAT_MAX_RETRIES", "CHAT_RETRY_DELAY", "CHAT_DIAL_TIMEOUT",
		"CHAT_SEND_TIMEOUT", "CHAT_HISTORY_LIMIT", "CHAT_LOG_CAP",
		"DB_DSN", "HTTP_ADDR",
	} {
		t.Setenv(key, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.RetryDelay != 3*time.Second {
		t.Errorf("RetryDelay = %v, want 3s", cfg.RetryDelay)
	}
	if cfg.HistoryLimit != 100 || cfg.LogCap != 100 {
		t.Errorf("HistoryLimit/LogCap = %d/%d, want 100/100", cfg.HistoryLimit, cfg.LogCap)
	}
	if cfg.DBDsn == "" {
		t.Error("expected default DB DSN")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHAT_MAX_RETRIES", "5")
	t.Setenv("CHAT_RETRY_DELAY", "500ms")
	t.Setenv("CHAT_LOG_CAP", "250")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.RetryDelay != 500*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 500ms", cfg.RetryDelay)
	}
	if cfg.LogCap != 250 {
		t.Errorf("LogCap = %d, want 250", cfg.LogCap)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("CHAT_MAX_RETRIES", "lots")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-integer CHAT_MAX_RETRIES")
	}
	t.Setenv("CHAT_MAX_RETRIES", "")
	t.Setenv("CHAT_RETRY_DELAY", "soon")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-duration CHAT_RETRY_DELAY")
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("CHAT_TOKEN_ENDPOINT", "https://api.example.com/token")
	t.Setenv("CHAT_WS_URL", "wss://chat.example.com/ws")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	if err := os.Unsetenv("CHAT_TOKEN_ENDPOINT"); err != nil {
		t.Fatalf("failed to unset CHAT_TOKEN_ENDPOINT: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing chat envs")
	}
}
