package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APSIS_ENCRYPTION_KEY", "env-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != "0.0.0.0:8080" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.BatchSize != 500 || cfg.MaxPollAttempts != 48 {
		t.Fatalf("defaults = batch %d, attempts %d", cfg.BatchSize, cfg.MaxPollAttempts)
	}
	if cfg.SyncIntervalDuration() != 5*time.Minute {
		t.Fatalf("sync interval = %s", cfg.SyncIntervalDuration())
	}
	if cfg.EncryptionKey != "env-secret" {
		t.Fatalf("encryption key = %q", cfg.EncryptionKey)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
listen: 127.0.0.1:9000
db_path: /tmp/sync.db
api_base_url: https://api.example
encryption_key: file-secret
sync_interval: 30s
batch_size: 100
max_poll_attempts: 10
stores:
  - id: 1
    code: main
    website_id: 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" || cfg.DBPath != "/tmp/sync.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SyncIntervalDuration() != 30*time.Second {
		t.Fatalf("sync interval = %s", cfg.SyncIntervalDuration())
	}
	if cfg.BatchSize != 100 || cfg.MaxPollAttempts != 10 {
		t.Fatalf("batch %d, attempts %d", cfg.BatchSize, cfg.MaxPollAttempts)
	}
	if len(cfg.Stores) != 1 || cfg.Stores[0].Code != "main" {
		t.Fatalf("stores = %+v", cfg.Stores)
	}
}

func TestLoadZeroValuesFallBack(t *testing.T) {
	path := writeConfig(t, `
encryption_key: s
batch_size: 0
max_poll_attempts: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BatchSize != 500 || cfg.MaxPollAttempts != 48 {
		t.Fatalf("batch %d, attempts %d, want defaults", cfg.BatchSize, cfg.MaxPollAttempts)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "encryption_key: s\nlisten: 0.0.0.0:8080\n")
	t.Setenv("HOST", "10.0.0.5")
	t.Setenv("PORT", "9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != "10.0.0.5:9999" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
}

func TestLoadEnvOverridesIPv6Listen(t *testing.T) {
	path := writeConfig(t, "encryption_key: s\nlisten: \"[::1]:8080\"\n")
	t.Setenv("PORT", "9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != "[::1]:9999" {
		t.Fatalf("listen = %q, want [::1]:9999", cfg.Listen)
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := writeConfig(t, "encryption_key: from-env-file\n")
	t.Setenv("APSIS_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.EncryptionKey != "from-env-file" {
		t.Fatalf("encryption key = %q", cfg.EncryptionKey)
	}
}

func TestLoadRequiresEncryptionKey(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected missing encryption key to fail")
	}
}

func TestLoadRejectsBadInterval(t *testing.T) {
	path := writeConfig(t, "encryption_key: s\nsync_interval: nonsense\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected invalid sync_interval to fail")
	}
}
