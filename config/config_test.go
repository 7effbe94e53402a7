package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PollInterval != 60*time.Second {
		t.Errorf("PollInterval = %s, want 60s", cfg.PollInterval)
	}
	if cfg.DefaultPlugin != "general" {
		t.Errorf("DefaultPlugin = %q, want general", cfg.DefaultPlugin)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Queue.MaxAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_FileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  listen_addr: ":9090"
  webhook_secret: file-secret
poll_interval: 30s
default_plugin: educational
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MEETSCRIBE_WEBHOOK_SECRET", "env-secret")
	t.Setenv("MEETSCRIBE_RETENTION_DAYS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %s, want 30s", cfg.PollInterval)
	}
	if cfg.DefaultPlugin != "educational" {
		t.Errorf("DefaultPlugin = %q, want educational", cfg.DefaultPlugin)
	}
	// Env wins over file.
	if cfg.Server.WebhookSecret != "env-secret" {
		t.Errorf("WebhookSecret = %q, want env-secret", cfg.Server.WebhookSecret)
	}
	if cfg.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", cfg.RetentionDays)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want default", cfg.Server.ListenAddr)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"negative retention", func(c *Config) { c.RetentionDays = -1 }},
		{"empty default plugin", func(c *Config) { c.DefaultPlugin = "" }},
		{"zero workers", func(c *Config) { c.Queue.Workers = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDatabaseConnectionString(t *testing.T) {
	db := DatabaseConfig{Host: "db.local", Database: "meetscribe", User: "svc", Password: "pw"}
	got := db.ConnectionString()
	want := "postgres://svc:pw@db.local:5432/meetscribe?sslmode=disable"
	if got != want {
		t.Errorf("ConnectionString = %q, want %q", got, want)
	}

	empty := DatabaseConfig{}
	if empty.ConnectionString() != "" {
		t.Error("unconfigured database should produce empty connection string")
	}
}
