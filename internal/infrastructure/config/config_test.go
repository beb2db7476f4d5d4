package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
gateway:
  queue_cap: 64
  retry:
    max_retries: 5
    base_delay: 100
    backoff_multiplier: 1.5
    max_delay: 2000
    jitter_ratio: 0.1
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Gateway.QueueCap != 64 {
		t.Errorf("Gateway.QueueCap = %d, want 64", cfg.Gateway.QueueCap)
	}
	if cfg.Gateway.Retry.MaxRetries != 5 {
		t.Errorf("Gateway.Retry.MaxRetries = %d, want 5", cfg.Gateway.Retry.MaxRetries)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	// A minimal file should still produce a fully populated config.
	content := `
site:
  id: "test-site"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Anomaly.OvershootFactor != 1.5 {
		t.Errorf("Anomaly.OvershootFactor = %v, want 1.5", cfg.Anomaly.OvershootFactor)
	}
	if cfg.Anomaly.DisableThreshold != 3 {
		t.Errorf("Anomaly.DisableThreshold = %d, want 3", cfg.Anomaly.DisableThreshold)
	}
	if cfg.Failure.NotifyThreshold != "high" {
		t.Errorf("Failure.NotifyThreshold = %q, want %q", cfg.Failure.NotifyThreshold, "high")
	}
	if cfg.Gateway.QueueCap != 256 {
		t.Errorf("Gateway.QueueCap = %d, want 256", cfg.Gateway.QueueCap)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
database:
  path: ""
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "site.id is required") {
		t.Errorf("error %q does not mention site.id", err)
	}
	if !strings.Contains(err.Error(), "database.path is required") {
		t.Errorf("error %q does not mention database.path", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/from-file.db"
`
	t.Setenv("WARDCORE_DATABASE_PATH", "/tmp/from-env.db")
	t.Setenv("WARDCORE_MQTT_HOST", "env-broker")
	t.Setenv("WARDCORE_JWT_SECRET", "env-secret")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "env-broker" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
	if cfg.Security.JWT.Secret != "env-secret" {
		t.Errorf("Security.JWT.Secret = %q, want env override", cfg.Security.JWT.Secret)
	}
}

func TestValidate_RetrySettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "negative max retries",
			mutate:  func(c *Config) { c.Gateway.Retry.MaxRetries = -1 },
			wantErr: "max_retries",
		},
		{
			name:    "multiplier below one",
			mutate:  func(c *Config) { c.Gateway.Retry.BackoffMultiplier = 0.5 },
			wantErr: "backoff_multiplier",
		},
		{
			name:    "jitter out of range",
			mutate:  func(c *Config) { c.Gateway.Retry.JitterRatio = 1.5 },
			wantErr: "jitter_ratio",
		},
		{
			name:    "overshoot factor too small",
			mutate:  func(c *Config) { c.Anomaly.OvershootFactor = 1.0 },
			wantErr: "overshoot_factor",
		},
		{
			name:    "bad notify threshold",
			mutate:  func(c *Config) { c.Failure.NotifyThreshold = "loud" },
			wantErr: "notify_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
