package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalConfig = `
server:
  base_url: "https://example.social"
  token: "secret-token"
catalog:
  source: "./images.json"
schedule:
  times: ["09:00", "18:30"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}
	return path
}

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.BaseURL != "https://example.social" {
		t.Errorf("got base_url %q", cfg.Server.BaseURL)
	}
	if cfg.Catalog.RefreshInterval != 30*time.Minute {
		t.Errorf("got refresh_interval %v, want 30m default", cfg.Catalog.RefreshInterval)
	}
	if cfg.Schedule.RetryInterval != 600*time.Second {
		t.Errorf("got retry_interval %v, want 600s default", cfg.Schedule.RetryInterval)
	}
	if cfg.Schedule.WakeInterval != 30*time.Second {
		t.Errorf("got wake_interval %v, want 30s default", cfg.Schedule.WakeInterval)
	}
	if cfg.Pool.StatePath != "./data/pool.json" {
		t.Errorf("got state_path %q", cfg.Pool.StatePath)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("got log level %q, want info default", cfg.Log.Level)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  base_url: "https://example.social"
  token: "secret-token"
catalog:
  source: "https://example.com/images.json"
  refresh_interval: 10m
pool:
  state_path: "/var/lib/fedipost/pool.json"
schedule:
  times: ["07:00"]
  retry_interval: 5m
  wake_interval: 10s
post:
  tags: "#foxes #photography"
  local_root: "/srv/images"
  visibility_rotation: ["public", "unlisted"]
history:
  path: "/var/lib/fedipost/history.db"
admin:
  listen: "127.0.0.1:8686"
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Catalog.RefreshInterval != 10*time.Minute {
		t.Errorf("got refresh_interval %v", cfg.Catalog.RefreshInterval)
	}
	if cfg.Post.Tags != "#foxes #photography" {
		t.Errorf("got tags %q", cfg.Post.Tags)
	}
	if len(cfg.Post.VisibilityRotation) != 2 {
		t.Errorf("got rotation %v", cfg.Post.VisibilityRotation)
	}
	if cfg.History.Path != "/var/lib/fedipost/history.db" {
		t.Errorf("got history path %q", cfg.History.Path)
	}
	if cfg.Admin.Listen != "127.0.0.1:8686" {
		t.Errorf("got admin listen %q", cfg.Admin.Listen)
	}
	if cfg.Admin.Mode != "release" {
		t.Errorf("got admin mode %q, want release default", cfg.Admin.Mode)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:   ServerConfig{BaseURL: "https://example.social", Token: "t"},
			Catalog:  CatalogConfig{Source: "./images.json"},
			Schedule: ScheduleConfig{Times: []string{"09:00"}},
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing base url", mutate: func(c *Config) { c.Server.BaseURL = "" }, wantErr: true},
		{name: "missing token", mutate: func(c *Config) { c.Server.Token = "" }, wantErr: true},
		{name: "missing source", mutate: func(c *Config) { c.Catalog.Source = "" }, wantErr: true},
		{name: "no post times", mutate: func(c *Config) { c.Schedule.Times = nil }, wantErr: true},
		{name: "malformed post time", mutate: func(c *Config) { c.Schedule.Times = []string{"25:00"} }, wantErr: true},
		{name: "valid visibility", mutate: func(c *Config) { c.Post.Visibility = "unlisted" }},
		{name: "invalid visibility", mutate: func(c *Config) { c.Post.Visibility = "friends" }, wantErr: true},
		{name: "valid rotation", mutate: func(c *Config) { c.Post.VisibilityRotation = []string{"public", "direct"} }},
		{name: "invalid rotation entry", mutate: func(c *Config) { c.Post.VisibilityRotation = []string{"public", "secret"} }, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSlotsSorted(t *testing.T) {
	cfg := Config{Schedule: ScheduleConfig{Times: []string{"18:00", "09:00"}}}
	slots, err := cfg.Slots()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 || slots[0].Hour != 9 || slots[1].Hour != 18 {
		t.Errorf("got slots %v, want sorted ascending", slots)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
