package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdir changes to dir and restores the working directory when the test ends.
// Equivalent to t.Chdir, which requires Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("restoring working directory failed: %v", err)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.DBPath != ".claimsync/claimsync.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.SyncInterval != time.Minute {
		t.Errorf("SyncInterval = %v", cfg.SyncInterval)
	}
	if cfg.ProbeInterval != 15*time.Second {
		t.Errorf("ProbeInterval = %v", cfg.ProbeInterval)
	}
	if cfg.DashboardPort != 8090 {
		t.Errorf("DashboardPort = %d", cfg.DashboardPort)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claimsync.yaml")
	content := `backend_url: https://api.example.com
owner: adjuster-7
sync_interval: 30s
dashboard_port: 9000
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.BackendURL != "https://api.example.com" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.Owner != "adjuster-7" {
		t.Errorf("Owner = %q", cfg.Owner)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("SyncInterval = %v", cfg.SyncInterval)
	}
	if cfg.DashboardPort != 9000 {
		t.Errorf("DashboardPort = %d", cfg.DashboardPort)
	}
}

func TestLoadExplicitMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("load of missing explicit config succeeded")
	}
}

func TestEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CLAIMSYNC_BACKEND_URL", "https://env.example.com")
	t.Setenv("CLAIMSYNC_OWNER", "adjuster-9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.BackendURL != "https://env.example.com" {
		t.Errorf("BackendURL = %q, want env value", cfg.BackendURL)
	}
	if cfg.Owner != "adjuster-9" {
		t.Errorf("Owner = %q, want env value", cfg.Owner)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("empty config validated")
	}

	cfg.BackendURL = "https://api.example.com"
	if err := cfg.Validate(); err == nil {
		t.Error("config without owner validated")
	}

	cfg.Owner = "adjuster-7"
	if err := cfg.Validate(); err != nil {
		t.Errorf("complete config rejected: %v", err)
	}
}
