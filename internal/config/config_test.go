package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.MessagePollMs = 500
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.MessagePollMs != 500 {
		t.Errorf("MessagePollMs = %d, want 500", loaded.MessagePollMs)
	}
}

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	d := Default()
	if cfg.PresenceTTLMs != d.PresenceTTLMs {
		t.Errorf("PresenceTTLMs = %d, want default %d", cfg.PresenceTTLMs, d.PresenceTTLMs)
	}
}

func TestLoadFillsUnsetFields(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("default_profile = \"main\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HeartbeatMs != Default().HeartbeatMs {
		t.Errorf("HeartbeatMs = %d, want default %d", cfg.HeartbeatMs, Default().HeartbeatMs)
	}
	if cfg.DedupToleranceMs != 0 {
		t.Errorf("DedupToleranceMs = %d, want 0", cfg.DedupToleranceMs)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
