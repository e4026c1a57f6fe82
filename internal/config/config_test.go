package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"gather/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if cfg.Workers.Count != 4 || cfg.Workers.MaxAttempts != 3 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Workers)
	}
	if cfg.Paths.APIBind == "" {
		t.Fatal("expected default api bind")
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
storage_dir = "` + filepath.Join(dir, "storage") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"
api_bind = "127.0.0.1:0"

[uploads]
max_file_mib = 8
allowed_types = ["IMAGE/JPEG", " video/mp4 "]

[workers]
count = 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Workers.Count != 2 {
		t.Fatalf("expected override, got %d", cfg.Workers.Count)
	}
	if !cfg.AllowedType("image/jpeg") || !cfg.AllowedType("video/mp4") {
		t.Fatalf("expected normalized mime allow-list, got %v", cfg.Uploads.AllowedTypes)
	}
	if cfg.AllowedType("application/octet-stream") {
		t.Fatal("unexpected mime allowed")
	}
	if cfg.MaxFileBytes() != 8*1024*1024 {
		t.Fatalf("unexpected max bytes: %d", cfg.MaxFileBytes())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero workers", func(c *config.Config) { c.Workers.Count = 0 }},
		{"zero attempts", func(c *config.Config) { c.Workers.MaxAttempts = 0 }},
		{"backoff cap below base", func(c *config.Config) { c.Workers.RetryBackoffCapSeconds = 1 }},
		{"empty mime list", func(c *config.Config) { c.Uploads.AllowedTypes = nil }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"zero session ttl", func(c *config.Config) { c.Guests.SessionTTLDays = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if _, err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if _, err := config.WriteSample(path); err == nil {
		t.Fatal("expected overwrite refusal")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.StorageDir = filepath.Join(dir, "storage")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, d := range []string{cfg.Paths.DataDir, cfg.Paths.StorageDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s", d)
		}
	}
}
