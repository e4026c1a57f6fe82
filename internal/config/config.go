package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StorageDir string `toml:"storage_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Uploads contains intake validation limits.
type Uploads struct {
	MaxFileMiB   int64    `toml:"max_file_mib"`
	AllowedTypes []string `toml:"allowed_types"`
}

// Workers contains worker pool and retry policy settings.
type Workers struct {
	Count                  int `toml:"count"`
	PollIntervalSeconds    int `toml:"poll_interval_seconds"`
	MaxAttempts            int `toml:"max_attempts"`
	RetryBackoffSeconds    int `toml:"retry_backoff_seconds"`
	RetryBackoffCapSeconds int `toml:"retry_backoff_cap_seconds"`
	LeaseTimeoutSeconds    int `toml:"lease_timeout_seconds"`
	MaintenanceSeconds     int `toml:"maintenance_seconds"`
}

// Progress contains progress tracker retention settings.
type Progress struct {
	RetentionMinutes     int `toml:"retention_minutes"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
}

// Queue contains durable queue housekeeping settings.
type Queue struct {
	HistoryRetentionHours int `toml:"history_retention_hours"`
}

// Hub contains real-time channel limits.
type Hub struct {
	ConnectionsPerWindow int `toml:"connections_per_window"`
	WindowSeconds        int `toml:"window_seconds"`
	OutboundBuffer       int `toml:"outbound_buffer"`
	AuthDeadlineSeconds  int `toml:"auth_deadline_seconds"`
}

// Guests contains guest session lifecycle settings.
type Guests struct {
	SessionTTLDays int `toml:"session_ttl_days"`
}

// Notifications contains ntfy push notification settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Failures       bool   `toml:"failures"`
	Batches        bool   `toml:"batches"`
}

// Logging contains log output settings.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Gather.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Uploads: intake validation limits
//   - Workers: worker pool sizing and retry/backoff policy
//   - Progress: in-memory progress record retention
//   - Queue: durable queue history retention
//   - Hub: real-time channel rate limits and buffers
//   - Guests: guest session lifetime
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Uploads       Uploads       `toml:"uploads"`
	Workers       Workers       `toml:"workers"`
	Progress      Progress      `toml:"progress"`
	Queue         Queue         `toml:"queue"`
	Hub           Hub           `toml:"hub"`
	Guests        Guests        `toml:"guests"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/gather/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a config file existed at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the target path.
// It refuses to overwrite an existing file.
func WriteSample(path string) (string, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(expanded); err == nil {
		return "", fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return "", fmt.Errorf("write sample config: %w", err)
	}
	return expanded, nil
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StorageDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path must not be empty")
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
