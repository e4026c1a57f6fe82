package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	for name, field := range map[string]*string{
		"data_dir":    &c.Paths.DataDir,
		"storage_dir": &c.Paths.StorageDir,
		"log_dir":     &c.Paths.LogDir,
	} {
		expanded, err := expandPath(*field)
		if err != nil {
			return fmt.Errorf("normalize %s: %w", name, err)
		}
		*field = expanded
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	normalized := make([]string, 0, len(c.Uploads.AllowedTypes))
	for _, mime := range c.Uploads.AllowedTypes {
		mime = strings.ToLower(strings.TrimSpace(mime))
		if mime != "" {
			normalized = append(normalized, mime)
		}
	}
	c.Uploads.AllowedTypes = normalized
	return nil
}

// Validate reports the first configuration problem encountered.
func (c *Config) Validate() error {
	if c.Paths.APIBind == "" {
		return fmt.Errorf("paths.api_bind must not be empty")
	}
	if c.Uploads.MaxFileMiB <= 0 {
		return fmt.Errorf("uploads.max_file_mib must be positive, got %d", c.Uploads.MaxFileMiB)
	}
	if len(c.Uploads.AllowedTypes) == 0 {
		return fmt.Errorf("uploads.allowed_types must list at least one mime type")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count)
	}
	if c.Workers.MaxAttempts <= 0 {
		return fmt.Errorf("workers.max_attempts must be positive, got %d", c.Workers.MaxAttempts)
	}
	if c.Workers.RetryBackoffSeconds <= 0 {
		return fmt.Errorf("workers.retry_backoff_seconds must be positive, got %d", c.Workers.RetryBackoffSeconds)
	}
	if c.Workers.RetryBackoffCapSeconds < c.Workers.RetryBackoffSeconds {
		return fmt.Errorf("workers.retry_backoff_cap_seconds must be >= retry_backoff_seconds")
	}
	if c.Workers.LeaseTimeoutSeconds <= 0 {
		return fmt.Errorf("workers.lease_timeout_seconds must be positive, got %d", c.Workers.LeaseTimeoutSeconds)
	}
	if c.Progress.RetentionMinutes <= 0 {
		return fmt.Errorf("progress.retention_minutes must be positive, got %d", c.Progress.RetentionMinutes)
	}
	if c.Queue.HistoryRetentionHours <= 0 {
		return fmt.Errorf("queue.history_retention_hours must be positive, got %d", c.Queue.HistoryRetentionHours)
	}
	if c.Hub.ConnectionsPerWindow <= 0 || c.Hub.WindowSeconds <= 0 {
		return fmt.Errorf("hub rate limit values must be positive")
	}
	if c.Hub.OutboundBuffer <= 0 {
		return fmt.Errorf("hub.outbound_buffer must be positive, got %d", c.Hub.OutboundBuffer)
	}
	if c.Guests.SessionTTLDays <= 0 {
		return fmt.Errorf("guests.session_ttl_days must be positive, got %d", c.Guests.SessionTTLDays)
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// AllowedType reports whether a mime type passes the intake allow-list.
func (c *Config) AllowedType(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	for _, allowed := range c.Uploads.AllowedTypes {
		if mime == allowed {
			return true
		}
	}
	return false
}

// MaxFileBytes returns the intake size limit in bytes.
func (c *Config) MaxFileBytes() int64 {
	return c.Uploads.MaxFileMiB * 1024 * 1024
}
