package config

const (
	defaultDataDir    = "~/.local/share/gather/data"
	defaultStorageDir = "~/.local/share/gather/storage"
	defaultLogDir     = "~/.local/share/gather/logs"
	defaultAPIBind    = "127.0.0.1:8721"

	defaultMaxFileMiB = 512

	defaultWorkerCount            = 4
	defaultWorkerPollSeconds      = 2
	defaultMaxAttempts            = 3
	defaultRetryBackoffSeconds    = 2
	defaultRetryBackoffCapSeconds = 60
	defaultLeaseTimeoutSeconds    = 120
	defaultMaintenanceSeconds     = 30

	defaultProgressRetentionMinutes = 15
	defaultProgressSweepSeconds     = 60

	defaultHistoryRetentionHours = 24

	defaultHubConnectionsPerWindow = 20
	defaultHubWindowSeconds        = 60
	defaultHubOutboundBuffer       = 64
	defaultHubAuthDeadlineSeconds  = 10

	defaultGuestSessionTTLDays = 30

	defaultNotifyRequestTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

func defaultAllowedTypes() []string {
	return []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/webp",
		"image/heic",
		"video/mp4",
		"video/quicktime",
		"video/webm",
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StorageDir: defaultStorageDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Uploads: Uploads{
			MaxFileMiB:   defaultMaxFileMiB,
			AllowedTypes: defaultAllowedTypes(),
		},
		Workers: Workers{
			Count:                  defaultWorkerCount,
			PollIntervalSeconds:    defaultWorkerPollSeconds,
			MaxAttempts:            defaultMaxAttempts,
			RetryBackoffSeconds:    defaultRetryBackoffSeconds,
			RetryBackoffCapSeconds: defaultRetryBackoffCapSeconds,
			LeaseTimeoutSeconds:    defaultLeaseTimeoutSeconds,
			MaintenanceSeconds:     defaultMaintenanceSeconds,
		},
		Progress: Progress{
			RetentionMinutes:     defaultProgressRetentionMinutes,
			SweepIntervalSeconds: defaultProgressSweepSeconds,
		},
		Queue: Queue{
			HistoryRetentionHours: defaultHistoryRetentionHours,
		},
		Hub: Hub{
			ConnectionsPerWindow: defaultHubConnectionsPerWindow,
			WindowSeconds:        defaultHubWindowSeconds,
			OutboundBuffer:       defaultHubOutboundBuffer,
			AuthDeadlineSeconds:  defaultHubAuthDeadlineSeconds,
		},
		Guests: Guests{
			SessionTTLDays: defaultGuestSessionTTLDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Failures:       true,
			Batches:        true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
