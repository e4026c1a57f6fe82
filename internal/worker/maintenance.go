package worker

import (
	"context"
	"log/slog"
	"time"

	"gather/internal/config"
	"gather/internal/logging"
	"gather/internal/queue"
)

// Maintenance runs the periodic queue housekeeping: reclaiming expired
// leases, trimming terminal history past retention, and purging expired
// guest sessions.
type Maintenance struct {
	store     *queue.Store
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	policy    queue.RetryPolicy
}

// NewMaintenance builds the housekeeping loop from configuration.
func NewMaintenance(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Maintenance{
		store:     store,
		logger:    logger.With(logging.String(logging.FieldComponent, "maintenance")),
		interval:  time.Duration(cfg.Workers.MaintenanceSeconds) * time.Second,
		retention: time.Duration(cfg.Queue.HistoryRetentionHours) * time.Hour,
		policy: queue.RetryPolicy{
			MaxAttempts: cfg.Workers.MaxAttempts,
			Backoff:     time.Duration(cfg.Workers.RetryBackoffSeconds) * time.Second,
			BackoffCap:  time.Duration(cfg.Workers.RetryBackoffCapSeconds) * time.Second,
		},
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *Maintenance) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one housekeeping pass.
func (m *Maintenance) Sweep(ctx context.Context) {
	if reclaimed, err := m.store.ReclaimExpiredLeases(ctx, m.policy); err != nil {
		m.logger.Error("reclaim expired leases", logging.Error(err))
	} else if reclaimed > 0 {
		m.logger.Warn("reclaimed expired leases", logging.Int("count", reclaimed))
	}

	if removed, err := m.store.ClearHistory(ctx, time.Now().Add(-m.retention)); err != nil {
		m.logger.Error("clear queue history", logging.Error(err))
	} else if removed > 0 {
		m.logger.Debug("cleared queue history", logging.Int("count", removed))
	}

	if purged, err := m.store.PurgeExpiredSessions(ctx); err != nil {
		m.logger.Error("purge expired sessions", logging.Error(err))
	} else if purged > 0 {
		m.logger.Debug("purged expired guest sessions", logging.Int("count", purged))
	}
}
