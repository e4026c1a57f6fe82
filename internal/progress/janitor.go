package progress

import (
	"context"
	"log/slog"
	"time"

	"gather/internal/logging"
)

// Janitor periodically sweeps terminal snapshots past the retention window.
type Janitor struct {
	tracker   *Tracker
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewJanitor builds a janitor for the tracker.
func NewJanitor(tracker *Tracker, retention, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Janitor{
		tracker:   tracker,
		retention: retention,
		interval:  interval,
		logger:    logger.With(logging.String(logging.FieldComponent, "progress-janitor")),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := j.tracker.Sweep(time.Now().Add(-j.retention))
			if removed > 0 {
				j.logger.Debug("swept terminal progress snapshots",
					logging.Int("removed", removed),
					logging.Int("remaining", j.tracker.Len()))
			}
		}
	}
}
