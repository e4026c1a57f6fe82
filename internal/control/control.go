// Package control is the operator surface over the processing queue: listing,
// statistics, retry/pause/resume/cancel, approval, and history clearing.
// Every mutating operation validates the current state; an invalid transition
// is a conflict, never a silent no-op.
package control

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gather/internal/config"
	"gather/internal/hub"
	"gather/internal/logging"
	"gather/internal/progress"
	"gather/internal/queue"
	"gather/internal/services"
)

// Publisher pushes real-time notifications; satisfied by *hub.Hub.
type Publisher interface {
	Publish(hub.Message)
}

// Service exposes the queue control operations.
type Service struct {
	store     *queue.Store
	tracker   *progress.Tracker
	publisher Publisher
	retention time.Duration
	logger    *slog.Logger
}

// NewService builds the control service.
func NewService(cfg *config.Config, store *queue.Store, tracker *progress.Tracker, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:     store,
		tracker:   tracker,
		publisher: publisher,
		retention: time.Duration(cfg.Queue.HistoryRetentionHours) * time.Hour,
		logger:    logger.With(logging.String(logging.FieldComponent, "control")),
	}
}

// List returns filtered, paginated queue entries.
func (s *Service) List(ctx context.Context, filter queue.ListFilter) ([]queue.EntryView, error) {
	views, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "control", "list", "", err)
	}
	return views, nil
}

// Stats returns entry counts by state, optionally scoped to one event.
func (s *Service) Stats(ctx context.Context, eventID string) (queue.Stats, error) {
	stats, err := s.store.EntryStats(ctx, eventID)
	if err != nil {
		return queue.Stats{}, services.Wrap(services.ErrTransient, "control", "stats", "", err)
	}
	return stats, nil
}

// Retry re-enqueues a terminally failed entry with its attempts reset.
func (s *Service) Retry(ctx context.Context, entryID int64) (*queue.Entry, error) {
	entry, err := s.store.Retry(ctx, entryID)
	if err != nil {
		return entry, s.mapTransitionErr("retry", entryID, err)
	}
	s.logger.Info("entry re-enqueued", logging.Int64("entry_id", entryID))
	return entry, nil
}

// Pause takes an entry out of scheduling.
func (s *Service) Pause(ctx context.Context, entryID int64) (*queue.Entry, error) {
	entry, err := s.store.Pause(ctx, entryID)
	if err != nil {
		return entry, s.mapTransitionErr("pause", entryID, err)
	}
	s.logger.Info("entry paused", logging.Int64("entry_id", entryID))
	return entry, nil
}

// Resume puts a paused entry back on the schedule.
func (s *Service) Resume(ctx context.Context, entryID int64) (*queue.Entry, error) {
	entry, err := s.store.Resume(ctx, entryID)
	if err != nil {
		return entry, s.mapTransitionErr("resume", entryID, err)
	}
	s.logger.Info("entry resumed", logging.Int64("entry_id", entryID))
	return entry, nil
}

// Cancel removes an entry from future scheduling and records the reason on
// its job. Variants already produced are kept. The job's progress snapshot is
// failed so subscribers see the cancellation and the janitor can reclaim it.
func (s *Service) Cancel(ctx context.Context, entryID int64, reason string) (*queue.Entry, error) {
	if reason == "" {
		reason = "cancelled by operator"
	}
	entry, err := s.store.Cancel(ctx, entryID, reason)
	if err != nil {
		return entry, s.mapTransitionErr("cancel", entryID, err)
	}
	if err := s.store.SetJobError(ctx, entry.JobID, reason); err != nil {
		s.logger.Error("record cancellation on job", logging.Error(err))
	}
	s.tracker.Fail(entry.JobID, reason)
	s.logger.Info("entry cancelled",
		logging.Int64("entry_id", entryID),
		logging.String("reason", reason))
	return entry, nil
}

// ClearHistory removes terminal entries older than the retention window and
// returns how many were deleted.
func (s *Service) ClearHistory(ctx context.Context) (int, error) {
	removed, err := s.store.ClearHistory(ctx, time.Now().Add(-s.retention))
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "control", "clear history", "", err)
	}
	if removed > 0 {
		s.logger.Info("queue history cleared", logging.Int("removed", removed))
	}
	return removed, nil
}

// Approve transitions a pending job to approved and broadcasts the change.
// Auto-approved decisions are final and approving twice is a conflict.
func (s *Service) Approve(ctx context.Context, jobID string) (*queue.MediaJob, error) {
	job, err := s.store.ApproveJob(ctx, jobID)
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		return nil, services.Wrap(services.ErrNotFound, "control", "approve", jobID, err)
	case errors.Is(err, queue.ErrInvalidTransition):
		return job, services.Wrap(services.ErrConflict, "control", "approve", jobID, err)
	case err != nil:
		return nil, services.Wrap(services.ErrTransient, "control", "approve", jobID, err)
	}

	s.publisher.Publish(hub.Message{
		Type:    hub.MessageApprovalChanged,
		EventID: job.EventID,
		Payload: map[string]any{"job_id": job.ID, "approval": job.Approval},
	})
	s.logger.Info("job approved",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldEventID, job.EventID))
	return job, nil
}

func (s *Service) mapTransitionErr(op string, entryID int64, err error) error {
	switch {
	case errors.Is(err, queue.ErrInvalidTransition):
		return services.Wrap(services.ErrConflict, "control", op, "", err)
	case errors.Is(err, queue.ErrJobNotFound):
		return services.Wrap(services.ErrNotFound, "control", op, "", err)
	default:
		return services.Wrap(services.ErrTransient, "control", op, "", err)
	}
}
