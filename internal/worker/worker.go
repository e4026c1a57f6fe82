// Package worker runs the pool that drains the processing queue. Each worker
// claims one entry at a time under a lease, renders variants, and reports
// results back to the queue, the progress tracker, and the broadcast hub.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"gather/internal/config"
	"gather/internal/hub"
	"gather/internal/logging"
	"gather/internal/progress"
	"gather/internal/queue"
	"gather/internal/services"
	"gather/internal/variants"
)

// Publisher pushes real-time notifications; satisfied by *hub.Hub.
type Publisher interface {
	Publish(hub.Message)
}

// Notifier reports terminal job failures to an external channel. May be nil.
type Notifier interface {
	NotifyJobFailed(ctx context.Context, job *queue.MediaJob, reason string) error
}

// Pool owns the worker goroutines.
type Pool struct {
	cfg       *config.Config
	store     *queue.Store
	tracker   *progress.Tracker
	publisher Publisher
	generator variants.Generator
	notifier  Notifier
	logger    *slog.Logger

	pollInterval time.Duration
	leaseTimeout time.Duration
	policy       queue.RetryPolicy
	instance     string
}

// NewPool builds a pool from configuration.
func NewPool(cfg *config.Config, store *queue.Store, tracker *progress.Tracker, publisher Publisher, generator variants.Generator, notifier Notifier, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "gather"
	}
	return &Pool{
		cfg:          cfg,
		store:        store,
		tracker:      tracker,
		publisher:    publisher,
		generator:    generator,
		notifier:     notifier,
		logger:       logger.With(logging.String(logging.FieldComponent, "worker")),
		pollInterval: time.Duration(cfg.Workers.PollIntervalSeconds) * time.Second,
		leaseTimeout: time.Duration(cfg.Workers.LeaseTimeoutSeconds) * time.Second,
		policy: queue.RetryPolicy{
			MaxAttempts: cfg.Workers.MaxAttempts,
			Backoff:     time.Duration(cfg.Workers.RetryBackoffSeconds) * time.Second,
			BackoffCap:  time.Duration(cfg.Workers.RetryBackoffCapSeconds) * time.Second,
		},
		instance: fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
	}
}

// Run starts the configured number of workers and blocks until the context is
// cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers.Count; i++ {
		wg.Add(1)
		owner := fmt.Sprintf("%s-w%d", p.instance, i)
		go func() {
			defer wg.Done()
			p.runWorker(ctx, owner)
		}()
	}
	p.logger.Info("worker pool started",
		logging.Int("workers", p.cfg.Workers.Count),
		logging.String("instance", p.instance))
	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, owner string) {
	logger := p.logger.With(logging.String("owner", owner))
	for {
		if ctx.Err() != nil {
			return
		}
		entry, err := p.store.Claim(ctx, owner, p.leaseTimeout)
		if err != nil {
			logger.Error("claim failed", logging.Error(err))
			if !sleepCtx(ctx, p.pollInterval) {
				return
			}
			continue
		}
		if entry == nil {
			if !sleepCtx(ctx, p.pollInterval) {
				return
			}
			continue
		}
		p.processEntry(ctx, logger, owner, entry)
	}
}

// processEntry runs one claimed entry end to end. A panic inside variant
// generation is contained to this job; the pool keeps running.
func (p *Pool) processEntry(ctx context.Context, logger *slog.Logger, owner string, entry *queue.Entry) {
	logger = logger.With(logging.String(logging.FieldJobID, entry.JobID))

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeat(heartbeatCtx, logger, owner, entry.ID)

	var jobErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				jobErr = fmt.Errorf("panic during processing: %v", r)
				logger.Error("worker panic recovered", logging.Any("panic", r))
			}
		}()
		jobErr = p.execute(ctx, logger, owner, entry)
	}()
	stopHeartbeat()

	if jobErr == nil {
		return
	}
	p.handleFailure(ctx, logger, owner, entry, jobErr)
}

func (p *Pool) execute(ctx context.Context, logger *slog.Logger, owner string, entry *queue.Entry) error {
	job, err := p.store.GetJob(ctx, entry.JobID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "worker", "load job", "", err)
	}

	// The tracker's listener broadcasts stage changes; only the typed
	// preview and completion events are published from here.
	p.tracker.Start(job.ID, job.EventID)
	p.tracker.Advance(job.ID, progress.StageProcessing)

	src := variants.Source{
		JobID:       job.ID,
		EventID:     job.EventID,
		Path:        filepath.Join(p.cfg.Paths.StorageDir, variants.SourceKey(job.EventID, job.ID)),
		ContentType: job.ContentType,
	}

	// The preview is an independent early signal; its failure does not fail
	// the job as long as the full render succeeds.
	if preview, err := p.generator.GeneratePreview(ctx, src); err == nil {
		if err := p.store.AddVariants(ctx, job.ID, []queue.Variant{preview}); err != nil {
			logger.Warn("record preview variant", logging.Error(err))
		} else if previewSnap, ok := p.tracker.MarkPreviewReady(job.ID); ok {
			p.publisher.Publish(hub.Message{Type: hub.MessagePreviewReady, EventID: job.EventID, Payload: previewSnap})
		}
	} else {
		logger.Debug("preview generation skipped", logging.Error(err))
	}

	results, err := p.generator.Generate(ctx, src)
	if err != nil {
		if errors.Is(err, variants.ErrUnsupportedMedia) {
			return services.Wrap(services.ErrValidation, "worker", "generate variants", "", err)
		}
		return err
	}
	if err := p.store.AddVariants(ctx, job.ID, results); err != nil {
		return services.Wrap(services.ErrTransient, "worker", "record variants", "", err)
	}

	if err := p.store.MarkCompleted(ctx, entry.ID, owner); err != nil {
		// The entry was cancelled or paused underneath us; the variants
		// already written stay, everything else is discarded.
		logger.Warn("completion discarded", logging.Error(err))
		return nil
	}

	done, _ := p.tracker.Advance(job.ID, progress.StageComplete)
	p.publisher.Publish(hub.Message{Type: hub.MessageProcessingComplete, EventID: job.EventID, Payload: struct {
		progress.Snapshot
		Variants []queue.Variant `json:"variants"`
	}{done, results}})

	logger.Info("job completed",
		logging.String(logging.FieldEventID, job.EventID),
		logging.Int("variants", len(results)))
	return nil
}

func (p *Pool) handleFailure(ctx context.Context, logger *slog.Logger, owner string, entry *queue.Entry, jobErr error) {
	policy := p.policy
	if !services.Retryable(jobErr) {
		// Deterministic failures go terminal immediately.
		policy.MaxAttempts = 0
	}

	state, err := p.store.MarkFailed(ctx, entry.ID, owner, jobErr.Error(), policy)
	if err != nil {
		logger.Warn("failure result discarded", logging.Error(err))
		return
	}

	job, getErr := p.store.GetJob(ctx, entry.JobID)
	if getErr != nil {
		logger.Error("load job after failure", logging.Error(getErr))
		return
	}

	if state == queue.StateWaiting {
		logger.Warn("job failed, retry scheduled",
			logging.Int("attempt", entry.Attempts+1),
			logging.Error(jobErr))
		return
	}

	logger.Error("job failed terminally", logging.Error(jobErr))
	if err := p.store.SetJobError(ctx, job.ID, jobErr.Error()); err != nil {
		logger.Error("record job error", logging.Error(err))
	}
	p.tracker.Fail(job.ID, jobErr.Error())
	if p.notifier != nil {
		if err := p.notifier.NotifyJobFailed(ctx, job, jobErr.Error()); err != nil {
			logger.Warn("failure notification not delivered", logging.Error(err))
		}
	}
}

// heartbeat renews the lease while the entry is being processed.
func (p *Pool) heartbeat(ctx context.Context, logger *slog.Logger, owner string, entryID int64) {
	interval := p.leaseTimeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.RenewLease(ctx, entryID, owner, p.leaseTimeout); err != nil {
				logger.Debug("lease renewal stopped", logging.Error(err))
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
