package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"gather/internal/api"
	"gather/internal/config"
	"gather/internal/control"
	"gather/internal/hub"
	"gather/internal/identity"
	"gather/internal/intake"
	"gather/internal/logging"
	"gather/internal/notifications"
	"gather/internal/progress"
	"gather/internal/queue"
	"gather/internal/variants"
	"gather/internal/worker"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store

	tracker  *progress.Tracker
	hub      *hub.Hub
	intake   *intake.Service
	control  *control.Service
	identity *identity.Service
	notifier notifications.Service
	pool     *worker.Pool

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	tracker := progress.NewTracker()
	broadcast := hub.New(cfg, &hubAuthenticator{store: store, apiToken: cfg.Paths.APIToken}, logger)
	notifier := notifications.NewService(cfg)
	generator := variants.NewImageGenerator(cfg.Paths.StorageDir)

	// Every progress change reaches subscribers through this one path; the
	// services mutate the tracker and never publish progress themselves.
	tracker.SetListener(func(snap progress.Snapshot) {
		broadcast.Publish(hub.Message{
			Type:    hub.MessageUploadProgress,
			EventID: snap.EventID,
			Payload: snap,
		})
	})

	d := &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:    store,
		tracker:  tracker,
		hub:      broadcast,
		intake:   intake.NewService(cfg, store, tracker, logger),
		control:  control.NewService(cfg, store, tracker, broadcast, logger),
		identity: identity.NewService(cfg, store, logger),
		notifier: notifier,
		pool:     worker.NewPool(cfg, store, tracker, broadcast, generator, notifier, logger),
		lockPath: filepath.Join(cfg.Paths.DataDir, "gatherd.lock"),
	}
	d.lock = flock.New(d.lockPath)

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the worker pool, housekeeping
// loops, and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another gather daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pool.Run(runCtx)
	}()

	maintenance := worker.NewMaintenance(d.cfg, d.store, d.logger)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		maintenance.Run(runCtx)
	}()

	janitor := progress.NewJanitor(
		d.tracker,
		time.Duration(d.cfg.Progress.RetentionMinutes)*time.Minute,
		time.Duration(d.cfg.Progress.SweepIntervalSeconds)*time.Second,
		d.logger,
	)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		janitor.Run(runCtx)
	}()

	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.wg.Wait()
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("gather daemon started",
		logging.String("lock", d.lockPath),
		logging.String("bind", d.api.addr()))
	if err := d.notifier.NotifyDaemonStarted(ctx, d.api.addr()); err != nil {
		d.logger.Debug("startup notification not delivered", logging.Error(err))
	}
	return nil
}

// Stop notifies subscribers, stops background processing, and releases the
// daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	d.hub.Shutdown(shutdownCtx)
	cancel()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("gather daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the API listen address once started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status reports runtime information for the status endpoint and CLI.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	stats, err := d.store.EntryStats(ctx, "")
	if err != nil {
		d.logger.Error("collect queue stats", logging.Error(err))
	}
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		Queue:        api.FromStats(stats),
		TrackedJobs:  d.tracker.Len(),
	}
}
