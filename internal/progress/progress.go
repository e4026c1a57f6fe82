// Package progress tracks per-job upload and processing state in memory.
// Snapshots are ephemeral by design: clients reconnecting after a daemon
// restart re-learn state from the queue, not from here.
package progress

import (
	"sync"
	"time"
)

// Stage identifies where a media job sits in its upload lifecycle.
type Stage string

const (
	StageReceived   Stage = "received"
	StageUploading  Stage = "uploading"
	StageUploaded   Stage = "uploaded"
	StageProcessing Stage = "processing"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageReceived:   0,
	StageUploading:  1,
	StageUploaded:   2,
	StageProcessing: 3,
	StageComplete:   4,
}

// Terminal reports whether the stage ends the lifecycle.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// Snapshot is a point-in-time copy of a job's progress.
type Snapshot struct {
	JobID        string    `json:"job_id"`
	EventID      string    `json:"event_id"`
	Stage        Stage     `json:"stage"`
	Percent      float64   `json:"percent"`
	PreviewReady bool      `json:"preview_ready"`
	Message      string    `json:"message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Listener receives every snapshot change. Called outside the tracker lock.
type Listener func(Snapshot)

// Tracker holds live progress for in-flight jobs.
type Tracker struct {
	mu       sync.RWMutex
	jobs     map[string]*Snapshot
	listener Listener
	now      func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		jobs: make(map[string]*Snapshot),
		now:  time.Now,
	}
}

// SetListener registers the single observer notified on every change.
func (t *Tracker) SetListener(listener Listener) {
	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()
}

// Start registers a job at the received stage. Restarting an existing job is
// ignored so duplicate intake notifications cannot rewind progress.
func (t *Tracker) Start(jobID, eventID string) Snapshot {
	t.mu.Lock()
	if existing, ok := t.jobs[jobID]; ok {
		snap := *existing
		t.mu.Unlock()
		return snap
	}
	snap := Snapshot{
		JobID:     jobID,
		EventID:   eventID,
		Stage:     StageReceived,
		UpdatedAt: t.now().UTC(),
	}
	t.jobs[jobID] = &snap
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener(snap)
	}
	return snap
}

// Advance moves a job forward to the given stage. Stages never move backward;
// a stale update from a retrying worker is dropped rather than rewinding what
// clients already saw.
func (t *Tracker) Advance(jobID string, stage Stage) (Snapshot, bool) {
	t.mu.Lock()
	state, ok := t.jobs[jobID]
	if !ok || state.Stage == StageFailed {
		t.mu.Unlock()
		return Snapshot{}, false
	}
	if stageOrder[stage] <= stageOrder[state.Stage] {
		snap := *state
		t.mu.Unlock()
		return snap, false
	}
	state.Stage = stage
	if stage == StageComplete {
		state.Percent = 100
	}
	state.UpdatedAt = t.now().UTC()
	snap := *state
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener(snap)
	}
	return snap, true
}

// SetPercent updates the completion percentage. Values are clamped to
// [0, 100] and never decrease.
func (t *Tracker) SetPercent(jobID string, percent float64) (Snapshot, bool) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	t.mu.Lock()
	state, ok := t.jobs[jobID]
	if !ok || state.Stage.Terminal() || percent <= state.Percent {
		t.mu.Unlock()
		return Snapshot{}, false
	}
	state.Percent = percent
	state.UpdatedAt = t.now().UTC()
	snap := *state
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener(snap)
	}
	return snap, true
}

// MarkPreviewReady flips the preview flag. The flag is independent of stage:
// a preview can become available while processing continues, and it is never
// cleared once set.
func (t *Tracker) MarkPreviewReady(jobID string) (Snapshot, bool) {
	t.mu.Lock()
	state, ok := t.jobs[jobID]
	if !ok || state.PreviewReady {
		t.mu.Unlock()
		return Snapshot{}, false
	}
	state.PreviewReady = true
	state.UpdatedAt = t.now().UTC()
	snap := *state
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener(snap)
	}
	return snap, true
}

// Fail moves a job to the failed stage with a message. Failure is reachable
// from any non-terminal stage.
func (t *Tracker) Fail(jobID, message string) (Snapshot, bool) {
	t.mu.Lock()
	state, ok := t.jobs[jobID]
	if !ok || state.Stage.Terminal() {
		t.mu.Unlock()
		return Snapshot{}, false
	}
	state.Stage = StageFailed
	state.Message = message
	state.UpdatedAt = t.now().UTC()
	snap := *state
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener(snap)
	}
	return snap, true
}

// Get returns the snapshot for a job.
func (t *Tracker) Get(jobID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.jobs[jobID]
	if !ok {
		return Snapshot{}, false
	}
	return *state, true
}

// ByEvent returns snapshots for all tracked jobs in an event.
func (t *Tracker) ByEvent(eventID string) []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var snaps []Snapshot
	for _, state := range t.jobs {
		if state.EventID == eventID {
			snaps = append(snaps, *state)
		}
	}
	return snaps
}

// Len returns the number of tracked jobs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

// Sweep drops terminal snapshots not updated since the cutoff and returns
// how many were removed. Live jobs are never swept regardless of age.
func (t *Tracker) Sweep(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for jobID, state := range t.jobs {
		if state.Stage.Terminal() && state.UpdatedAt.Before(cutoff) {
			delete(t.jobs, jobID)
			removed++
		}
	}
	return removed
}
