package intake_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"gather/internal/approval"
	"gather/internal/config"
	"gather/internal/intake"
	"gather/internal/progress"
	"gather/internal/queue"
	"gather/internal/testsupport"
)

// snapshotLog captures what the tracker's listener would broadcast.
type snapshotLog struct {
	mu    sync.Mutex
	snaps []progress.Snapshot
}

func (l *snapshotLog) record(snap progress.Snapshot) {
	l.mu.Lock()
	l.snaps = append(l.snaps, snap)
	l.mu.Unlock()
}

func (l *snapshotLog) all() []progress.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]progress.Snapshot(nil), l.snaps...)
}

func newService(t *testing.T, opts ...testsupport.ConfigOption) (*intake.Service, *queue.Store, *progress.Tracker, *snapshotLog) {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	tracker := progress.NewTracker()
	log := &snapshotLog{}
	tracker.SetListener(log.record)
	svc := intake.NewService(cfg, store, tracker, nil)
	return svc, store, tracker, log
}

func upload(name, contentType, content string) intake.FileUpload {
	return intake.FileUpload{
		Filename:    name,
		ContentType: contentType,
		SizeBytes:   int64(len(content)),
		Content:     bytes.NewReader([]byte(content)),
	}
}

func TestProcessBatchSchedulesHostUpload(t *testing.T) {
	svc, store, tracker, log := newService(t)

	result, err := svc.ProcessBatch(context.Background(), intake.BatchRequest{
		EventID:  "event-1",
		UserID:   "user-1",
		Uploader: approval.Uploader{Role: approval.RoleHost},
		Policy:   approval.Policy{RequireApproval: true},
		Files:    []intake.FileUpload{upload("party.jpg", "image/jpeg", "jpeg-bytes")},
	})
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if len(result.Files) != 1 || result.Files[0].Err != "" {
		t.Fatalf("unexpected batch result: %#v", result)
	}

	file := result.Files[0]
	if file.Approval != queue.ApprovalAutoApproved {
		t.Fatalf("host upload must be auto approved, got %s", file.Approval)
	}
	if file.PreviewLocator == "" {
		t.Fatal("expected a preview locator")
	}

	entry, err := store.EntryByJob(context.Background(), file.JobID)
	if err != nil || entry == nil {
		t.Fatalf("expected queue entry: %v %#v", err, entry)
	}
	if entry.Priority != queue.PriorityHost || entry.State != queue.StateWaiting {
		t.Fatalf("unexpected entry: %#v", entry)
	}

	snap, ok := tracker.Get(file.JobID)
	if !ok || snap.Stage != progress.StageUploaded {
		t.Fatalf("unexpected progress snapshot: %#v", snap)
	}

	snaps := log.all()
	if len(snaps) == 0 {
		t.Fatal("expected progress notifications through the listener")
	}
	last := snaps[len(snaps)-1]
	if last.JobID != file.JobID || last.EventID != "event-1" || last.Stage != progress.StageUploaded {
		t.Fatalf("unexpected final notification: %#v", last)
	}
}

func TestValidationFailureDoesNotAbortSiblings(t *testing.T) {
	svc, _, _, log := newService(t)

	result, err := svc.ProcessBatch(context.Background(), intake.BatchRequest{
		EventID:  "event-1",
		UserID:   "user-1",
		Uploader: approval.Uploader{Role: approval.RoleHost},
		Files: []intake.FileUpload{
			upload("good.jpg", "image/jpeg", "ok"),
			upload("bad.exe", "application/x-msdownload", "nope"),
			upload("also-good.png", "image/png", "ok"),
		},
	})
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if len(result.Files) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result.Files))
	}
	if result.Files[0].Err != "" || result.Files[2].Err != "" {
		t.Fatalf("sibling files must succeed: %#v", result.Files)
	}
	if result.Files[1].Err == "" || result.Files[1].JobID != "" {
		t.Fatalf("expected per-file rejection: %#v", result.Files[1])
	}
	tracked := map[string]bool{}
	for _, snap := range log.all() {
		tracked[snap.JobID] = true
	}
	if len(tracked) != 2 {
		t.Fatalf("expected notifications for 2 jobs, got %d", len(tracked))
	}
}

func TestOversizeStreamRejectedDuringSpool(t *testing.T) {
	svc, store, _, _ := newService(t, func(cfg *config.Config) {
		cfg.Uploads.MaxFileMiB = 1
	})

	// Declared size fits the limit but the stream does not.
	big := strings.Repeat("x", 1<<20+16)
	file := intake.FileUpload{
		Filename:    "liar.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   128,
		Content:     bytes.NewReader([]byte(big)),
	}

	result, err := svc.ProcessBatch(context.Background(), intake.BatchRequest{
		EventID:  "event-1",
		UserID:   "user-1",
		Uploader: approval.Uploader{Role: approval.RoleHost},
		Files:    []intake.FileUpload{file},
	})
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Files[0].Err == "" || result.Files[0].JobID != "" {
		t.Fatalf("expected oversize stream rejection: %#v", result.Files[0])
	}

	jobs, err := store.JobsByEvent(context.Background(), "event-1")
	if err != nil {
		t.Fatalf("JobsByEvent failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("rejected upload must not create a job, got %d", len(jobs))
	}
}

func TestDeclaredOversizeRejectedBeforeSpool(t *testing.T) {
	svc, _, _, _ := newService(t, func(cfg *config.Config) {
		cfg.Uploads.MaxFileMiB = 1
	})

	file := intake.FileUpload{
		Filename:    "huge.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   10 << 20,
		Content:     bytes.NewReader([]byte("tiny")),
	}
	result, err := svc.ProcessBatch(context.Background(), intake.BatchRequest{
		EventID:  "event-1",
		UserID:   "user-1",
		Uploader: approval.Uploader{Role: approval.RoleHost},
		Files:    []intake.FileUpload{file},
	})
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Files[0].Err == "" {
		t.Fatalf("expected declared-size rejection: %#v", result.Files[0])
	}
}

func TestGuestSessionCreatedLazilyAndReused(t *testing.T) {
	svc, store, _, _ := newService(t)

	first, err := svc.ProcessBatch(context.Background(), intake.BatchRequest{
		EventID:  "event-1",
		Uploader: approval.Uploader{Role: approval.RoleGuest},
		Policy:   approval.Policy{RequireApproval: true},
		Files:    []intake.FileUpload{upload("guest1.jpg", "image/jpeg", "a")},
	})
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if first.GuestSessionID == "" {
		t.Fatal("expected lazily created guest session")
	}
	if first.Files[0].Approval != queue.ApprovalPending {
		t.Fatalf("moderated guest upload must be pending, got %s", first.Files[0].Approval)
	}

	second, err := svc.ProcessBatch(context.Background(), intake.BatchRequest{
		EventID:        "event-1",
		GuestSessionID: first.GuestSessionID,
		Uploader:       approval.Uploader{Role: approval.RoleGuest},
		Policy:         approval.Policy{RequireApproval: true},
		Files:          []intake.FileUpload{upload("guest2.jpg", "image/jpeg", "b")},
	})
	if err != nil {
		t.Fatalf("second ProcessBatch failed: %v", err)
	}
	if second.GuestSessionID != first.GuestSessionID {
		t.Fatalf("expected session reuse, got %s and %s", first.GuestSessionID, second.GuestSessionID)
	}

	session, err := store.GetGuestSession(context.Background(), first.GuestSessionID)
	if err != nil {
		t.Fatalf("GetGuestSession failed: %v", err)
	}
	if session.Expired(time.Now()) {
		t.Fatal("session must have a future expiry")
	}

	jobs, err := store.JobsByEvent(context.Background(), "event-1")
	if err != nil {
		t.Fatalf("JobsByEvent failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 guest jobs, got %d", len(jobs))
	}
	for _, job := range jobs {
		if job.GuestSessionID != first.GuestSessionID {
			t.Fatalf("job not owned by session: %#v", job)
		}
	}
}

func TestGuestSessionFromAnotherEventRejected(t *testing.T) {
	svc, store, _, _ := newService(t)

	session, err := store.CreateGuestSession(context.Background(), "session-other", "event-2", time.Hour)
	if err != nil {
		t.Fatalf("CreateGuestSession failed: %v", err)
	}

	_, err = svc.ProcessBatch(context.Background(), intake.BatchRequest{
		EventID:        "event-1",
		GuestSessionID: session.ID,
		Uploader:       approval.Uploader{Role: approval.RoleGuest},
		Files:          []intake.FileUpload{upload("x.jpg", "image/jpeg", "a")},
	})
	if err == nil {
		t.Fatal("expected cross-event session to be rejected")
	}
}

func TestAmbiguousUploaderRejected(t *testing.T) {
	svc, _, _, _ := newService(t)

	_, err := svc.ProcessBatch(context.Background(), intake.BatchRequest{
		EventID:        "event-1",
		UserID:         "user-1",
		GuestSessionID: "session-1",
		Files:          []intake.FileUpload{upload("x.jpg", "image/jpeg", "a")},
	})
	if err == nil {
		t.Fatal("expected ambiguous uploader to be rejected")
	}
}
