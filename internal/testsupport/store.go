package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"gather/internal/config"
	"gather/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewUserJob creates a user-owned media job with a waiting entry for tests.
func NewUserJob(t testing.TB, store *queue.Store, eventID, filename string) (*queue.MediaJob, *queue.Entry) {
	t.Helper()

	job, entry, err := store.CreateJob(context.Background(), queue.NewJobParams{
		ID:          uuid.NewString(),
		EventID:     eventID,
		UserID:      "user-" + uuid.NewString()[:8],
		Filename:    filename,
		ContentType: "image/jpeg",
		SizeBytes:   1024,
		Approval:    queue.ApprovalAutoApproved,
		Priority:    queue.PriorityHost,
	})
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job, entry
}

// NewGuestJob creates a guest-owned media job bound to the given session.
func NewGuestJob(t testing.TB, store *queue.Store, eventID, sessionID, filename string) (*queue.MediaJob, *queue.Entry) {
	t.Helper()

	job, entry, err := store.CreateJob(context.Background(), queue.NewJobParams{
		ID:             uuid.NewString(),
		EventID:        eventID,
		GuestSessionID: sessionID,
		Filename:       filename,
		ContentType:    "image/jpeg",
		SizeBytes:      2048,
		Approval:       queue.ApprovalPending,
		Priority:       queue.PriorityBulk,
	})
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job, entry
}
