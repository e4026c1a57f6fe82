package api_test

import (
	"testing"
	"time"

	"gather/internal/api"
	"gather/internal/queue"
)

func TestFromEntryViewCarriesJobFields(t *testing.T) {
	finished := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	view := queue.EntryView{
		Entry: queue.Entry{
			ID:         42,
			JobID:      "job-1",
			State:      queue.StateCompleted,
			Priority:   queue.PriorityHost,
			Attempts:   1,
			EnqueuedAt: finished.Add(-time.Minute),
			UpdatedAt:  finished,
			FinishedAt: &finished,
		},
		EventID:      "event-1",
		Filename:     "beach.jpg",
		ContentType:  "image/jpeg",
		UploaderKind: queue.UploaderUser,
	}

	dto := api.FromEntryView(view)
	if dto.ID != 42 || dto.JobID != "job-1" {
		t.Fatalf("unexpected identifiers: %+v", dto)
	}
	if dto.State != "completed" || dto.Uploader != "user" {
		t.Fatalf("unexpected state mapping: %+v", dto)
	}
	if dto.EventID != "event-1" || dto.Filename != "beach.jpg" {
		t.Fatalf("job fields missing: %+v", dto)
	}
	if dto.FinishedAt == "" || dto.EnqueuedAt == "" {
		t.Fatalf("timestamps missing: %+v", dto)
	}
}

func TestFromEntryNilYieldsZero(t *testing.T) {
	if dto := api.FromEntry(nil); dto.ID != 0 || dto.State != "" {
		t.Fatalf("expected zero DTO, got %+v", dto)
	}
}

func TestFromStatsCoversAllStates(t *testing.T) {
	stats := queue.Stats{Total: 5, Waiting: 2, Active: 1, Failed: 2}
	resp := api.FromStats(stats)
	if resp.Total != 5 {
		t.Fatalf("total = %d, want 5", resp.Total)
	}
	for _, state := range queue.AllStates() {
		if _, ok := resp.Counts[string(state)]; !ok {
			t.Fatalf("counts missing state %q", state)
		}
	}
	if resp.Counts["waiting"] != 2 || resp.Counts["failed"] != 2 {
		t.Fatalf("unexpected counts: %+v", resp.Counts)
	}
}

func TestFormatTimeZero(t *testing.T) {
	if got := api.FormatTime(time.Time{}); got != "" {
		t.Fatalf("zero time formatted as %q", got)
	}
}
