package api

import (
	"time"

	"gather/internal/queue"
)

// FromEntry converts a bare queue entry to its API representation.
func FromEntry(entry *queue.Entry) QueueEntry {
	if entry == nil {
		return QueueEntry{}
	}
	dto := QueueEntry{
		ID:           entry.ID,
		JobID:        entry.JobID,
		State:        string(entry.State),
		Priority:     entry.Priority,
		Attempts:     entry.Attempts,
		ErrorMessage: entry.ErrorMessage,
		EnqueuedAt:   FormatTime(entry.EnqueuedAt),
		UpdatedAt:    FormatTime(entry.UpdatedAt),
	}
	if entry.FinishedAt != nil {
		dto.FinishedAt = FormatTime(*entry.FinishedAt)
	}
	return dto
}

// FromEntryView converts a joined entry listing to its API representation.
func FromEntryView(view queue.EntryView) QueueEntry {
	dto := FromEntry(&view.Entry)
	dto.EventID = view.EventID
	dto.Filename = view.Filename
	dto.ContentType = view.ContentType
	dto.Uploader = string(view.UploaderKind)
	return dto
}

// FromEntryViews converts a slice of entry listings into API DTOs.
func FromEntryViews(views []queue.EntryView) []QueueEntry {
	if len(views) == 0 {
		return nil
	}
	out := make([]QueueEntry, 0, len(views))
	for _, view := range views {
		out = append(out, FromEntryView(view))
	}
	return out
}

// FromStats produces a string-keyed representation of queue stats.
func FromStats(stats queue.Stats) QueueStatsResponse {
	counts := make(map[string]int, len(queue.AllStates()))
	for _, state := range queue.AllStates() {
		counts[string(state)] = stats.ByState(state)
	}
	return QueueStatsResponse{Total: stats.Total, Counts: counts}
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
