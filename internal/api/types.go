package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueEntry describes a queue entry in a transport-friendly format. Job
// fields are present only when the entry was listed with its job joined.
type QueueEntry struct {
	ID           int64  `json:"id"`
	JobID        string `json:"jobId"`
	EventID      string `json:"eventId,omitempty"`
	Filename     string `json:"filename,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	Uploader     string `json:"uploader,omitempty"`
	State        string `json:"state"`
	Priority     int    `json:"priority"`
	Attempts     int    `json:"attempts"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	EnqueuedAt   string `json:"enqueuedAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
	FinishedAt   string `json:"finishedAt,omitempty"`
}

// QueueListResponse wraps a collection of queue entries for API responses.
type QueueListResponse struct {
	Entries []QueueEntry `json:"entries"`
}

// QueueEntryResponse wraps a single queue entry.
type QueueEntryResponse struct {
	Entry QueueEntry `json:"entry"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
}

// ApprovalResponse reports a job's approval state after a decision.
type ApprovalResponse struct {
	JobID    string `json:"jobId"`
	Approval string `json:"approval"`
}

// ClaimRequest migrates guest-session media to the authenticated caller. The
// target user is taken from the request credential, not from the payload.
type ClaimRequest struct {
	EventID    string   `json:"event_id"`
	SessionIDs []string `json:"session_ids"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Queue        QueueStatsResponse `json:"queue"`
	TrackedJobs  int                `json:"trackedJobs"`
}
