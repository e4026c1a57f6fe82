package queue

import (
	"strings"
	"time"
)

// EntryState represents the scheduling lifecycle of a queue entry.
type EntryState string

const (
	StateWaiting   EntryState = "waiting"
	StateActive    EntryState = "active"
	StateCompleted EntryState = "completed"
	StateFailed    EntryState = "failed"
	StatePaused    EntryState = "paused"
	StateCancelled EntryState = "cancelled"
)

var allStates = []EntryState{
	StateWaiting,
	StateActive,
	StateCompleted,
	StateFailed,
	StatePaused,
	StateCancelled,
}

var stateSet = func() map[EntryState]struct{} {
	set := make(map[EntryState]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// AllStates returns the ordered list of known entry states.
func AllStates() []EntryState {
	cp := make([]EntryState, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known EntryState.
func ParseState(value string) (EntryState, bool) {
	normalized := EntryState(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a state is final. Terminal entries are never
// scheduled again and are only removed by history clearing.
func (s EntryState) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Approval is the visibility decision attached to a media job at intake.
type Approval string

const (
	ApprovalPending      Approval = "pending"
	ApprovalApproved     Approval = "approved"
	ApprovalAutoApproved Approval = "auto_approved"
)

// UploaderKind distinguishes authenticated and guest ownership for filters.
type UploaderKind string

const (
	UploaderAny   UploaderKind = ""
	UploaderUser  UploaderKind = "user"
	UploaderGuest UploaderKind = "guest"
)

// Priority levels for queue scheduling. Host uploads jump ahead of guest
// bulk imports but never preempt an entry a worker already holds.
const (
	PriorityBulk = 0
	PriorityHost = 10
)

// MediaJob is one uploaded file's lifecycle unit.
type MediaJob struct {
	ID             string
	EventID        string
	UserID         string
	GuestSessionID string
	Filename       string
	DisplayTitle   string
	ContentType    string
	SizeBytes      int64
	Approval       Approval
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GuestOwned reports whether the job is still attributed to a guest session.
func (j *MediaJob) GuestOwned() bool {
	return j != nil && j.GuestSessionID != ""
}

// Entry wraps a media job reference with scheduling metadata.
type Entry struct {
	ID           int64
	JobID        string
	State        EntryState
	Priority     int
	Attempts     int
	BackoffUntil *time.Time
	LeaseOwner   string
	LeaseExpires *time.Time
	ErrorMessage string
	EnqueuedAt   time.Time
	UpdatedAt    time.Time
	FinishedAt   *time.Time
}

// Variant is a derived rendition of a media job's source file. Immutable
// once written.
type Variant struct {
	ID         int64
	JobID      string
	Label      string
	Format     string
	SizeBytes  int64
	Width      int
	Height     int
	StorageKey string
	CreatedAt  time.Time
}

// Variant labels produced by the generator.
const (
	VariantThumbnail = "thumbnail"
	VariantPreview   = "preview"
	VariantFull      = "full"
)

// GuestSession is the ephemeral identity of an unauthenticated contributor.
type GuestSession struct {
	ID        string
	EventID   string
	CreatedAt time.Time
	ExpiresAt time.Time
	ClaimedBy string
	ClaimedAt *time.Time
}

// Claimed reports whether the session's media has been migrated to a user.
func (s *GuestSession) Claimed() bool {
	return s != nil && s.ClaimedBy != ""
}

// Expired reports whether the session has passed its expiry at the given time.
func (s *GuestSession) Expired(now time.Time) bool {
	return s != nil && now.After(s.ExpiresAt)
}

// ClaimTransaction records one guest-to-user migration.
type ClaimTransaction struct {
	ID            string
	UserID        string
	EventID       string
	SessionIDs    []string
	MigratedCount int
	CreatedAt     time.Time
}

// ListFilter selects queue entries for the operator API.
type ListFilter struct {
	EventID  string
	State    EntryState
	Uploader UploaderKind
	Limit    int
	Offset   int
}

// EntryView joins an entry with the identifying fields of its job, shaped for
// operator listings.
type EntryView struct {
	Entry
	EventID      string
	Filename     string
	ContentType  string
	UploaderKind UploaderKind
}

// Stats aggregates entry counts per state.
type Stats struct {
	Total     int
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Paused    int
	Cancelled int
}

// ByState returns the count bucket for a state.
func (s Stats) ByState(state EntryState) int {
	switch state {
	case StateWaiting:
		return s.Waiting
	case StateActive:
		return s.Active
	case StateCompleted:
		return s.Completed
	case StateFailed:
		return s.Failed
	case StatePaused:
		return s.Paused
	case StateCancelled:
		return s.Cancelled
	default:
		return 0
	}
}
