// Package approval decides whether uploaded media is immediately visible or
// held for host review.
package approval

import "gather/internal/queue"

// Role describes the uploader's relationship to the event.
type Role string

const (
	RoleHost   Role = "host"
	RoleCoHost Role = "cohost"
	RoleMember Role = "member"
	RoleGuest  Role = "guest"
)

// Uploader is the identity snapshot taken at intake.
type Uploader struct {
	Role Role
	// CanApprove marks a co-host granted the approval capability. Ignored
	// for other roles.
	CanApprove bool
}

// Policy is the event's moderation setting snapshot taken at intake.
type Policy struct {
	RequireApproval bool
}

// Decide computes the approval state for a new media job. The decision is
// evaluated exactly once at intake against the supplied snapshots; a later
// policy change never reaches back into already-decided jobs.
func Decide(uploader Uploader, policy Policy) queue.Approval {
	if uploader.Role == RoleHost {
		return queue.ApprovalAutoApproved
	}
	if uploader.Role == RoleCoHost && uploader.CanApprove {
		return queue.ApprovalAutoApproved
	}
	if !policy.RequireApproval {
		return queue.ApprovalAutoApproved
	}
	return queue.ApprovalPending
}
