package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const entryColumns = "id, job_id, state, priority, attempts, backoff_until, lease_owner, lease_expires, error_message, enqueued_at, updated_at, finished_at"

// claimAttempts bounds the candidate-selection loop under contention. Each
// losing iteration means another worker won the conditional update, so a few
// retries are enough before reporting an empty queue.
const claimAttempts = 3

// Claim leases the next eligible waiting entry for the given owner. Exactly
// one concurrent caller can win an entry: the transition is a conditional
// UPDATE gated on the waiting state, and losers simply retry against the next
// candidate. Returns nil when no entry is ready.
func (s *Store) Claim(ctx context.Context, owner string, leaseTimeout time.Duration) (*Entry, error) {
	if owner == "" {
		return nil, errors.New("claim owner must not be empty")
	}
	now := time.Now().UTC()

	for i := 0; i < claimAttempts; i++ {
		var candidateID int64
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM queue_entries
             WHERE state = ? AND (backoff_until IS NULL OR backoff_until <= ?)
             ORDER BY priority DESC, enqueued_at
             LIMIT 1`,
			StateWaiting, formatTime(now)).Scan(&candidateID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select claim candidate: %w", err)
		}

		leaseExpires := now.Add(leaseTimeout)
		res, err := s.db.ExecContext(ctx,
			`UPDATE queue_entries
             SET state = ?, lease_owner = ?, lease_expires = ?, backoff_until = NULL, updated_at = ?
             WHERE id = ? AND state = ?`,
			StateActive, owner, formatTime(leaseExpires), formatTime(now), candidateID, StateWaiting)
		if err != nil {
			return nil, fmt.Errorf("claim entry: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 1 {
			return s.GetEntry(ctx, candidateID)
		}
		// Lost the race; another worker claimed the candidate first.
	}
	return nil, nil
}

// RenewLease extends the lease on an active entry held by owner.
func (s *Store) RenewLease(ctx context.Context, entryID int64, owner string, leaseTimeout time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET lease_expires = ?, updated_at = ?
         WHERE id = ? AND state = ? AND lease_owner = ?`,
		formatTime(now.Add(leaseTimeout)), formatTime(now), entryID, StateActive, owner)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: entry %d not held by %s", ErrInvalidTransition, entryID, owner)
	}
	return nil
}

// MarkCompleted finishes an entry the owner holds. Returns
// ErrInvalidTransition when the entry was cancelled or paused underneath the
// worker; the caller must then discard its results.
func (s *Store) MarkCompleted(ctx context.Context, entryID int64, owner string) error {
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries
         SET state = ?, lease_owner = NULL, lease_expires = NULL, error_message = NULL,
             finished_at = ?, updated_at = ?
         WHERE id = ? AND state = ? AND lease_owner = ?`,
		StateCompleted, now, now, entryID, StateActive, owner)
	if err != nil {
		return fmt.Errorf("complete entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: entry %d no longer active for %s", ErrInvalidTransition, entryID, owner)
	}
	return nil
}

// RetryPolicy captures the bounded-backoff schedule for failed executions.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	BackoffCap  time.Duration
}

// Delay returns the backoff before the given 1-based attempt is retried,
// doubling per attempt and saturating at the cap.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.Backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if delay > p.BackoffCap {
		return p.BackoffCap
	}
	return delay
}

// MarkFailed records a failed execution for an entry the owner holds. While
// attempts remain the entry returns to waiting with a backoff; otherwise it
// lands in terminal-until-retried failed. The returned state tells the caller
// which happened.
func (s *Store) MarkFailed(ctx context.Context, entryID int64, owner, message string, policy RetryPolicy) (EntryState, error) {
	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return "", err
	}
	if entry == nil || entry.State != StateActive || entry.LeaseOwner != owner {
		return "", fmt.Errorf("%w: entry %d no longer active for %s", ErrInvalidTransition, entryID, owner)
	}

	attempts := entry.Attempts + 1
	now := time.Now().UTC()

	if attempts < policy.MaxAttempts {
		backoffUntil := now.Add(policy.Delay(attempts))
		res, err := s.db.ExecContext(ctx,
			`UPDATE queue_entries
             SET state = ?, attempts = ?, backoff_until = ?, lease_owner = NULL,
                 lease_expires = NULL, error_message = ?, updated_at = ?
             WHERE id = ? AND state = ? AND lease_owner = ?`,
			StateWaiting, attempts, formatTime(backoffUntil), nullableString(message),
			formatTime(now), entryID, StateActive, owner)
		if err != nil {
			return "", fmt.Errorf("schedule retry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return "", fmt.Errorf("%w: entry %d no longer active for %s", ErrInvalidTransition, entryID, owner)
		}
		return StateWaiting, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries
         SET state = ?, attempts = ?, backoff_until = NULL, lease_owner = NULL,
             lease_expires = NULL, error_message = ?, finished_at = NULL, updated_at = ?
         WHERE id = ? AND state = ? AND lease_owner = ?`,
		StateFailed, attempts, nullableString(message), formatTime(now), entryID, StateActive, owner)
	if err != nil {
		return "", fmt.Errorf("mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("%w: entry %d no longer active for %s", ErrInvalidTransition, entryID, owner)
	}
	return StateFailed, nil
}

// Retry re-enqueues a terminal failed entry with its attempt count reset.
func (s *Store) Retry(ctx context.Context, entryID int64) (*Entry, error) {
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries
         SET state = ?, attempts = 0, backoff_until = NULL, error_message = NULL, updated_at = ?
         WHERE id = ? AND state = ?`,
		StateWaiting, now, entryID, StateFailed)
	if err != nil {
		return nil, fmt.Errorf("retry entry: %w", err)
	}
	return s.afterTransition(ctx, entryID, res, "retry", StateFailed)
}

// Pause takes a waiting or active entry out of scheduling. An active entry's
// worker discovers the pause when its completion update fails and discards
// its results.
func (s *Store) Pause(ctx context.Context, entryID int64) (*Entry, error) {
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries
         SET state = ?, lease_owner = NULL, lease_expires = NULL, updated_at = ?
         WHERE id = ? AND state IN (?, ?)`,
		StatePaused, now, entryID, StateWaiting, StateActive)
	if err != nil {
		return nil, fmt.Errorf("pause entry: %w", err)
	}
	return s.afterTransition(ctx, entryID, res, "pause", StateWaiting, StateActive)
}

// Resume returns a paused entry to the waiting schedule.
func (s *Store) Resume(ctx context.Context, entryID int64) (*Entry, error) {
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		StateWaiting, now, entryID, StatePaused)
	if err != nil {
		return nil, fmt.Errorf("resume entry: %w", err)
	}
	return s.afterTransition(ctx, entryID, res, "resume", StatePaused)
}

// Cancel removes a non-terminal entry from scheduling. Queued entries stop
// immediately; an in-flight worker finishes its current step and then finds
// the entry no longer active, discarding results. Variants already written
// stay.
func (s *Store) Cancel(ctx context.Context, entryID int64, reason string) (*Entry, error) {
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries
         SET state = ?, lease_owner = NULL, lease_expires = NULL, backoff_until = NULL,
             error_message = ?, finished_at = ?, updated_at = ?
         WHERE id = ? AND state IN (?, ?, ?, ?)`,
		StateCancelled, nullableString(reason), now, now, entryID,
		StateWaiting, StateActive, StatePaused, StateFailed)
	if err != nil {
		return nil, fmt.Errorf("cancel entry: %w", err)
	}
	return s.afterTransition(ctx, entryID, res, "cancel", StateWaiting, StateActive, StatePaused, StateFailed)
}

func (s *Store) afterTransition(ctx context.Context, entryID int64, res sql.Result, op string, validFrom ...EntryState) (*Entry, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	entry, getErr := s.GetEntry(ctx, entryID)
	if getErr != nil {
		return nil, getErr
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: entry %d", ErrJobNotFound, entryID)
	}
	if affected == 0 {
		states := make([]string, len(validFrom))
		for i, st := range validFrom {
			states[i] = string(st)
		}
		return entry, fmt.Errorf("%w: cannot %s entry in state %s (requires %s)",
			ErrInvalidTransition, op, entry.State, strings.Join(states, "/"))
	}
	return entry, nil
}

// GetEntry fetches a queue entry by identifier. Returns nil when absent.
func (s *Store) GetEntry(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// EntryByJob fetches the queue entry scheduling a media job.
func (s *Store) EntryByJob(ctx context.Context, jobID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE job_id = ?`, jobID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("entry by job: %w", err)
	}
	return entry, nil
}

// List returns entry views joined with job fields, filtered and paginated for
// the operator API.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]EntryView, error) {
	query := `SELECT e.id, e.job_id, e.state, e.priority, e.attempts, e.backoff_until,
                     e.lease_owner, e.lease_expires, e.error_message, e.enqueued_at,
                     e.updated_at, e.finished_at,
                     j.event_id, j.filename, j.content_type, j.user_id
              FROM queue_entries e
              JOIN media_jobs j ON j.id = e.job_id`
	var (
		conds []string
		args  []any
	)
	if filter.EventID != "" {
		conds = append(conds, "j.event_id = ?")
		args = append(args, filter.EventID)
	}
	if filter.State != "" {
		conds = append(conds, "e.state = ?")
		args = append(args, filter.State)
	}
	switch filter.Uploader {
	case UploaderUser:
		conds = append(conds, "j.user_id IS NOT NULL")
	case UploaderGuest:
		conds = append(conds, "j.guest_session_id IS NOT NULL")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY e.priority DESC, e.enqueued_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var views []EntryView
	for rows.Next() {
		var (
			view        EntryView
			stateStr    string
			backoffRaw  sql.NullString
			ownerRaw    sql.NullString
			leaseRaw    sql.NullString
			errRaw      sql.NullString
			enqueuedRaw string
			updatedRaw  string
			finishedRaw sql.NullString
			userID      sql.NullString
		)
		if err := rows.Scan(
			&view.Entry.ID, &view.Entry.JobID, &stateStr, &view.Entry.Priority,
			&view.Entry.Attempts, &backoffRaw, &ownerRaw, &leaseRaw, &errRaw,
			&enqueuedRaw, &updatedRaw, &finishedRaw,
			&view.EventID, &view.Filename, &view.ContentType, &userID,
		); err != nil {
			return nil, err
		}
		view.Entry.State = EntryState(stateStr)
		view.Entry.BackoffUntil = parseNullableTime(backoffRaw)
		view.Entry.LeaseOwner = ownerRaw.String
		view.Entry.LeaseExpires = parseNullableTime(leaseRaw)
		view.Entry.ErrorMessage = errRaw.String
		view.Entry.FinishedAt = parseNullableTime(finishedRaw)
		if enqueued, err := parseTimeString(enqueuedRaw); err == nil {
			view.Entry.EnqueuedAt = enqueued
		}
		if updated, err := parseTimeString(updatedRaw); err == nil {
			view.Entry.UpdatedAt = updated
		}
		if userID.Valid {
			view.UploaderKind = UploaderUser
		} else {
			view.UploaderKind = UploaderGuest
		}
		views = append(views, view)
	}
	return views, rows.Err()
}

// EntryStats returns a count of entries grouped by state.
func (s *Store) EntryStats(ctx context.Context, eventID string) (Stats, error) {
	query := `SELECT e.state, COUNT(1)
              FROM queue_entries e
              JOIN media_jobs j ON j.id = e.job_id`
	var args []any
	if eventID != "" {
		query += ` WHERE j.event_id = ?`
		args = append(args, eventID)
	}
	query += ` GROUP BY e.state`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("entry stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			stateStr string
			count    int
		)
		if err := rows.Scan(&stateStr, &count); err != nil {
			return Stats{}, err
		}
		stats.Total += count
		switch EntryState(stateStr) {
		case StateWaiting:
			stats.Waiting = count
		case StateActive:
			stats.Active = count
		case StateCompleted:
			stats.Completed = count
		case StateFailed:
			stats.Failed = count
		case StatePaused:
			stats.Paused = count
		case StateCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		id          int64
		jobID       string
		stateStr    string
		priority    int
		attempts    int
		backoffRaw  sql.NullString
		ownerRaw    sql.NullString
		leaseRaw    sql.NullString
		errRaw      sql.NullString
		enqueuedRaw string
		updatedRaw  string
		finishedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id, &jobID, &stateStr, &priority, &attempts, &backoffRaw,
		&ownerRaw, &leaseRaw, &errRaw, &enqueuedRaw, &updatedRaw, &finishedRaw,
	); err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:           id,
		JobID:        jobID,
		State:        EntryState(stateStr),
		Priority:     priority,
		Attempts:     attempts,
		BackoffUntil: parseNullableTime(backoffRaw),
		LeaseOwner:   ownerRaw.String,
		LeaseExpires: parseNullableTime(leaseRaw),
		ErrorMessage: errRaw.String,
		FinishedAt:   parseNullableTime(finishedRaw),
	}
	if enqueued, err := parseTimeString(enqueuedRaw); err == nil {
		entry.EnqueuedAt = enqueued
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		entry.UpdatedAt = updated
	}
	return entry, nil
}
