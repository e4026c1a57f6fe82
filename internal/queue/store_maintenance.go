package queue

import (
	"context"
	"fmt"
	"time"
)

// ReclaimExpiredLeases returns entries whose worker stopped heartbeating to
// the schedule. Each reclaim counts as a failed execution: the entry either
// waits out a backoff or, with attempts exhausted, lands in failed.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, policy RetryPolicy) (int, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attempts FROM queue_entries WHERE state = ? AND lease_expires <= ?`,
		StateActive, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("query expired leases: %w", err)
	}

	type expired struct {
		id       int64
		attempts int
	}
	var stale []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.attempts); err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, e := range stale {
		attempts := e.attempts + 1
		var res interface{ RowsAffected() (int64, error) }
		var execErr error
		if attempts < policy.MaxAttempts {
			res, execErr = s.db.ExecContext(ctx,
				`UPDATE queue_entries
                 SET state = ?, attempts = ?, backoff_until = ?, lease_owner = NULL,
                     lease_expires = NULL, error_message = ?, updated_at = ?
                 WHERE id = ? AND state = ? AND lease_expires <= ?`,
				StateWaiting, attempts, formatTime(now.Add(policy.Delay(attempts))),
				"lease expired", formatTime(now), e.id, StateActive, formatTime(now))
		} else {
			res, execErr = s.db.ExecContext(ctx,
				`UPDATE queue_entries
                 SET state = ?, attempts = ?, backoff_until = NULL, lease_owner = NULL,
                     lease_expires = NULL, error_message = ?, updated_at = ?
                 WHERE id = ? AND state = ? AND lease_expires <= ?`,
				StateFailed, attempts, "lease expired", formatTime(now), e.id, StateActive, formatTime(now))
		}
		if execErr != nil {
			return reclaimed, fmt.Errorf("reclaim entry %d: %w", e.id, execErr)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			reclaimed++
		}
	}
	return reclaimed, nil
}

// ClearHistory deletes terminal entries that finished before the cutoff. The
// media jobs themselves stay; only the scheduling record is trimmed.
func (s *Store) ClearHistory(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_entries
         WHERE state IN (?, ?) AND finished_at IS NOT NULL AND finished_at <= ?`,
		StateCompleted, StateCancelled, formatTime(olderThan.UTC()))
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// PurgeExpiredSessions removes unclaimed guest sessions past their expiry
// that no longer own any jobs. Sessions still owning media are kept so the
// ownership constraint on jobs holds.
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM guest_sessions
         WHERE claimed_by IS NULL AND expires_at <= ?
           AND id NOT IN (SELECT guest_session_id FROM media_jobs WHERE guest_session_id IS NOT NULL)`,
		formatTime(time.Now().UTC()))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// CheckHealth verifies the database answers a trivial query.
func (s *Store) CheckHealth(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}
