package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateGuestSession inserts a fresh guest session for an event.
func (s *Store) CreateGuestSession(ctx context.Context, id, eventID string, ttl time.Duration) (*GuestSession, error) {
	if id == "" || eventID == "" {
		return nil, errors.New("session id and event id are required")
	}
	now := time.Now().UTC()
	expires := now.Add(ttl)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guest_sessions (id, event_id, created_at, expires_at)
         VALUES (?, ?, ?, ?)`,
		id, eventID, formatTime(now), formatTime(expires))
	if err != nil {
		return nil, fmt.Errorf("insert guest session: %w", err)
	}
	return &GuestSession{ID: id, EventID: eventID, CreatedAt: now, ExpiresAt: expires}, nil
}

// GetGuestSession fetches a session by identifier. Returns ErrSessionNotFound
// when absent.
func (s *Store) GetGuestSession(ctx context.Context, id string) (*GuestSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, created_at, expires_at, claimed_by, claimed_at
         FROM guest_sessions WHERE id = ?`, id)
	session, err := scanGuestSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get guest session: %w", err)
	}
	return session, nil
}

// TouchGuestSession extends a session's expiry on activity.
func (s *Store) TouchGuestSession(ctx context.Context, id string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE guest_sessions SET expires_at = ? WHERE id = ? AND claimed_by IS NULL`,
		formatTime(time.Now().UTC().Add(ttl)), id)
	if err != nil {
		return fmt.Errorf("touch guest session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ClaimSummary counts what a claim of the given sessions would migrate.
type ClaimSummary struct {
	SessionCount int
	JobCount     int
}

// PreviewClaim reports how many unclaimed jobs the sessions currently own.
func (s *Store) PreviewClaim(ctx context.Context, sessionIDs []string) (ClaimSummary, error) {
	if len(sessionIDs) == 0 {
		return ClaimSummary{}, nil
	}
	args := make([]any, len(sessionIDs))
	for i, id := range sessionIDs {
		args[i] = id
	}
	placeholders := makePlaceholders(len(sessionIDs))

	var summary ClaimSummary
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM guest_sessions WHERE id IN (`+placeholders+`) AND claimed_by IS NULL`,
		args...).Scan(&summary.SessionCount)
	if err != nil {
		return ClaimSummary{}, fmt.Errorf("count claimable sessions: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM media_jobs WHERE guest_session_id IN (`+placeholders+`)`,
		args...).Scan(&summary.JobCount)
	if err != nil {
		return ClaimSummary{}, fmt.Errorf("count claimable jobs: %w", err)
	}
	return summary, nil
}

// ClaimGuestContent migrates every job owned by the given sessions to the
// user in one transaction and records the migration. Sessions already claimed
// by the same user are skipped, which makes a repeated claim a no-op rather
// than an error; a session claimed by a different user fails the whole claim.
func (s *Store) ClaimGuestContent(ctx context.Context, txID, userID, eventID string, sessionIDs []string) (*ClaimTransaction, error) {
	if txID == "" || userID == "" || eventID == "" {
		return nil, errors.New("transaction id, user id and event id are required")
	}
	if len(sessionIDs) == 0 {
		return nil, errors.New("at least one session id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	timestamp := formatTime(now)
	migrated := 0
	claimed := make([]string, 0, len(sessionIDs))

	for _, sessionID := range sessionIDs {
		var (
			sessionEvent string
			claimedBy    sql.NullString
		)
		err := tx.QueryRowContext(ctx,
			`SELECT event_id, claimed_by FROM guest_sessions WHERE id = ?`, sessionID).
			Scan(&sessionEvent, &claimedBy)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", sessionID, err)
		}
		if sessionEvent != eventID {
			return nil, fmt.Errorf("%w: session %s belongs to another event", ErrInvalidTransition, sessionID)
		}
		if claimedBy.Valid {
			if claimedBy.String == userID {
				continue
			}
			return nil, fmt.Errorf("%w: session %s already claimed", ErrInvalidTransition, sessionID)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE media_jobs
             SET user_id = ?, guest_session_id = NULL, updated_at = ?
             WHERE guest_session_id = ?`,
			userID, timestamp, sessionID)
		if err != nil {
			return nil, fmt.Errorf("migrate jobs for session %s: %w", sessionID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		migrated += int(n)

		res, err = tx.ExecContext(ctx,
			`UPDATE guest_sessions SET claimed_by = ?, claimed_at = ?
             WHERE id = ? AND claimed_by IS NULL`,
			userID, timestamp, sessionID)
		if err != nil {
			return nil, fmt.Errorf("mark session %s claimed: %w", sessionID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("%w: session %s already claimed", ErrInvalidTransition, sessionID)
		}
		claimed = append(claimed, sessionID)
	}

	if len(claimed) > 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO claim_transactions (id, user_id, event_id, session_ids, migrated_count, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			txID, userID, eventID, strings.Join(claimed, ","), migrated, timestamp)
		if err != nil {
			return nil, fmt.Errorf("record claim transaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	return &ClaimTransaction{
		ID:            txID,
		UserID:        userID,
		EventID:       eventID,
		SessionIDs:    claimed,
		MigratedCount: migrated,
		CreatedAt:     now,
	}, nil
}

// ClaimsByUser returns the recorded migrations for a user within an event.
func (s *Store) ClaimsByUser(ctx context.Context, userID, eventID string) ([]ClaimTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, event_id, session_ids, migrated_count, created_at
         FROM claim_transactions WHERE user_id = ? AND event_id = ? ORDER BY created_at`,
		userID, eventID)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	var claims []ClaimTransaction
	for rows.Next() {
		var (
			claim      ClaimTransaction
			sessions   string
			createdRaw string
		)
		if err := rows.Scan(&claim.ID, &claim.UserID, &claim.EventID, &sessions, &claim.MigratedCount, &createdRaw); err != nil {
			return nil, err
		}
		if sessions != "" {
			claim.SessionIDs = strings.Split(sessions, ",")
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			claim.CreatedAt = created
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}

func scanGuestSession(scanner interface{ Scan(dest ...any) error }) (*GuestSession, error) {
	var (
		id         string
		eventID    string
		createdRaw string
		expiresRaw string
		claimedBy  sql.NullString
		claimedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &eventID, &createdRaw, &expiresRaw, &claimedBy, &claimedRaw); err != nil {
		return nil, err
	}
	session := &GuestSession{
		ID:        id,
		EventID:   eventID,
		ClaimedBy: claimedBy.String,
		ClaimedAt: parseNullableTime(claimedRaw),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		session.CreatedAt = created
	}
	if expires, err := parseTimeString(expiresRaw); err == nil {
		session.ExpiresAt = expires
	}
	return session, nil
}
