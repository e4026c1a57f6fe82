// Package identity manages guest sessions and the reconciliation of
// guest-owned media to authenticated accounts. Possession of a guest session
// token scopes media for later claiming; it is never treated as proof of
// identity, so every claim is authorized against the authenticated user
// independently.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gather/internal/config"
	"gather/internal/logging"
	"gather/internal/queue"
	"gather/internal/services"
)

// SessionSummary describes what a claim would migrate per session.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	JobCount  int    `json:"job_count"`
	Claimed   bool   `json:"claimed"`
}

// ClaimSummary is the non-mutating answer to "what would claiming do".
type ClaimSummary struct {
	EventID  string           `json:"event_id"`
	Sessions []SessionSummary `json:"sessions"`
	Total    int              `json:"total"`
}

// ClaimResult reports a completed migration.
type ClaimResult struct {
	TransactionID string   `json:"transaction_id"`
	MigratedCount int      `json:"migrated_count"`
	SessionIDs    []string `json:"session_ids"`
}

// Service exposes guest session issuance and claiming.
type Service struct {
	store  *queue.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewService builds the identity service.
func NewService(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:  store,
		ttl:    time.Duration(cfg.Guests.SessionTTLDays) * 24 * time.Hour,
		logger: logger.With(logging.String(logging.FieldComponent, "identity")),
	}
}

// IssueSession creates a fresh guest session for an event.
func (s *Service) IssueSession(ctx context.Context, eventID string) (*queue.GuestSession, error) {
	if eventID == "" {
		return nil, services.Wrap(services.ErrValidation, "identity", "issue session", "event id is required", nil)
	}
	session, err := s.store.CreateGuestSession(ctx, uuid.NewString(), eventID, s.ttl)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "identity", "issue session", "", err)
	}
	return session, nil
}

// GetClaimSummary computes how many guest-owned jobs each session would hand
// to the user, without mutating anything.
func (s *Service) GetClaimSummary(ctx context.Context, userID, eventID string, sessionIDs []string) (*ClaimSummary, error) {
	if userID == "" {
		return nil, services.Wrap(services.ErrUnauthorized, "identity", "claim summary", "authenticated user required", nil)
	}
	if eventID == "" {
		return nil, services.Wrap(services.ErrValidation, "identity", "claim summary", "event id is required", nil)
	}

	summary := &ClaimSummary{EventID: eventID}
	for _, sessionID := range sessionIDs {
		session, err := s.store.GetGuestSession(ctx, sessionID)
		if errors.Is(err, queue.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "identity", "claim summary", sessionID, err)
		}
		if session.EventID != eventID {
			continue
		}

		preview, err := s.store.PreviewClaim(ctx, []string{sessionID})
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "identity", "claim summary", sessionID, err)
		}
		summary.Sessions = append(summary.Sessions, SessionSummary{
			SessionID: sessionID,
			JobCount:  preview.JobCount,
			Claimed:   session.Claimed(),
		})
		summary.Total += preview.JobCount
	}
	return summary, nil
}

// ClaimGuestContent migrates the sessions' media to the authenticated user.
// Re-claiming an already-migrated session yields a zero-count success; a
// session claimed by someone else is a conflict.
func (s *Service) ClaimGuestContent(ctx context.Context, userID, eventID string, sessionIDs []string) (*ClaimResult, error) {
	if userID == "" {
		return nil, services.Wrap(services.ErrUnauthorized, "identity", "claim", "authenticated user required", nil)
	}
	if eventID == "" || len(sessionIDs) == 0 {
		return nil, services.Wrap(services.ErrValidation, "identity", "claim", "event id and session ids are required", nil)
	}

	txID := uuid.NewString()
	claim, err := s.store.ClaimGuestContent(ctx, txID, userID, eventID, sessionIDs)
	switch {
	case errors.Is(err, queue.ErrSessionNotFound):
		return nil, services.Wrap(services.ErrNotFound, "identity", "claim", "unknown guest session", err)
	case errors.Is(err, queue.ErrInvalidTransition):
		return nil, services.Wrap(services.ErrConflict, "identity", "claim", "", err)
	case err != nil:
		return nil, services.Wrap(services.ErrTransient, "identity", "claim", "", err)
	}

	s.logger.Info("guest content claimed",
		logging.String(logging.FieldEventID, eventID),
		logging.String("user_id", userID),
		logging.Int("migrated", claim.MigratedCount),
		logging.Int("sessions", len(claim.SessionIDs)))

	return &ClaimResult{
		TransactionID: claim.ID,
		MigratedCount: claim.MigratedCount,
		SessionIDs:    claim.SessionIDs,
	}, nil
}
