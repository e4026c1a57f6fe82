package daemon

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"gather/internal/queue"
)

// authMiddleware returns a middleware that validates bearer tokens.
// If token is empty, no authentication is required and all requests pass
// through. Otherwise, requests must include "Authorization: Bearer <token>".
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if strings.TrimPrefix(auth, "Bearer ") != token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// hubAuthenticator gates websocket subscriptions. The operator token joins
// any event; a guest session token joins only the event it was issued for.
type hubAuthenticator struct {
	store    *queue.Store
	apiToken string
}

func (a *hubAuthenticator) Authenticate(ctx context.Context, token, eventID string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("missing token")
	}
	if a.apiToken != "" && token == a.apiToken {
		return "operator", nil
	}

	session, err := a.store.GetGuestSession(ctx, token)
	if err != nil {
		return "", errors.New("unknown token")
	}
	if session.EventID != eventID {
		return "", errors.New("token not valid for event")
	}
	if session.Expired(time.Now()) {
		return "", errors.New("session expired")
	}
	return "guest:" + session.ID, nil
}
