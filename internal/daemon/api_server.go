package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"gather/internal/config"
	"gather/internal/logging"
	"gather/internal/services"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("paths.api_bind is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	srv := &apiServer{
		bind:   bind,
		token:  cfg.Paths.APIToken,
		logger: logger.With(logging.String(logging.FieldComponent, "api")),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /ws", d.hub.HandleWS)
	mux.HandleFunc("GET /api/status", srv.protected(srv.handleStatus))
	mux.HandleFunc("POST /api/events/{event}/uploads", srv.handleUploads)
	mux.HandleFunc("POST /api/events/{event}/sessions", srv.handleIssueSession)
	mux.HandleFunc("GET /api/queue", srv.protected(srv.handleQueueList))
	mux.HandleFunc("GET /api/queue/stats", srv.protected(srv.handleQueueStats))
	mux.HandleFunc("POST /api/queue/{id}/retry", srv.protected(srv.entryAction("retry")))
	mux.HandleFunc("POST /api/queue/{id}/pause", srv.protected(srv.entryAction("pause")))
	mux.HandleFunc("POST /api/queue/{id}/resume", srv.protected(srv.entryAction("resume")))
	mux.HandleFunc("POST /api/queue/{id}/cancel", srv.protected(srv.entryAction("cancel")))
	mux.HandleFunc("DELETE /api/queue/history", srv.protected(srv.handleClearHistory))
	mux.HandleFunc("GET /api/media/{job}/source", srv.handleMediaSource)
	mux.HandleFunc("POST /api/media/{job}/approve", srv.protected(srv.handleApprove))
	mux.HandleFunc("GET /api/claims/summary", srv.protected(srv.handleClaimSummary))
	mux.HandleFunc("POST /api/claims", srv.protected(srv.handleClaim))

	// No global read/write timeouts: uploads are large and websocket
	// connections are long-lived. The header timeout still bounds slowloris.
	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) protected(next http.HandlerFunc) http.HandlerFunc {
	return authMiddleware(s.token, next)
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode api response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the service error taxonomy onto HTTP status codes.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		s.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.store.CheckHealth(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}
