package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"gather/internal/api"
	"gather/internal/approval"
	"gather/internal/intake"
	"gather/internal/logging"
	"gather/internal/queue"
	"gather/internal/variants"
)

// guestSessionCookie carries the opaque guest session id between uploads. It
// scopes guest-owned media for later claiming and is never proof of identity.
const guestSessionCookie = "gather_guest_session"

// userHeader names the authenticated user identity asserted by the upstream
// gateway. The claim routes sit behind the API bearer token, so the header is
// only accepted from callers that already hold the shared credential.
const userHeader = "X-Gather-User"

func (s *apiServer) handleUploads(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event")

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed multipart request: "+err.Error())
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	req := intake.BatchRequest{
		EventID: eventID,
		UserID:  strings.TrimSpace(r.FormValue("user_id")),
		Uploader: approval.Uploader{
			Role:       approval.Role(strings.TrimSpace(r.FormValue("uploader_role"))),
			CanApprove: r.FormValue("can_approve") == "true",
		},
		Policy: approval.Policy{RequireApproval: r.FormValue("require_approval") == "true"},
	}
	if req.Uploader.Role == "" {
		req.Uploader.Role = approval.RoleGuest
	}
	if req.UserID == "" {
		req.GuestSessionID = strings.TrimSpace(r.FormValue("guest_session_id"))
		if req.GuestSessionID == "" {
			if cookie, err := r.Cookie(guestSessionCookie); err == nil {
				req.GuestSessionID = cookie.Value
			}
		}
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.writeError(w, http.StatusBadRequest, "no files in batch")
		return
	}
	titles := r.MultipartForm.Value["display_title"]
	for i, header := range files {
		f, err := header.Open()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "open upload "+header.Filename+": "+err.Error())
			return
		}
		defer f.Close()

		upload := intake.FileUpload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			SizeBytes:   header.Size,
			Content:     f,
		}
		if i < len(titles) {
			upload.DisplayTitle = titles[i]
		}
		req.Files = append(req.Files, upload)
	}

	result, err := s.daemon.intake.ProcessBatch(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if result.GuestSessionID != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     guestSessionCookie,
			Value:    result.GuestSessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	accepted, rejected := 0, 0
	for _, file := range result.Files {
		if file.Err == "" {
			accepted++
		} else {
			rejected++
		}
	}
	if err := s.daemon.notifier.NotifyBatchReceived(r.Context(), eventID, accepted, rejected); err != nil {
		s.logger.Debug("batch notification not delivered", logging.Error(err))
	}

	s.writeJSON(w, http.StatusAccepted, result)
}

func (s *apiServer) handleQueueList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := queue.ListFilter{
		EventID: strings.TrimSpace(query.Get("event")),
	}
	if raw := strings.TrimSpace(query.Get("state")); raw != "" {
		state, ok := queue.ParseState(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown state "+raw)
			return
		}
		filter.State = state
	}
	switch strings.TrimSpace(query.Get("uploader")) {
	case "":
		filter.Uploader = queue.UploaderAny
	case "user":
		filter.Uploader = queue.UploaderUser
	case "guest":
		filter.Uploader = queue.UploaderGuest
	default:
		s.writeError(w, http.StatusBadRequest, "uploader must be user or guest")
		return
	}
	filter.Limit = parseIntDefault(query.Get("limit"), 100)
	filter.Offset = parseIntDefault(query.Get("offset"), 0)

	views, err := s.daemon.control.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Entries: api.FromEntryViews(views)})
}

func (s *apiServer) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.control.Stats(r.Context(), strings.TrimSpace(r.URL.Query().Get("event")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromStats(stats))
}

func (s *apiServer) entryAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid entry id")
			return
		}

		var entry *queue.Entry
		switch action {
		case "retry":
			entry, err = s.daemon.control.Retry(r.Context(), entryID)
		case "pause":
			entry, err = s.daemon.control.Pause(r.Context(), entryID)
		case "resume":
			entry, err = s.daemon.control.Resume(r.Context(), entryID)
		case "cancel":
			var body struct {
				Reason string `json:"reason"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			entry, err = s.daemon.control.Cancel(r.Context(), entryID, body.Reason)
		}
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.QueueEntryResponse{Entry: api.FromEntry(entry)})
	}
}

func (s *apiServer) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	removed, err := s.daemon.control.ClearHistory(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *apiServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.control.Approve(r.Context(), r.PathValue("job"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ApprovalResponse{
		JobID:    job.ID,
		Approval: string(job.Approval),
	})
}

func (s *apiServer) handleIssueSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.daemon.identity.IssueSession(r.Context(), r.PathValue("event"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     guestSessionCookie,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"session_id": session.ID,
		"event_id":   session.EventID,
		"expires_at": api.FormatTime(session.ExpiresAt),
	})
}

func (s *apiServer) handleMediaSource(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.store.GetJob(r.Context(), r.PathValue("job"))
	if errors.Is(err, queue.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "unknown media job")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.ContentType != "" {
		w.Header().Set("Content-Type", job.ContentType)
	}
	http.ServeFile(w, r, filepath.Join(s.daemon.cfg.Paths.StorageDir, variants.SourceKey(job.EventID, job.ID)))
}

func (s *apiServer) handleClaimSummary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	summary, err := s.daemon.identity.GetClaimSummary(
		r.Context(),
		strings.TrimSpace(r.Header.Get(userHeader)),
		strings.TrimSpace(query.Get("event_id")),
		query["session_id"],
	)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *apiServer) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body api.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed claim request: "+err.Error())
		return
	}

	// The migration target is the identity the gateway authenticated, never
	// one the request body nominates.
	userID := strings.TrimSpace(r.Header.Get(userHeader))
	result, err := s.daemon.identity.ClaimGuestContent(r.Context(), userID, body.EventID, body.SessionIDs)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func parseIntDefault(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
