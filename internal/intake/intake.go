// Package intake accepts upload batches, spools their files to storage, and
// enqueues one processing job per file. Intake never blocks on variant
// generation; it returns as soon as every file is validated, persisted, and
// scheduled.
package intake

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"gather/internal/approval"
	"gather/internal/config"
	"gather/internal/logging"
	"gather/internal/progress"
	"gather/internal/queue"
	"gather/internal/services"
	"gather/internal/variants"
)

// FileUpload is one file in a batch.
type FileUpload struct {
	Filename     string
	DisplayTitle string
	ContentType  string
	SizeBytes    int64
	Content      io.Reader
}

// BatchRequest binds a set of files to an event and an uploader identity.
// Exactly one of UserID or an (existing or lazily created) guest session owns
// the resulting jobs.
type BatchRequest struct {
	EventID        string
	UserID         string
	GuestSessionID string
	Uploader       approval.Uploader
	Policy         approval.Policy
	Files          []FileUpload
}

// FileResult reports one file's outcome. A failed file carries Err and no job
// identifier; sibling files are unaffected.
type FileResult struct {
	Filename       string            `json:"filename"`
	JobID          string            `json:"job_id,omitempty"`
	Approval       queue.Approval    `json:"approval,omitempty"`
	PreviewLocator string            `json:"preview_locator,omitempty"`
	Snapshot       progress.Snapshot `json:"progress,omitempty"`
	Err            string            `json:"error,omitempty"`
}

// BatchResult is the immediate intake response.
type BatchResult struct {
	EventID        string       `json:"event_id"`
	GuestSessionID string       `json:"guest_session_id,omitempty"`
	Files          []FileResult `json:"files"`
}

// Service wires intake to its collaborators. Progress changes fan out to
// subscribers through the tracker's listener, not from here.
type Service struct {
	cfg     *config.Config
	store   *queue.Store
	tracker *progress.Tracker
	logger  *slog.Logger
}

// NewService builds the intake service.
func NewService(cfg *config.Config, store *queue.Store, tracker *progress.Tracker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		tracker: tracker,
		logger:  logger.With(logging.String(logging.FieldComponent, "intake")),
	}
}

// ProcessBatch validates and schedules every file in the request. A single
// file's failure is reported on that file only and never aborts its siblings.
func (s *Service) ProcessBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if req.EventID == "" {
		return nil, services.Wrap(services.ErrValidation, "intake", "process batch", "event id is required", nil)
	}
	if len(req.Files) == 0 {
		return nil, services.Wrap(services.ErrValidation, "intake", "process batch", "batch contains no files", nil)
	}
	if req.UserID != "" && req.GuestSessionID != "" {
		return nil, services.Wrap(services.ErrValidation, "intake", "process batch", "uploader cannot be both user and guest", nil)
	}

	sessionID, err := s.resolveGuestSession(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{EventID: req.EventID, Files: make([]FileResult, 0, len(req.Files))}
	if req.UserID == "" {
		result.GuestSessionID = sessionID
	}

	priority := queue.PriorityBulk
	if req.Uploader.Role == approval.RoleHost || req.Uploader.Role == approval.RoleCoHost {
		priority = queue.PriorityHost
	}
	decision := approval.Decide(req.Uploader, req.Policy)

	for _, file := range req.Files {
		fileResult := s.processFile(ctx, req, sessionID, file, decision, priority)
		result.Files = append(result.Files, fileResult)
	}
	return result, nil
}

func (s *Service) processFile(ctx context.Context, req BatchRequest, sessionID string, file FileUpload, decision queue.Approval, priority int) FileResult {
	if err := s.validateFile(file); err != nil {
		s.logger.Warn("rejected upload",
			logging.String(logging.FieldEventID, req.EventID),
			logging.String("filename", file.Filename),
			logging.Error(err))
		return FileResult{Filename: file.Filename, Err: err.Error()}
	}

	if file.DisplayTitle == "" {
		file.DisplayTitle = deriveDisplayTitle(file.Filename)
	}

	jobID := uuid.NewString()
	sourcePath := filepath.Join(s.cfg.Paths.StorageDir, variants.SourceKey(req.EventID, jobID))
	written, err := s.spool(file, sourcePath)
	if err != nil {
		return FileResult{Filename: file.Filename, Err: err.Error()}
	}

	_, _, err = s.store.CreateJob(ctx, queue.NewJobParams{
		ID:             jobID,
		EventID:        req.EventID,
		UserID:         req.UserID,
		GuestSessionID: sessionID,
		Filename:       file.Filename,
		DisplayTitle:   file.DisplayTitle,
		ContentType:    file.ContentType,
		SizeBytes:      written,
		Approval:       decision,
		Priority:       priority,
	})
	if err != nil {
		_ = os.Remove(sourcePath)
		wrapped := services.Wrap(services.ErrTransient, "intake", "create job", file.Filename, err)
		s.logger.Error("enqueue failed",
			logging.String(logging.FieldEventID, req.EventID),
			logging.String("filename", file.Filename),
			logging.Error(err))
		return FileResult{Filename: file.Filename, Err: wrapped.Error()}
	}

	snap := s.tracker.Start(jobID, req.EventID)
	if uploaded, ok := s.tracker.Advance(jobID, progress.StageUploaded); ok {
		snap = uploaded
	}

	s.logger.Info("upload accepted",
		logging.String(logging.FieldEventID, req.EventID),
		logging.String(logging.FieldJobID, jobID),
		logging.String("filename", file.Filename),
		logging.Int64("size_bytes", written),
		logging.String("approval", string(decision)))

	return FileResult{
		Filename:       file.Filename,
		JobID:          jobID,
		Approval:       decision,
		PreviewLocator: fmt.Sprintf("/api/media/%s/source", jobID),
		Snapshot:       snap,
	}
}

func (s *Service) validateFile(file FileUpload) error {
	if file.Filename == "" {
		return services.Wrap(services.ErrValidation, "intake", "validate", "filename is required", nil)
	}
	if !s.cfg.AllowedType(file.ContentType) {
		return services.Wrap(services.ErrValidation, "intake", "validate",
			fmt.Sprintf("content type %q is not allowed", file.ContentType), nil)
	}
	if file.SizeBytes > s.cfg.MaxFileBytes() {
		return services.Wrap(services.ErrValidation, "intake", "validate",
			fmt.Sprintf("file exceeds %d MiB limit", s.cfg.Uploads.MaxFileMiB), nil)
	}
	if file.Content == nil {
		return services.Wrap(services.ErrValidation, "intake", "validate", "file has no content", nil)
	}
	return nil
}

// spool writes the upload to its storage location, enforcing the size limit
// on the actual bytes rather than trusting the declared size.
func (s *Service) spool(file FileUpload, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, services.Wrap(services.ErrTransient, "intake", "spool", "create storage dir", err)
	}

	out, err := os.Create(target)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "intake", "spool", "create storage file", err)
	}
	defer out.Close()

	limit := s.cfg.MaxFileBytes()
	written, err := io.Copy(out, io.LimitReader(file.Content, limit+1))
	if err != nil {
		_ = os.Remove(target)
		return 0, services.Wrap(services.ErrTransient, "intake", "spool", "write upload", err)
	}
	if written > limit {
		_ = os.Remove(target)
		return 0, services.Wrap(services.ErrValidation, "intake", "spool",
			fmt.Sprintf("file exceeds %d MiB limit", s.cfg.Uploads.MaxFileMiB), nil)
	}
	return written, nil
}

// resolveGuestSession returns the owning session id for guest uploads,
// creating one lazily on the first unauthenticated upload to an event.
func (s *Service) resolveGuestSession(ctx context.Context, req BatchRequest) (string, error) {
	if req.UserID != "" {
		return "", nil
	}

	ttl := time.Duration(s.cfg.Guests.SessionTTLDays) * 24 * time.Hour
	if req.GuestSessionID != "" {
		session, err := s.store.GetGuestSession(ctx, req.GuestSessionID)
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "intake", "guest session", "unknown guest session", err)
		}
		if session.Claimed() {
			return "", services.Wrap(services.ErrConflict, "intake", "guest session", "session already claimed", nil)
		}
		if session.Expired(time.Now()) {
			return "", services.Wrap(services.ErrValidation, "intake", "guest session", "session expired", nil)
		}
		if session.EventID != req.EventID {
			return "", services.Wrap(services.ErrValidation, "intake", "guest session", "session belongs to another event", nil)
		}
		if err := s.store.TouchGuestSession(ctx, session.ID, ttl); err != nil {
			return "", services.Wrap(services.ErrTransient, "intake", "guest session", "extend session", err)
		}
		return session.ID, nil
	}

	session, err := s.store.CreateGuestSession(ctx, uuid.NewString(), req.EventID, ttl)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "intake", "guest session", "create session", err)
	}
	s.logger.Info("guest session created",
		logging.String(logging.FieldEventID, req.EventID),
		logging.String(logging.FieldSessionID, session.ID))
	return session.ID, nil
}
