package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NewJobParams describes the fields intake supplies when creating a job.
type NewJobParams struct {
	ID             string
	EventID        string
	UserID         string
	GuestSessionID string
	Filename       string
	DisplayTitle   string
	ContentType    string
	SizeBytes      int64
	Approval       Approval
	Priority       int
}

// CreateJob inserts a media job together with its waiting queue entry in one
// transaction, so a crash between the two writes cannot strand a job without
// a schedule.
func (s *Store) CreateJob(ctx context.Context, params NewJobParams) (*MediaJob, *Entry, error) {
	if params.ID == "" || params.EventID == "" {
		return nil, nil, errors.New("job id and event id are required")
	}
	if (params.UserID == "") == (params.GuestSessionID == "") {
		return nil, nil, errors.New("exactly one of user id or guest session id must be set")
	}

	now := time.Now().UTC()
	timestamp := formatTime(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin create job tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO media_jobs (
            id, event_id, user_id, guest_session_id, filename, display_title,
            content_type, size_bytes, approval, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		params.ID,
		params.EventID,
		nullableString(params.UserID),
		nullableString(params.GuestSessionID),
		params.Filename,
		nullableString(params.DisplayTitle),
		params.ContentType,
		params.SizeBytes,
		params.Approval,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert media job: %w", err)
	}

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO queue_entries (job_id, state, priority, enqueued_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		params.ID,
		StateWaiting,
		params.Priority,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert queue entry: %w", err)
	}
	entryID, err := res.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit create job: %w", err)
	}

	job := &MediaJob{
		ID:             params.ID,
		EventID:        params.EventID,
		UserID:         params.UserID,
		GuestSessionID: params.GuestSessionID,
		Filename:       params.Filename,
		DisplayTitle:   params.DisplayTitle,
		ContentType:    params.ContentType,
		SizeBytes:      params.SizeBytes,
		Approval:       params.Approval,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	entry := &Entry{
		ID:         entryID,
		JobID:      params.ID,
		State:      StateWaiting,
		Priority:   params.Priority,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
	return job, entry, nil
}

const jobColumns = "id, event_id, user_id, guest_session_id, filename, display_title, content_type, size_bytes, approval, error_message, created_at, updated_at"

// GetJob fetches a media job by identifier. Returns ErrJobNotFound when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*MediaJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM media_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// JobsByEvent returns all jobs for an event ordered by creation time.
func (s *Store) JobsByEvent(ctx context.Context, eventID string) ([]*MediaJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM media_jobs WHERE event_id = ? ORDER BY created_at`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query jobs by event: %w", err)
	}
	defer rows.Close()

	var jobs []*MediaJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SetJobError records a terminal failure reason on the job.
func (s *Store) SetJobError(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE media_jobs SET error_message = ?, updated_at = ? WHERE id = ?`,
		nullableString(message), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("set job error: %w", err)
	}
	return nil
}

// ApproveJob transitions a pending job to approved. Auto-approved decisions
// are never reversed and approving twice is rejected, so the update is gated
// on the current approval value.
func (s *Store) ApproveJob(ctx context.Context, id string) (*MediaJob, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media_jobs SET approval = ?, updated_at = ? WHERE id = ? AND approval = ?`,
		ApprovalApproved, formatTime(time.Now().UTC()), id, ApprovalPending)
	if err != nil {
		return nil, fmt.Errorf("approve job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		job, getErr := s.GetJob(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return job, fmt.Errorf("%w: approval is %s", ErrInvalidTransition, job.Approval)
	}
	return s.GetJob(ctx, id)
}

// AddVariants records the renditions produced for a job. The (job_id, label)
// uniqueness constraint makes duplicate generation harmless: a second writer
// for the same label is ignored instead of double-writing.
func (s *Store) AddVariants(ctx context.Context, jobID string, variants []Variant) error {
	if len(variants) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add variants tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	timestamp := formatTime(time.Now().UTC())
	for _, v := range variants {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO variants (job_id, label, format, size_bytes, width, height, storage_key, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			jobID, v.Label, v.Format, v.SizeBytes, v.Width, v.Height, v.StorageKey, timestamp)
		if err != nil {
			return fmt.Errorf("insert variant %s: %w", v.Label, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add variants: %w", err)
	}
	return nil
}

// VariantsByJob returns the renditions recorded for a job ordered by label.
func (s *Store) VariantsByJob(ctx context.Context, jobID string) ([]Variant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, label, format, size_bytes, width, height, storage_key, created_at
         FROM variants WHERE job_id = ? ORDER BY label`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		var (
			v          Variant
			createdRaw string
		)
		if err := rows.Scan(&v.ID, &v.JobID, &v.Label, &v.Format, &v.SizeBytes, &v.Width, &v.Height, &v.StorageKey, &createdRaw); err != nil {
			return nil, err
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			v.CreatedAt = created
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*MediaJob, error) {
	var (
		id           string
		eventID      string
		userID       sql.NullString
		guestSession sql.NullString
		filename     string
		displayTitle sql.NullString
		contentType  string
		sizeBytes    int64
		approval     string
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&id,
		&eventID,
		&userID,
		&guestSession,
		&filename,
		&displayTitle,
		&contentType,
		&sizeBytes,
		&approval,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &MediaJob{
		ID:             id,
		EventID:        eventID,
		UserID:         userID.String,
		GuestSessionID: guestSession.String,
		Filename:       filename,
		DisplayTitle:   displayTitle.String,
		ContentType:    contentType,
		SizeBytes:      sizeBytes,
		Approval:       Approval(approval),
		ErrorMessage:   errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
