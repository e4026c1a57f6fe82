// Package variants turns an uploaded source file into its display renditions.
package variants

import (
	"context"
	"errors"
	"path/filepath"

	"gather/internal/queue"
)

// ErrUnsupportedMedia marks a source whose content type no generator can
// render. Treated as a permanent failure, never retried.
var ErrUnsupportedMedia = errors.New("unsupported media type")

// SourceKey returns the storage-relative location of a job's original upload.
// Intake writes the file there and workers derive the same path, so the
// location never needs to travel through the queue.
func SourceKey(eventID, jobID string) string {
	return filepath.Join("events", eventID, jobID, "source")
}

// Source identifies the file a generator works on.
type Source struct {
	JobID       string
	EventID     string
	Path        string
	ContentType string
}

// Generator produces renditions for a media source. The preview is a
// deliberately cheap single rendition emitted before the full set so clients
// can show something early; the two calls are independent signals, not an
// ordered pipeline.
type Generator interface {
	// GeneratePreview renders the low-cost preview rendition.
	GeneratePreview(ctx context.Context, src Source) (queue.Variant, error)
	// Generate renders the complete variant set, including the preview
	// label when the preview call was skipped or failed.
	Generate(ctx context.Context, src Source) ([]queue.Variant, error)
}
