package variants

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"gather/internal/queue"
)

// rendition fixes the output geometry and quality per label.
type rendition struct {
	label   string
	maxDim  int
	quality int
}

var imageRenditions = []rendition{
	{label: queue.VariantThumbnail, maxDim: 320, quality: 80},
	{label: queue.VariantPreview, maxDim: 1280, quality: 85},
	{label: queue.VariantFull, maxDim: 2048, quality: 92},
}

// ImageGenerator renders JPEG variants for raster image sources under a
// storage root. Output paths follow events/<event>/<job>/<label>.jpg; the
// storage key recorded on each variant is that relative path.
type ImageGenerator struct {
	storageDir string
}

// NewImageGenerator builds a generator writing beneath storageDir.
func NewImageGenerator(storageDir string) *ImageGenerator {
	return &ImageGenerator{storageDir: storageDir}
}

// Supports reports whether the generator can render the content type.
func (g *ImageGenerator) Supports(contentType string) bool {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/png", "image/gif", "image/bmp", "image/tiff":
		return true
	default:
		return false
	}
}

// GeneratePreview renders only the preview rendition.
func (g *ImageGenerator) GeneratePreview(ctx context.Context, src Source) (queue.Variant, error) {
	img, err := g.open(src)
	if err != nil {
		return queue.Variant{}, err
	}
	return g.render(ctx, src, img, imageRenditions[1])
}

// Generate renders the full variant set.
func (g *ImageGenerator) Generate(ctx context.Context, src Source) ([]queue.Variant, error) {
	img, err := g.open(src)
	if err != nil {
		return nil, err
	}

	results := make([]queue.Variant, 0, len(imageRenditions))
	for _, r := range imageRenditions {
		variant, err := g.render(ctx, src, img, r)
		if err != nil {
			return nil, err
		}
		results = append(results, variant)
	}
	return results, nil
}

func (g *ImageGenerator) open(src Source) (image.Image, error) {
	if !g.Supports(src.ContentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, src.ContentType)
	}
	img, err := imaging.Open(src.Path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open source image: %w", err)
	}
	return img, nil
}

func (g *ImageGenerator) render(ctx context.Context, src Source, img image.Image, r rendition) (queue.Variant, error) {
	if err := ctx.Err(); err != nil {
		return queue.Variant{}, err
	}

	resized := img
	bounds := img.Bounds()
	if bounds.Dx() > r.maxDim || bounds.Dy() > r.maxDim {
		resized = imaging.Fit(img, r.maxDim, r.maxDim, imaging.Lanczos)
	}

	key := filepath.Join("events", src.EventID, src.JobID, r.label+".jpg")
	target := filepath.Join(g.storageDir, key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return queue.Variant{}, fmt.Errorf("create variant dir: %w", err)
	}
	if err := imaging.Save(resized, target, imaging.JPEGQuality(r.quality)); err != nil {
		return queue.Variant{}, fmt.Errorf("save %s variant: %w", r.label, err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return queue.Variant{}, fmt.Errorf("stat %s variant: %w", r.label, err)
	}

	out := resized.Bounds()
	return queue.Variant{
		JobID:      src.JobID,
		Label:      r.label,
		Format:     "jpeg",
		SizeBytes:  info.Size(),
		Width:      out.Dx(),
		Height:     out.Dy(),
		StorageKey: key,
	}, nil
}
