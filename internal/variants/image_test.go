package variants_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gather/internal/queue"
	"gather/internal/testsupport"
	"gather/internal/variants"
)

func TestGenerateProducesAllRenditions(t *testing.T) {
	base := t.TempDir()
	source := filepath.Join(base, "source.jpg")
	testsupport.WriteJPEG(t, source, 4000, 3000)

	gen := variants.NewImageGenerator(filepath.Join(base, "storage"))
	results, err := gen.Generate(context.Background(), variants.Source{
		JobID:       "job-1",
		EventID:     "event-1",
		Path:        source,
		ContentType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 variants, got %d", len(results))
	}

	byLabel := make(map[string]queue.Variant, len(results))
	for _, v := range results {
		byLabel[v.Label] = v
		path := filepath.Join(base, "storage", v.StorageKey)
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("variant %s not written: %v", v.Label, err)
		}
		if info.Size() != v.SizeBytes || v.SizeBytes == 0 {
			t.Fatalf("variant %s size mismatch: %#v", v.Label, v)
		}
	}

	thumb := byLabel[queue.VariantThumbnail]
	if thumb.Width > 320 || thumb.Height > 320 {
		t.Fatalf("thumbnail exceeds bounds: %dx%d", thumb.Width, thumb.Height)
	}
	full := byLabel[queue.VariantFull]
	if full.Width != 2048 {
		t.Fatalf("expected full variant fit to 2048 wide, got %dx%d", full.Width, full.Height)
	}
}

func TestGeneratePreviewRendersOnlyPreview(t *testing.T) {
	base := t.TempDir()
	source := filepath.Join(base, "source.png")
	testsupport.WritePNG(t, source, 640, 480)

	gen := variants.NewImageGenerator(filepath.Join(base, "storage"))
	preview, err := gen.GeneratePreview(context.Background(), variants.Source{
		JobID:       "job-1",
		EventID:     "event-1",
		Path:        source,
		ContentType: "image/png",
	})
	if err != nil {
		t.Fatalf("GeneratePreview failed: %v", err)
	}
	if preview.Label != queue.VariantPreview || preview.Format != "jpeg" {
		t.Fatalf("unexpected preview variant: %#v", preview)
	}
	// Source already fits within preview bounds, so dimensions are kept.
	if preview.Width != 640 || preview.Height != 480 {
		t.Fatalf("expected source dimensions preserved, got %dx%d", preview.Width, preview.Height)
	}
}

func TestGenerateRejectsUnsupportedContentType(t *testing.T) {
	gen := variants.NewImageGenerator(t.TempDir())
	_, err := gen.Generate(context.Background(), variants.Source{
		JobID:       "job-1",
		EventID:     "event-1",
		Path:        "irrelevant.mp4",
		ContentType: "video/mp4",
	})
	if !errors.Is(err, variants.ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
}

func TestGenerateFailsOnCorruptSource(t *testing.T) {
	base := t.TempDir()
	source := filepath.Join(base, "broken.jpg")
	testsupport.WriteFile(t, source, 128)

	gen := variants.NewImageGenerator(filepath.Join(base, "storage"))
	if _, err := gen.Generate(context.Background(), variants.Source{
		JobID:       "job-1",
		EventID:     "event-1",
		Path:        source,
		ContentType: "image/jpeg",
	}); err == nil {
		t.Fatal("expected error for corrupt source")
	}
}
