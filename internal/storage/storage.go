package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/framefeed/display-pipeline/pkg/pipeline"
)

// ObjectStore provides write/read access to the artifact bucket.
type ObjectStore interface {
	// Put stores the object at the given key.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error

	// GetReader returns a reader for the object at the given key.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)
}

// StagingReader reads source bytes from a staging location.
type StagingReader interface {
	// GetReader returns a reader for the content at the given key.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)
}

// Content-addressed key scheme. The fingerprint is the path stem for
// the original and every derived artifact.

// OriginalKey is where the untouched source bytes live.
func OriginalKey(fingerprint, ext string) string {
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("images/originals/%s.%s", fingerprint, ext)
}

// ThumbnailKey is where the contain-fit render lives.
func ThumbnailKey(fingerprint string) string {
	return fmt.Sprintf("processed/thumbnails/%s", fingerprint)
}

// VariantKey is where one layout variant lives.
func VariantKey(layout pipeline.LayoutType, width, height int, fingerprint string) string {
	return fmt.Sprintf("processed/%s/%dx%d/%s.jpg", layout, width, height, fingerprint)
}

// PaletteKey is where the quantized palette sidecar lives.
func PaletteKey(fingerprint string) string {
	return fmt.Sprintf("images/quantized/%s.json", fingerprint)
}
