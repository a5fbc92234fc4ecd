package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// BucketReader reads objects from an arbitrary bucket, independent of
// the artifact bucket an ObjectStore is bound to.
type BucketReader interface {
	GetBucketReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// GetBucketReader reads an object from the named bucket.
func (s *S3Store) GetBucketReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	store := &S3Store{client: s.client, bucket: bucket}
	return store.GetReader(ctx, key)
}

// Resolver opens source bytes from a staging URI. Supported schemes:
// s3://bucket/key, file:///path (or a bare path), and http(s)://.
type Resolver struct {
	buckets    BucketReader
	httpClient *http.Client
}

// NewResolver creates a staging resolver. buckets may be nil when no
// remote-object staging paths are expected.
func NewResolver(buckets BucketReader) *Resolver {
	return &Resolver{
		buckets: buckets,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Open returns a reader for the content behind stagingPath.
func (r *Resolver) Open(ctx context.Context, stagingPath string) (io.ReadCloser, error) {
	u, err := url.Parse(stagingPath)
	if err != nil {
		return nil, fmt.Errorf("invalid staging path %q: %w", stagingPath, err)
	}

	switch u.Scheme {
	case "s3":
		if r.buckets == nil {
			return nil, fmt.Errorf("no bucket reader configured for %q", stagingPath)
		}
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("invalid s3 staging path %q", stagingPath)
		}
		return r.buckets.GetBucketReader(ctx, u.Host, key)

	case "http", "https":
		return r.openHTTP(ctx, stagingPath)

	case "file":
		return openLocal(u.Path)

	case "":
		return openLocal(stagingPath)

	default:
		return nil, fmt.Errorf("unsupported staging scheme %q", u.Scheme)
	}
}

func (r *Resolver) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func openLocal(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}
