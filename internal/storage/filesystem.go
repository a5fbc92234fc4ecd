package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore implements ObjectStore and StagingReader for local
// paths, used in development and tests.
type FilesystemStore struct {
	baseDir string
}

// NewFilesystemStore creates a filesystem-backed store rooted at baseDir.
func NewFilesystemStore(baseDir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FilesystemStore{baseDir: baseDir}, nil
}

func (fs *FilesystemStore) resolve(key string) (string, error) {
	path := filepath.Join(fs.baseDir, key)

	// Security: prevent directory traversal
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(fs.baseDir)) {
		return "", fmt.Errorf("invalid key: path traversal detected")
	}
	return path, nil
}

// Put stores the object at the given key, creating parent directories.
func (fs *FilesystemStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	path, err := fs.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", key, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write file %s: %w", key, err)
	}
	return nil
}

// GetReader returns a reader for the file at the given key.
func (fs *FilesystemStore) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Exists checks if a file exists at the given key.
func (fs *FilesystemStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}
