// Package export produces evidence bundles: a zip per voyage holding
// the full submission history, position trail and a checksummed
// manifest, stored on the filesystem or an object store.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/litoral-labs/micdta/pkg/config"
)

// BundleStore persists finished evidence bundles under a caller-chosen
// key and returns a location string operators can hand to an auditor.
type BundleStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// NewStoreFromConfig selects the bundle backend from configuration.
func NewStoreFromConfig(ctx context.Context, cfg *config.Config) (BundleStore, error) {
	switch cfg.ExportBackend {
	case "fs":
		return NewFileStore(cfg.ExportDir)
	case "s3":
		return NewS3Store(ctx, S3Config{Bucket: cfg.ExportBucket})
	case "gcs":
		return newGCSStore(ctx, cfg.ExportBucket)
	default:
		return nil, fmt.Errorf("export: unsupported backend %q", cfg.ExportBackend)
	}
}

// FileStore keeps bundles in a local directory.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("export: ensure bundle dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean != key || strings.Contains(key, "..") || filepath.IsAbs(key) {
		return "", fmt.Errorf("export: invalid bundle key %q", key)
	}
	return filepath.Join(s.baseDir, clean), nil
}

func (s *FileStore) Put(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	// Write to temp, then rename
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("export: write bundle: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("export: commit bundle: %w", err)
	}
	return path, nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("export: bundle not found: %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("export: read bundle: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
