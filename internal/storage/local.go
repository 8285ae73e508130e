package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore keeps document blobs on the local filesystem, sharded by hash
// prefix. Used when no S3 endpoint is configured.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(sha256 string) string {
	if len(sha256) < 2 {
		return filepath.Join(s.root, sha256)
	}
	return filepath.Join(s.root, sha256[:2], sha256)
}

func (s *LocalStore) Put(_ context.Context, sha256 string, data []byte, _ string) error {
	p := s.path(sha256)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	// Content-addressed: an existing object is already the right bytes.
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return os.WriteFile(p, data, 0o644)
}

func (s *LocalStore) Get(_ context.Context, sha256 string) ([]byte, error) {
	data, err := os.ReadFile(s.path(sha256))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s not found", sha256)
		}
		return nil, err
	}
	return data, nil
}

func (s *LocalStore) Delete(_ context.Context, sha256 string) error {
	err := os.Remove(s.path(sha256))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
