package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Storage keeps uploaded files on the local filesystem, split into a staging
// area (pre duplicate decision) and a durable area. Promote moves staged
// bytes into the durable area with a rename, so a promoted file is never
// half-written.
type Storage struct {
	stagingPath string
	basePath    string
}

func New(basePath, stagingPath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	if stagingPath == "" {
		stagingPath = "./data/staging"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	if err := os.MkdirAll(stagingPath, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Storage{stagingPath: stagingPath, basePath: basePath}, nil
}

// Stash writes the incoming bytes to the staging area and returns an opaque
// reference plus the byte count.
func (s *Storage) Stash(_ context.Context, data io.Reader) (string, int64, error) {
	ref := uuid.NewString()
	f, err := os.Create(filepath.Join(s.stagingPath, ref))
	if err != nil {
		return "", 0, fmt.Errorf("create staged file: %w", err)
	}

	n, err := io.Copy(f, data)
	if err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", 0, fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", 0, fmt.Errorf("close staged file: %w", err)
	}
	return ref, n, nil
}

func (s *Storage) OpenStaged(_ context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.stagedPath(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	return f, nil
}

// Promote moves a staged file into the durable area under key. The staged
// reference is consumed; on success it no longer exists.
func (s *Storage) Promote(_ context.Context, ref, key string) (string, error) {
	src, err := s.stagedPath(ref)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.basePath, filepath.Base(key))
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("promote staged file: %w", err)
	}
	return filepath.Base(key), nil
}

// Discard removes a staged file. Discarding a reference that is already gone
// is not an error; the caller may retry after a timeout.
func (s *Storage) Discard(_ context.Context, ref string) error {
	path, err := s.stagedPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard staged file: %w", err)
	}
	return nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.basePath, filepath.Base(key)))
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	return f, nil
}

// stagedPath rejects references that would escape the staging directory.
func (s *Storage) stagedPath(ref string) (string, error) {
	if ref == "" || strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return "", fmt.Errorf("invalid staging ref %q", ref)
	}
	return filepath.Join(s.stagingPath, ref), nil
}
