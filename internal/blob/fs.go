package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FS keeps blobs as files in a single directory, named by id.
type FS struct {
	dir string
}

// NewFS creates dir if needed and returns a store rooted there.
func NewFS(dir string) (*FS, error) {
	if dir == "" {
		return nil, errors.New("blob fs: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("blob fs: create %s: %w", dir, err)
	}
	return &FS{dir: dir}, nil
}

func (s *FS) Name() string { return "fs" }

// Upload writes to a temporary file and renames it into place, so readers
// never see a partially written blob.
func (s *FS) Upload(ctx context.Context, id, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(id)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("blob fs: upload %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("blob fs: upload %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blob fs: upload %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("blob fs: upload %s: %w", name, err)
	}
	return nil
}

func (s *FS) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("blob fs: open %s: %w", id, err)
	}
	return f, nil
}

func (s *FS) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.path(id)
	if err != nil {
		return false, err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blob fs: delete %s: %w", id, err)
	}
	return true, nil
}

// path rejects ids that would escape the store directory.
func (s *FS) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("blob fs: invalid id %q", id)
	}
	return filepath.Join(s.dir, id), nil
}
