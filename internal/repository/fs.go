package repository

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Compile-time interface guard.
var _ Backend = (*FSBackend)(nil)

// FSBackend stores blobs as files on a billy.Filesystem.
type FSBackend struct {
	fs billy.Filesystem
}

// NewFSBackend wraps an existing filesystem.
func NewFSBackend(fs billy.Filesystem) *FSBackend {
	return &FSBackend{fs: fs}
}

// NewOSBackend roots the repository at dataRoot on the local disk.
func NewOSBackend(dataRoot string) (*FSBackend, error) {
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create data root %s: %w", dataRoot, err)
	}
	return NewFSBackend(osfs.New(dataRoot)), nil
}

// NewMemoryBackend returns an in-memory filesystem backend.
func NewMemoryBackend() *FSBackend {
	return NewFSBackend(memfs.New())
}

// Filesystem exposes the underlying billy filesystem. The neighbordb
// watcher uses it to resolve on-disk paths.
func (b *FSBackend) Filesystem() billy.Filesystem {
	return b.fs
}

func (b *FSBackend) Exists(_ context.Context, p string) (bool, error) {
	_, err := b.fs.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", p, err)
}

func (b *FSBackend) ReadBlob(_ context.Context, p string) ([]byte, error) {
	data, err := util.ReadFile(b.fs, p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

func (b *FSBackend) WriteBlob(_ context.Context, p string, data []byte) error {
	if err := util.WriteFile(b.fs, p, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (b *FSBackend) CreateBlob(_ context.Context, p string) error {
	f, err := b.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, p)
		}
		return fmt.Errorf("create %s: %w", p, err)
	}
	return f.Close()
}

func (b *FSBackend) MkdirAll(_ context.Context, p string) error {
	if err := b.fs.MkdirAll(p, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}
