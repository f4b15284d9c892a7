// Package repository is the path-keyed blob store holding neighbordb,
// definitions, resource pools and per-node artifacts.
//
// Blobs are opaque bytes; a File handle encodes and decodes them as JSON,
// YAML or raw text on request. Storage is delegated to a Backend, either a
// go-billy filesystem or a SQLite table.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// ContentType selects how a File encodes its content.
type ContentType string

const (
	ContentTypeText ContentType = "text/plain"
	ContentTypeJSON ContentType = "application/json"
	ContentTypeYAML ContentType = "application/yaml"
)

var (
	// ErrNotFound is returned when a path does not exist.
	ErrNotFound = errors.New("repository: file not found")
	// ErrExists is returned by AddFile when the path already exists.
	ErrExists = errors.New("repository: file already exists")
	// ErrInvalidPath is returned for empty or escaping paths.
	ErrInvalidPath = errors.New("repository: invalid path")
)

// Backend stores raw blobs keyed by slash-separated relative paths.
type Backend interface {
	Exists(ctx context.Context, p string) (bool, error)
	ReadBlob(ctx context.Context, p string) ([]byte, error)
	WriteBlob(ctx context.Context, p string, data []byte) error
	// CreateBlob creates an empty blob, failing with ErrExists if p exists.
	CreateBlob(ctx context.Context, p string) error
	MkdirAll(ctx context.Context, p string) error
}

// Repository exposes exists/get/add operations over a Backend.
type Repository struct {
	backend Backend
}

// New wraps backend.
func New(backend Backend) *Repository {
	return &Repository{backend: backend}
}

// Exists reports whether p names a file or folder.
func (r *Repository) Exists(ctx context.Context, p string) (bool, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return false, err
	}
	return r.backend.Exists(ctx, clean)
}

// GetFile returns a handle to an existing file.
func (r *Repository) GetFile(ctx context.Context, p string) (*File, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	ok, err := r.backend.Exists(ctx, clean)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	return &File{path: clean, backend: r.backend}, nil
}

// AddFile creates an empty file and returns its handle.
func (r *Repository) AddFile(ctx context.Context, p string) (*File, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	if dir := path.Dir(clean); dir != "." {
		if err := r.backend.MkdirAll(ctx, dir); err != nil {
			return nil, fmt.Errorf("add folder %s: %w", dir, err)
		}
	}
	if err := r.backend.CreateBlob(ctx, clean); err != nil {
		return nil, err
	}
	return &File{path: clean, backend: r.backend}, nil
}

// AddFolder creates p and any missing parents.
func (r *Repository) AddFolder(ctx context.Context, p string) error {
	clean, err := cleanPath(p)
	if err != nil {
		return err
	}
	return r.backend.MkdirAll(ctx, clean)
}

// OpenOrCreate returns the existing file at p or creates it.
func (r *Repository) OpenOrCreate(ctx context.Context, p string) (*File, error) {
	f, err := r.GetFile(ctx, p)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	f, err = r.AddFile(ctx, p)
	if errors.Is(err, ErrExists) {
		// Lost a create race; the file is there now.
		return r.GetFile(ctx, p)
	}
	return f, err
}

// File is a handle to one blob.
type File struct {
	path    string
	backend Backend
}

// Path returns the repository-relative path of the file.
func (f *File) Path() string {
	return f.path
}

// Bytes returns the raw content.
func (f *File) Bytes(ctx context.Context) ([]byte, error) {
	return f.backend.ReadBlob(ctx, f.path)
}

// Read decodes the content into out according to ct. For ContentTypeText
// out must be *[]byte or *string.
func (f *File) Read(ctx context.Context, ct ContentType, out any) error {
	data, err := f.backend.ReadBlob(ctx, f.path)
	if err != nil {
		return err
	}
	if err := decode(data, ct, out); err != nil {
		return fmt.Errorf("decode %s as %s: %w", f.path, ct, err)
	}
	return nil
}

// Write encodes content according to ct and replaces the blob.
func (f *File) Write(ctx context.Context, content any, ct ContentType) error {
	data, err := encode(content, ct)
	if err != nil {
		return fmt.Errorf("encode %s as %s: %w", f.path, ct, err)
	}
	return f.backend.WriteBlob(ctx, f.path, data)
}

func decode(data []byte, ct ContentType, out any) error {
	switch ct {
	case ContentTypeJSON:
		return json.Unmarshal(data, out)
	case ContentTypeYAML:
		return yaml.Unmarshal(data, out)
	case ContentTypeText:
		switch v := out.(type) {
		case *[]byte:
			*v = append((*v)[:0], data...)
		case *string:
			*v = string(data)
		default:
			return fmt.Errorf("text content needs *[]byte or *string, got %T", out)
		}
		return nil
	default:
		return fmt.Errorf("unsupported content type %q", ct)
	}
}

func encode(content any, ct ContentType) ([]byte, error) {
	switch ct {
	case ContentTypeJSON:
		return json.MarshalIndent(content, "", "  ")
	case ContentTypeYAML:
		return yaml.Marshal(content)
	case ContentTypeText:
		switch v := content.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		default:
			return nil, fmt.Errorf("text content must be []byte or string, got %T", content)
		}
	default:
		return nil, fmt.Errorf("unsupported content type %q", ct)
	}
}

// cleanPath normalizes p and rejects paths that are empty or leave the root.
func cleanPath(p string) (string, error) {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return clean, nil
}
