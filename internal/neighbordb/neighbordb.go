// Package neighbordb loads topology patterns and matches nodes against them.
package neighbordb

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/HerbHall/ztpserver/internal/repository"
	"github.com/HerbHall/ztpserver/pkg/models"
)

// ErrNoMatch is returned when a node satisfies no pattern.
var ErrNoMatch = errors.New("no pattern matches node")

// File is the YAML layout of neighbordb.
type File struct {
	Variables map[string]string `yaml:"variables,omitempty"`
	Patterns  []PatternSpec     `yaml:"patterns"`
}

// Neighbordb is a compiled, read-only set of patterns in file order.
type Neighbordb struct {
	variables map[string]string
	patterns  []*Pattern
}

// New compiles every pattern in f. Any invalid pattern fails the whole file.
func New(f File) (*Neighbordb, error) {
	db := &Neighbordb{variables: f.Variables}
	seen := make(map[string]bool, len(f.Patterns))
	for i, spec := range f.Patterns {
		p, err := Compile(spec, f.Variables)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("pattern %d: %w: duplicate name %q", i, ErrInvalidPattern, spec.Name)
		}
		seen[spec.Name] = true
		db.patterns = append(db.patterns, p)
	}
	return db, nil
}

// Parse decodes and compiles neighbordb YAML.
func Parse(data []byte) (*Neighbordb, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode neighbordb: %w", err)
	}
	return New(f)
}

// Patterns returns the compiled patterns in file order.
func (db *Neighbordb) Patterns() []*Pattern {
	return db.patterns
}

// MatchNode returns every pattern node satisfies, in file order. Callers
// use the first entry.
func (db *Neighbordb) MatchNode(node *models.Node) []*Pattern {
	var out []*Pattern
	for _, p := range db.patterns {
		if p.Match(node) {
			out = append(out, p)
		}
	}
	return out
}

// Loader reads neighbordb from a repository on every call.
type Loader struct {
	repo *repository.Repository
	path string
}

// NewLoader returns a Loader for the neighbordb file at path.
func NewLoader(repo *repository.Repository, path string) *Loader {
	return &Loader{repo: repo, path: path}
}

// Path returns the repository path of the neighbordb file.
func (l *Loader) Path() string { return l.path }

// Load reads and compiles the current neighbordb file.
func (l *Loader) Load(ctx context.Context) (*Neighbordb, error) {
	f, err := l.repo.GetFile(ctx, l.path)
	if err != nil {
		return nil, fmt.Errorf("load neighbordb: %w", err)
	}
	data, err := f.Bytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load neighbordb: %w", err)
	}
	return Parse(data)
}

// MatchNode loads neighbordb and matches node against it.
func (l *Loader) MatchNode(ctx context.Context, node *models.Node) ([]*Pattern, error) {
	db, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return db.MatchNode(node), nil
}

// LoadPattern reads a persisted pattern file and compiles it without
// neighbordb globals.
func LoadPattern(ctx context.Context, repo *repository.Repository, path string) (*Pattern, error) {
	f, err := repo.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	var spec PatternSpec
	if err := f.Read(ctx, repository.ContentTypeYAML, &spec); err != nil {
		return nil, err
	}
	return Compile(spec, nil)
}
