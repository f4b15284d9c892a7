// Package resources assigns values from named pools (IP addresses, ASNs,
// hostnames) to nodes while their definitions are resolved.
//
// A pool lives at resources/{pool} in the repository as a YAML mapping of
// value to the owning node id, or null when the value is free:
//
//	10.0.0.1: ABC123
//	10.0.0.2: null
package resources

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/repository"
)

var (
	// ErrPoolExhausted is returned when a pool has no free value left.
	ErrPoolExhausted = errors.New("resource pool exhausted")
	// ErrUnknownPool is returned when resources/{pool} does not exist.
	ErrUnknownPool = errors.New("unknown resource pool")
)

var fnPattern = regexp.MustCompile(`^\s*(allocate|lookup)\(\s*(?:'([\w.\-]+)'|"([\w.\-]+)")\s*\)\s*$`)

// Allocator resolves allocate('pool') and lookup('pool') attribute values.
type Allocator struct {
	repo   *repository.Repository
	logger *zap.Logger
	locks  sync.Map // pool -> *sync.Mutex
}

// New returns an Allocator backed by repo.
func New(repo *repository.Repository, logger *zap.Logger) *Allocator {
	return &Allocator{repo: repo, logger: logger}
}

// Resolve returns a copy of attrs with every resource function replaced by
// its value for nodeID. Nested mappings are resolved one level deep.
func (a *Allocator) Resolve(ctx context.Context, attrs map[string]any, nodeID string) (map[string]any, error) {
	if attrs == nil {
		return nil, nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			r, err := a.resolveValue(ctx, val, nodeID)
			if err != nil {
				return nil, fmt.Errorf("attribute %s: %w", k, err)
			}
			out[k] = r
		case map[string]any:
			nested := make(map[string]any, len(val))
			for nk, nv := range val {
				s, ok := nv.(string)
				if !ok {
					nested[nk] = nv
					continue
				}
				r, err := a.resolveValue(ctx, s, nodeID)
				if err != nil {
					return nil, fmt.Errorf("attribute %s.%s: %w", k, nk, err)
				}
				nested[nk] = r
			}
			out[k] = nested
		default:
			out[k] = v
		}
	}
	return out, nil
}

func (a *Allocator) resolveValue(ctx context.Context, s, nodeID string) (any, error) {
	m := fnPattern.FindStringSubmatch(s)
	if m == nil {
		return s, nil
	}
	pool := m[2]
	if pool == "" {
		pool = m[3]
	}
	switch m[1] {
	case "allocate":
		return a.Allocate(ctx, pool, nodeID)
	default:
		v, ok, err := a.Lookup(ctx, pool, nodeID)
		if err != nil || !ok {
			return nil, err
		}
		return v, nil
	}
}

// Allocate returns the value nodeID holds in pool, assigning the first free
// value in sorted order if it holds none.
func (a *Allocator) Allocate(ctx context.Context, pool, nodeID string) (string, error) {
	mu := a.lock(pool)
	mu.Lock()
	defer mu.Unlock()

	f, entries, err := a.load(ctx, pool)
	if err != nil {
		return "", err
	}
	if v, ok := owned(entries, nodeID); ok {
		return v, nil
	}

	values := make([]string, 0, len(entries))
	for v, owner := range entries {
		if owner == nil || *owner == "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return "", fmt.Errorf("%w: %s", ErrPoolExhausted, pool)
	}
	sort.Strings(values)

	chosen := values[0]
	id := nodeID
	entries[chosen] = &id
	if err := f.Write(ctx, entries, repository.ContentTypeYAML); err != nil {
		return "", fmt.Errorf("save pool %s: %w", pool, err)
	}
	a.logger.Info("resource allocated",
		zap.String("pool", pool),
		zap.String("value", chosen),
		zap.String("node_id", nodeID),
	)
	return chosen, nil
}

// Lookup returns the value nodeID holds in pool, if any.
func (a *Allocator) Lookup(ctx context.Context, pool, nodeID string) (string, bool, error) {
	mu := a.lock(pool)
	mu.Lock()
	defer mu.Unlock()

	_, entries, err := a.load(ctx, pool)
	if err != nil {
		return "", false, err
	}
	v, ok := owned(entries, nodeID)
	return v, ok, nil
}

func (a *Allocator) lock(pool string) *sync.Mutex {
	mu, _ := a.locks.LoadOrStore(pool, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (a *Allocator) load(ctx context.Context, pool string) (*repository.File, map[string]*string, error) {
	f, err := a.repo.GetFile(ctx, "resources/"+pool)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownPool, pool)
	}
	if err != nil {
		return nil, nil, err
	}
	entries := map[string]*string{}
	if err := f.Read(ctx, repository.ContentTypeYAML, &entries); err != nil {
		return nil, nil, err
	}
	if entries == nil {
		entries = map[string]*string{}
	}
	return f, entries, nil
}

// owned finds nodeID's value; sorted so duplicate assignments resolve stably.
func owned(entries map[string]*string, nodeID string) (string, bool) {
	var hits []string
	for v, owner := range entries {
		if owner != nil && *owner == nodeID {
			hits = append(hits, v)
		}
	}
	if len(hits) == 0 {
		return "", false
	}
	sort.Strings(hits)
	return hits[0], true
}
