package resources

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/repository"
)

func newAllocator(t *testing.T, pools map[string]string) (*Allocator, *repository.Repository) {
	t.Helper()
	ctx := context.Background()
	repo := repository.New(repository.NewMemoryBackend())
	for name, body := range pools {
		f, err := repo.AddFile(ctx, "resources/"+name)
		require.NoError(t, err)
		require.NoError(t, f.Write(ctx, body, repository.ContentTypeText))
	}
	return New(repo, zap.NewNop()), repo
}

func TestAllocate_FirstFreeSortedAndSticky(t *testing.T) {
	a, repo := newAllocator(t, map[string]string{
		"mgmt": "10.0.0.3: null\n10.0.0.1: OTHER\n10.0.0.2: null\n",
	})
	ctx := context.Background()

	v, err := a.Allocate(ctx, "mgmt", "N1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", v)

	again, err := a.Allocate(ctx, "mgmt", "N1")
	require.NoError(t, err)
	assert.Equal(t, v, again, "second allocation reuses the assignment")

	f, err := repo.GetFile(ctx, "resources/mgmt")
	require.NoError(t, err)
	var pool map[string]*string
	require.NoError(t, f.Read(ctx, repository.ContentTypeYAML, &pool))
	require.NotNil(t, pool["10.0.0.2"])
	assert.Equal(t, "N1", *pool["10.0.0.2"])
	assert.Nil(t, pool["10.0.0.3"])
}

func TestAllocate_Exhausted(t *testing.T) {
	a, _ := newAllocator(t, map[string]string{"asn": "65001: A\n"})
	_, err := a.Allocate(context.Background(), "asn", "B")
	assert.True(t, errors.Is(err, ErrPoolExhausted), "err = %v", err)
}

func TestAllocate_UnknownPool(t *testing.T) {
	a, _ := newAllocator(t, nil)
	_, err := a.Allocate(context.Background(), "nope", "N1")
	assert.True(t, errors.Is(err, ErrUnknownPool), "err = %v", err)
}

func TestAllocate_ConcurrentNodesGetDistinctValues(t *testing.T) {
	body := ""
	for i := 1; i <= 20; i++ {
		body += fmt.Sprintf("host%02d: null\n", i)
	}
	a, _ := newAllocator(t, map[string]string{"hosts": body})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]string{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			v, err := a.Allocate(context.Background(), "hosts", id)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if prev, dup := seen[v]; dup {
				t.Errorf("value %s given to %s and %s", v, prev, id)
			}
			seen[v] = id
		}(fmt.Sprintf("N%d", i))
	}
	wg.Wait()
	assert.Len(t, seen, 20)
}

func TestResolve(t *testing.T) {
	a, _ := newAllocator(t, map[string]string{
		"mgmt": "10.0.0.1: null\n",
		"asn":  "65001: null\n",
	})
	ctx := context.Background()

	out, err := a.Resolve(ctx, map[string]any{
		"ip":       "allocate('mgmt')",
		"hostname": "leaf1",
		"mtu":      9214,
		"bgp": map[string]any{
			"asn":  `allocate("asn")`,
			"peer": "lookup('mgmt')",
			"keep": true,
		},
		"missing": "lookup('asn')",
	}, "N1")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", out["ip"])
	assert.Equal(t, "leaf1", out["hostname"])
	assert.Equal(t, 9214, out["mtu"])
	bgp := out["bgp"].(map[string]any)
	assert.Equal(t, "65001", bgp["asn"])
	assert.Equal(t, true, bgp["keep"])

	// "missing" looked up asn before or after the nested allocate; either
	// way the value is the node's or nil, never an error.
	if out["missing"] != nil {
		assert.Equal(t, "65001", out["missing"])
	}
}

func TestResolve_LookupWithoutAssignmentIsNil(t *testing.T) {
	a, _ := newAllocator(t, map[string]string{"mgmt": "10.0.0.1: null\n"})
	out, err := a.Resolve(context.Background(), map[string]any{"ip": "lookup('mgmt')"}, "N1")
	require.NoError(t, err)
	v, ok := out["ip"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestResolve_PropagatesErrors(t *testing.T) {
	a, _ := newAllocator(t, map[string]string{"asn": "65001: X\n"})
	_, err := a.Resolve(context.Background(), map[string]any{
		"n": map[string]any{"asn": "allocate('asn')"},
	}, "N1")
	assert.True(t, errors.Is(err, ErrPoolExhausted), "err = %v", err)
}
