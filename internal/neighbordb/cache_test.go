package neighbordb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/HerbHall/ztpserver/internal/repository"
	"github.com/HerbHall/ztpserver/pkg/models"
)

func TestCache_KeepsPreviousOnBadReload(t *testing.T) {
	ctx := context.Background()
	repo := repository.New(repository.NewMemoryBackend())
	f, err := repo.AddFile(ctx, "neighbordb")
	require.NoError(t, err)
	require.NoError(t, f.Write(ctx, testDB, repository.ContentTypeText))

	c := NewCache(NewLoader(repo, "neighbordb"), zaptest.NewLogger(t))
	got, err := c.MatchNode(ctx, node("ABC123", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"pinned"}, names(got))

	require.NoError(t, f.Write(ctx, "patterns: [{name: broken}]", repository.ContentTypeText))
	assert.Error(t, c.Reload(ctx))

	got, err = c.MatchNode(ctx, node("ABC123", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"pinned"}, names(got))
}

func TestCache_WatchReloadsOnWrite(t *testing.T) {
	root := t.TempDir()
	backend, err := repository.NewOSBackend(root)
	require.NoError(t, err)
	repo := repository.New(backend)

	diskPath := filepath.Join(root, "neighbordb")
	require.NoError(t, os.WriteFile(diskPath, []byte(`
patterns:
  - {name: first, definition: d, node: N1}
`), 0o644))

	c := NewCache(NewLoader(repo, "neighbordb"), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Reload(ctx))

	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, diskPath) }()
	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(diskPath, []byte(`
patterns:
  - {name: second, definition: d, node: N1}
`), 0o644))

	n := &models.Node{Identifier: "N1", Neighbors: map[string][]models.Neighbor{}}
	require.Eventually(t, func() bool {
		got, err := c.MatchNode(ctx, n)
		return err == nil && len(got) == 1 && got[0].Name() == "second"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestCache_WatchCreatesMissingDirectory(t *testing.T) {
	root := t.TempDir()
	backend, err := repository.NewOSBackend(root)
	require.NoError(t, err)
	repo := repository.New(backend)

	c := NewCache(NewLoader(repo, "patterns/neighbordb"), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.Error(t, c.Reload(ctx))

	diskPath := filepath.Join(root, "patterns", "neighbordb")
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, diskPath) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Dir(diskPath))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(diskPath, []byte(`
patterns:
  - {name: late, definition: d, node: N1}
`), 0o644))

	n := &models.Node{Identifier: "N1", Neighbors: map[string][]models.Neighbor{}}
	require.Eventually(t, func() bool {
		got, err := c.MatchNode(ctx, n)
		return err == nil && len(got) == 1 && got[0].Name() == "late"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestCache_WatchSetupFailureIsNotFatal(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	repo := repository.New(repository.NewMemoryBackend())
	c := NewCache(NewLoader(repo, "neighbordb"), zaptest.NewLogger(t))

	// The parent is a regular file, so the directory cannot be created.
	err := c.Watch(context.Background(), filepath.Join(blocker, "neighbordb"))
	assert.NoError(t, err)
}
