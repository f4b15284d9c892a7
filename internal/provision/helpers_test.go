package provision

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/HerbHall/ztpserver/internal/event"
	"github.com/HerbHall/ztpserver/internal/neighbordb"
	"github.com/HerbHall/ztpserver/internal/repository"
	"github.com/HerbHall/ztpserver/internal/resources"
	"github.com/HerbHall/ztpserver/internal/testutil"
)

const (
	testNeighbordb = `
patterns:
  - name: leaf
    definition: leaf
    interfaces:
      - Ethernet1: spine1:Ethernet1
  - name: leaf-fallback
    definition: leaf
    interfaces:
      - any: includes('spine'):any
`
	testDefinition = `
name: leaf template
attributes:
  ntp: 10.1.1.1
  image_url: /images/default.swi
actions:
  - name: configure hostname
    action: add_config
    attributes:
      url: /files/templates/hostname
      variables:
        hostname: $hostname
        ntp: $ntp
  - name: install image
    action: install_image
    always_execute: true
    attributes:
      url: $image_url
  - name: assign management address
    action: add_config
    attributes:
      ip: allocate('mgmt')
`
	testPool = `
10.0.0.10: null
10.0.0.11: null
`
)

// recorder is an event.Publisher that keeps every event in order.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(_ context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) PublishAsync(ctx context.Context, e event.Event) {
	_ = r.Publish(ctx, e)
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Topic)
	}
	return out
}

type harness struct {
	ctrl *Controller
	repo *repository.Repository
	bus  *recorder
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	repo := repository.New(repository.NewMemoryBackend())
	testutil.SeedRepository(t, repo, map[string]string{
		"neighbordb":       testNeighbordb,
		"definitions/leaf": testDefinition,
		"resources/mgmt":   testPool,
	})
	logger := zaptest.NewLogger(t)
	bus := &recorder{}
	ctrl := NewController(
		repo,
		neighbordb.NewLoader(repo, "neighbordb"),
		resources.New(repo, logger),
		bus,
		opts,
		logger,
	)
	return &harness{ctrl: ctrl, repo: repo, bus: bus}
}

func (h *harness) exists(t *testing.T, p string) bool {
	t.Helper()
	ok, err := h.repo.Exists(context.Background(), p)
	require.NoError(t, err)
	return ok
}

func (h *harness) read(t *testing.T, p string) []byte {
	t.Helper()
	f, err := h.repo.GetFile(context.Background(), p)
	require.NoError(t, err)
	data, err := f.Bytes(context.Background())
	require.NoError(t, err)
	return data
}
