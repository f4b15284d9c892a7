// Package provision implements node registration and definition resolution
// as two workflows over a shared state-machine driver.
package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/event"
	"github.com/HerbHall/ztpserver/internal/neighbordb"
	"github.com/HerbHall/ztpserver/internal/repository"
	"github.com/HerbHall/ztpserver/pkg/models"
)

// Per-node artifact names under nodes/{id}/.
const (
	nodeFile          = ".node"
	definitionFile    = "definition"
	patternFile       = "pattern"
	attributesFile    = "attributes"
	startupConfigFile = "startup-config"
)

// PatternMatcher returns the patterns a node satisfies, in priority order.
type PatternMatcher interface {
	MatchNode(ctx context.Context, node *models.Node) ([]*neighbordb.Pattern, error)
}

// ResourceResolver expands resource functions in action attributes.
type ResourceResolver interface {
	Resolve(ctx context.Context, attrs map[string]any, nodeID string) (map[string]any, error)
}

// Options tunes controller behavior.
type Options struct {
	Identifier                models.IdentifierField
	DisableTopologyValidation bool
	SerializeRegistrations    bool
	// BaseURL prefixes Location headers and action URLs. Empty yields
	// root-relative paths.
	BaseURL string
}

// Controller serves the /nodes workflows.
type Controller struct {
	repo      *repository.Repository
	patterns  PatternMatcher
	resources ResourceResolver
	bus       event.Publisher
	opts      Options
	logger    *zap.Logger

	create *machine
	show   *machine

	nodeLocks sync.Map // node id -> *sync.Mutex
}

// NewController wires the workflows. bus may be nil.
func NewController(
	repo *repository.Repository,
	patterns PatternMatcher,
	resources ResourceResolver,
	bus event.Publisher,
	opts Options,
	logger *zap.Logger,
) *Controller {
	if opts.Identifier == "" {
		opts.Identifier = models.IdentifierSerialNumber
	}
	c := &Controller{
		repo:      repo,
		patterns:  patterns,
		resources: resources,
		bus:       bus,
		opts:      opts,
		logger:    logger,
	}
	c.create = &machine{
		workflow: WorkflowCreate,
		logger:   logger,
		steps: map[State]step{
			StateNodeExists:  c.nodeExists,
			StatePostConfig:  c.postConfig,
			StatePostNode:    c.postNode,
			StateDumpNode:    c.dumpNode,
			StateSetLocation: c.setLocation,
		},
	}
	c.show = &machine{
		workflow: WorkflowShow,
		logger:   logger,
		steps: map[State]step{
			StateGetDefinition:    c.getDefinition,
			StateDoValidation:     c.doValidation,
			StateGetStartupConfig: c.getStartupConfig,
			StateDoActions:        c.doActions,
			StateGetAttributes:    c.getAttributes,
			StateDoSubstitution:   c.doSubstitution,
			StateDoResources:      c.doResources,
			StateFinalizeResponse: c.finalizeResponse,
		},
	}
	return c
}

// Create registers a node from a raw POST body.
func (c *Controller) Create(ctx context.Context, body []byte) (Response, error) {
	node, err := models.ParseNode(body, c.opts.Identifier)
	if err != nil {
		return Response{}, err
	}
	cfg, err := parseConfigField(body)
	if err != nil {
		return Response{}, err
	}

	if c.opts.SerializeRegistrations {
		mu := c.lockNode(node.Identifier)
		mu.Lock()
		defer mu.Unlock()
	}

	rc := &Context{NodeID: node.Identifier, Node: node, Config: cfg}
	if err := c.create.run(ctx, StateNodeExists, rc); err != nil {
		c.publish(ctx, event.TopicNodeFailed, failedEvent(WorkflowCreate, rc.NodeID, err))
		return Response{}, err
	}

	ev := &event.NodeEvent{NodeID: rc.NodeID, Workflow: WorkflowCreate, Status: rc.Response.Status}
	if rc.Pattern != nil {
		ev.Pattern = rc.Pattern.Name()
		ev.Definition = rc.Pattern.Definition()
	}
	topic := event.TopicNodeRegistered
	if rc.Response.Status == http.StatusConflict {
		topic = event.TopicNodeConflict
	}
	c.publish(ctx, topic, ev)
	return rc.Response, nil
}

// Show resolves the definition served to a registered node.
func (c *Controller) Show(ctx context.Context, resource string) (Response, error) {
	if err := checkResource(resource); err != nil {
		return Response{}, err
	}
	node, err := c.loadNode(ctx, resource)
	if err != nil {
		return Response{}, err
	}

	rc := &Context{NodeID: resource, Node: node}
	if err := c.show.run(ctx, StateGetDefinition, rc); err != nil {
		c.publish(ctx, event.TopicNodeFailed, failedEvent(WorkflowShow, rc.NodeID, err))
		return Response{}, err
	}

	ev := &event.NodeEvent{NodeID: rc.NodeID, Workflow: WorkflowShow, Status: rc.Response.Status}
	if rc.Definition != nil {
		ev.Definition = rc.Definition.Name
	}
	c.publish(ctx, event.TopicNodeResolved, ev)
	return rc.Response, nil
}

// GetStartupConfig returns the node's stored startup-config verbatim.
func (c *Controller) GetStartupConfig(ctx context.Context, resource string) ([]byte, error) {
	if err := checkResource(resource); err != nil {
		return nil, err
	}
	f, err := c.repo.GetFile(ctx, nodePath(resource, startupConfigFile))
	if err != nil {
		return nil, err
	}
	return f.Bytes(ctx)
}

// PutStartupConfig stores body as the node's startup-config. It reports
// whether the file was newly created.
func (c *Controller) PutStartupConfig(ctx context.Context, resource string, body []byte) (bool, error) {
	if err := checkResource(resource); err != nil {
		return false, err
	}
	p := nodePath(resource, startupConfigFile)
	existed, err := c.repo.Exists(ctx, p)
	if err != nil {
		return false, err
	}
	f, err := c.repo.OpenOrCreate(ctx, p)
	if err != nil {
		return false, err
	}
	if err := f.Write(ctx, body, repository.ContentTypeText); err != nil {
		return false, err
	}

	c.logger.Info("startup-config saved",
		zap.String("node_id", resource),
		zap.Int("bytes", len(body)),
		zap.Bool("created", !existed),
	)
	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	c.publish(ctx, event.TopicStartupConfigSaved, &event.NodeEvent{NodeID: resource, Status: status})
	return !existed, nil
}

func (c *Controller) loadNode(ctx context.Context, resource string) (*models.Node, error) {
	f, err := c.repo.GetFile(ctx, nodePath(resource, nodeFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownNode, resource, err)
	}
	data, err := f.Bytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownNode, resource, err)
	}
	// The stored descriptor already carries its identifier.
	node, err := models.ParseNode(data, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownNode, resource, err)
	}
	return node, nil
}

func (c *Controller) lockNode(id string) *sync.Mutex {
	mu, _ := c.nodeLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (c *Controller) publish(ctx context.Context, topic string, ev *event.NodeEvent) {
	if c.bus == nil {
		return
	}
	c.bus.PublishAsync(ctx, event.Event{
		Topic:     topic,
		Source:    "provision",
		Timestamp: time.Now().UTC(),
		Payload:   ev,
	})
}

func (c *Controller) url(p string) string {
	return strings.TrimRight(c.opts.BaseURL, "/") + p
}

func failedEvent(workflow, nodeID string, err error) *event.NodeEvent {
	ev := &event.NodeEvent{NodeID: nodeID, Workflow: workflow, Status: http.StatusBadRequest, Error: err.Error()}
	var se *StepError
	if errors.As(err, &se) {
		ev.State = se.State.String()
	}
	return ev
}

func nodePath(id, name string) string {
	return path.Join("nodes", id, name)
}

// checkResource rejects ids that would escape nodes/{id}.
func checkResource(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidResource, id)
	}
	return nil
}
