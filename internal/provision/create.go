package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/neighbordb"
	"github.com/HerbHall/ztpserver/internal/repository"
	"github.com/HerbHall/ztpserver/pkg/models"
)

// parseConfigField extracts the optional "config" string from a
// registration body.
func parseConfigField(body []byte) (*string, error) {
	var payload struct {
		Config *string `json:"config"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: config: %v", models.ErrInvalidNode, err)
	}
	return payload.Config, nil
}

func (c *Controller) nodeExists(ctx context.Context, rc *Context) (State, error) {
	for _, name := range []string{definitionFile, startupConfigFile} {
		ok, err := c.repo.Exists(ctx, nodePath(rc.NodeID, name))
		if err != nil {
			return StateNone, err
		}
		if ok {
			c.logger.Info("node already registered",
				zap.String("node_id", rc.NodeID),
				zap.String("found", name),
			)
			rc.Response.Status = http.StatusConflict
			return StateDumpNode, nil
		}
	}
	return StatePostConfig, nil
}

func (c *Controller) postConfig(ctx context.Context, rc *Context) (State, error) {
	if rc.Config == nil {
		return StatePostNode, nil
	}
	if err := c.repo.AddFolder(ctx, nodePath(rc.NodeID, "")); err != nil {
		return StateNone, err
	}
	f, err := c.repo.OpenOrCreate(ctx, nodePath(rc.NodeID, startupConfigFile))
	if err != nil {
		return StateNone, err
	}
	if err := f.Write(ctx, *rc.Config, repository.ContentTypeText); err != nil {
		return StateNone, err
	}
	c.logger.Info("node registered with startup-config", zap.String("node_id", rc.NodeID))
	rc.Response.Status = http.StatusCreated
	return StateSetLocation, nil
}

func (c *Controller) postNode(ctx context.Context, rc *Context) (State, error) {
	matches, err := c.patterns.MatchNode(ctx, rc.Node)
	if err != nil {
		return StateNone, err
	}
	if len(matches) == 0 {
		return StateNone, neighbordb.ErrNoMatch
	}
	pattern := matches[0]
	if len(matches) > 1 {
		c.logger.Debug("node matched several patterns, using the first",
			zap.String("node_id", rc.NodeID),
			zap.Int("matches", len(matches)),
		)
	}

	// Read the template before writing anything so a bad reference leaves
	// the node unregistered.
	var def models.Definition
	tmpl, err := c.repo.GetFile(ctx, "definitions/"+pattern.Definition())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return StateNone, fmt.Errorf("%w: %s", ErrDefinitionNotFound, pattern.Definition())
		}
		return StateNone, err
	}
	if err := tmpl.Read(ctx, repository.ContentTypeYAML, &def); err != nil {
		return StateNone, err
	}

	defFile, err := c.repo.OpenOrCreate(ctx, nodePath(rc.NodeID, definitionFile))
	if err != nil {
		return StateNone, err
	}
	if err := defFile.Write(ctx, def, repository.ContentTypeYAML); err != nil {
		return StateNone, err
	}
	patFile, err := c.repo.OpenOrCreate(ctx, nodePath(rc.NodeID, patternFile))
	if err != nil {
		return StateNone, err
	}
	if err := patFile.Write(ctx, pattern.Spec(), repository.ContentTypeYAML); err != nil {
		return StateNone, err
	}

	c.logger.Info("node registered",
		zap.String("node_id", rc.NodeID),
		zap.String("pattern", pattern.Name()),
		zap.String("definition", pattern.Definition()),
	)
	rc.Pattern = pattern
	rc.Response.Status = http.StatusCreated
	return StateDumpNode, nil
}

func (c *Controller) dumpNode(ctx context.Context, rc *Context) (State, error) {
	f, err := c.repo.OpenOrCreate(ctx, nodePath(rc.NodeID, nodeFile))
	if err != nil {
		return StateNone, err
	}
	if err := f.Write(ctx, rc.Node, repository.ContentTypeJSON); err != nil {
		return StateNone, err
	}
	return StateSetLocation, nil
}

func (c *Controller) setLocation(_ context.Context, rc *Context) (State, error) {
	rc.Response.Location = c.url("/nodes/" + rc.NodeID)
	return StateNone, nil
}
