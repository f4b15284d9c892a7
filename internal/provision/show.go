package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/neighbordb"
	"github.com/HerbHall/ztpserver/internal/repository"
	"github.com/HerbHall/ztpserver/pkg/models"
)

const startupConfigActionName = "install static startup-config file"

func (c *Controller) getDefinition(ctx context.Context, rc *Context) (State, error) {
	f, err := c.repo.GetFile(ctx, nodePath(rc.NodeID, definitionFile))
	if errors.Is(err, repository.ErrNotFound) {
		c.logger.Warn("node has no definition", zap.String("node_id", rc.NodeID))
		return StateDoValidation, nil
	}
	if err != nil {
		return StateNone, err
	}
	var def models.Definition
	if err := f.Read(ctx, repository.ContentTypeYAML, &def); err != nil {
		return StateNone, err
	}
	rc.Definition = &def
	return StateDoValidation, nil
}

func (c *Controller) doValidation(ctx context.Context, rc *Context) (State, error) {
	if c.opts.DisableTopologyValidation {
		c.logger.Warn("topology validation disabled", zap.String("node_id", rc.NodeID))
		return StateGetStartupConfig, nil
	}

	pattern, err := neighbordb.LoadPattern(ctx, c.repo, nodePath(rc.NodeID, patternFile))
	if errors.Is(err, repository.ErrNotFound) {
		// Nodes registered with a startup-config were never matched.
		c.logger.Warn("node has no pattern, skipping validation", zap.String("node_id", rc.NodeID))
		return StateGetStartupConfig, nil
	}
	if err != nil {
		return StateNone, err
	}
	if !pattern.Match(rc.Node) {
		return StateNone, &ValidationError{NodeID: rc.NodeID, Pattern: pattern.Name()}
	}
	rc.Pattern = pattern
	return StateGetStartupConfig, nil
}

func (c *Controller) getStartupConfig(ctx context.Context, rc *Context) (State, error) {
	ok, err := c.repo.Exists(ctx, nodePath(rc.NodeID, startupConfigFile))
	if err != nil {
		return StateNone, err
	}
	if !ok {
		return StateDoActions, nil
	}

	rc.HasStartupConfig = true
	if rc.Definition == nil {
		rc.Definition = models.NewAutogeneratedDefinition()
	}
	rc.Definition.Actions = append(rc.Definition.Actions, models.Action{
		Name:          startupConfigActionName,
		Action:        "replace_config",
		AlwaysExecute: true,
		Attributes: map[string]any{
			"url": c.url("/nodes/" + rc.NodeID + "/startup-config"),
		},
	})
	return StateDoActions, nil
}

// doActions keeps an action when it is always_execute or when the node has
// not been configured yet.
func (c *Controller) doActions(_ context.Context, rc *Context) (State, error) {
	if rc.Definition == nil {
		return StateNone, ErrNoDefinition
	}
	kept := make([]models.Action, 0, len(rc.Definition.Actions))
	for _, a := range rc.Definition.Actions {
		if a.AlwaysExecute || !rc.HasStartupConfig {
			kept = append(kept, a)
		}
	}
	rc.Definition.Actions = kept
	return StateGetAttributes, nil
}

func (c *Controller) getAttributes(ctx context.Context, rc *Context) (State, error) {
	rc.Attributes = map[string]any{}
	f, err := c.repo.GetFile(ctx, nodePath(rc.NodeID, attributesFile))
	if errors.Is(err, repository.ErrNotFound) {
		return StateDoSubstitution, nil
	}
	if err != nil {
		return StateNone, err
	}
	if err := f.Read(ctx, repository.ContentTypeYAML, &rc.Attributes); err != nil {
		return StateNone, err
	}
	if rc.Attributes == nil {
		rc.Attributes = map[string]any{}
	}
	return StateDoSubstitution, nil
}

func (c *Controller) doSubstitution(_ context.Context, rc *Context) (State, error) {
	rc.Unresolved = substituteActions(rc.Definition.Actions, scopes{rc.Attributes, rc.Definition.Attributes})
	if len(rc.Unresolved) > 0 {
		c.logger.Debug("unresolved variables",
			zap.String("node_id", rc.NodeID),
			zap.Strings("names", rc.Unresolved),
		)
	}
	return StateDoResources, nil
}

func (c *Controller) doResources(ctx context.Context, rc *Context) (State, error) {
	if c.resources == nil {
		return StateFinalizeResponse, nil
	}
	for i := range rc.Definition.Actions {
		attrs, err := c.resources.Resolve(ctx, rc.Definition.Actions[i].Attributes, rc.NodeID)
		if err != nil {
			return StateNone, err
		}
		rc.Definition.Actions[i].Attributes = attrs
	}
	return StateFinalizeResponse, nil
}

func (c *Controller) finalizeResponse(_ context.Context, rc *Context) (State, error) {
	body, err := json.Marshal(models.ResolvedDefinition{
		Name:    rc.Definition.Name,
		Actions: rc.Definition.Actions,
	})
	if err != nil {
		return StateNone, err
	}
	if rc.Response.Status == 0 {
		rc.Response.Status = http.StatusOK
	}
	rc.Response.ContentType = "application/json"
	rc.Response.Body = body
	return StateNone, nil
}
