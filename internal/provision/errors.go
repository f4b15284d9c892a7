package provision

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownNode is returned by Show when the node's .node file is
	// missing or unreadable.
	ErrUnknownNode = errors.New("unknown node")
	// ErrInvalidResource is returned for node ids that are not a single
	// path element.
	ErrInvalidResource = errors.New("invalid node resource")
	// ErrNoDefinition is returned when a node has neither a definition nor
	// a startup-config to build one from.
	ErrNoDefinition = errors.New("node has no definition")
	// ErrDefinitionNotFound is returned when a matched pattern points at a
	// missing definition template.
	ErrDefinitionNotFound = errors.New("definition template not found")
)

// StepError reports the workflow step that failed.
type StepError struct {
	Workflow string
	State    State
	NodeID   string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: state %s: node %s: %v", e.Workflow, e.State, e.NodeID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ValidationError is raised when a node no longer matches its persisted pattern.
type ValidationError struct {
	NodeID  string
	Pattern string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("node %s does not match pattern %q", e.NodeID, e.Pattern)
}
