package provision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// step runs one state and returns the next one.
type step func(ctx context.Context, rc *Context) (State, error)

// machine drives a transition table from a start state until StateNone.
// The table is built once per Controller and never modified.
type machine struct {
	workflow string
	steps    map[State]step
	logger   *zap.Logger
}

// run executes the workflow. The first step error aborts the run and is
// returned as a *StepError; writes made by earlier steps are kept.
func (m *machine) run(ctx context.Context, start State, rc *Context) error {
	began := time.Now()
	defer func() {
		workflowDuration.WithLabelValues(m.workflow).Observe(time.Since(began).Seconds())
	}()

	for state := start; state != StateNone; {
		fn, ok := m.steps[state]
		if !ok {
			return m.fail(state, rc, fmt.Errorf("no step registered"))
		}
		if err := ctx.Err(); err != nil {
			return m.fail(state, rc, err)
		}

		stateTransitionsTotal.WithLabelValues(m.workflow, state.String()).Inc()
		m.logger.Debug("entering state",
			zap.String("workflow", m.workflow),
			zap.Stringer("state", state),
			zap.String("node_id", rc.NodeID),
		)

		next, err := fn(ctx, rc)
		if err != nil {
			return m.fail(state, rc, err)
		}
		state = next
	}
	return nil
}

func (m *machine) fail(state State, rc *Context, err error) error {
	workflowFailuresTotal.WithLabelValues(m.workflow, state.String()).Inc()
	m.logger.Error("workflow step failed",
		zap.String("workflow", m.workflow),
		zap.Stringer("state", state),
		zap.String("node_id", rc.NodeID),
		zap.Error(err),
	)
	return &StepError{Workflow: m.workflow, State: state, NodeID: rc.NodeID, Err: err}
}
