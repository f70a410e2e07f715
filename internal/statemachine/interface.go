package statemachine

import (
	"context"
	"time"

	"github.com/provisionhq/stagehand/api/types"
)

var (
	_ Interface    = (*stateMachine)(nil)
	_ EventHandler = (*eventHandler)(nil)
)

// Interface is the application state machine the rest of the server programs
// against. States advance monotonically through the run; Error and Exited sit
// past Done so they are reachable from any earlier state, and nothing follows
// Exited.
type Interface interface {
	// CurrentState returns the current state.
	CurrentState() types.ApplicationState
	// Transition moves to nextState. The new state is persisted before any
	// waiter observes it. Transitioning to the current state is a no-op.
	Transition(nextState types.ApplicationState) error
	// Wait blocks until the state differs from `from`, then returns the
	// state it observed. A transition away from `from` releases every
	// waiter exactly once.
	Wait(ctx context.Context, from types.ApplicationState) (types.ApplicationState, error)
	// PersistCurrent writes the current state without a transition, so the
	// state file exists before the first client asks.
	PersistCurrent() error
	// Enable event handlers for state transitions
	WithEventHandlers
}

// WithEventHandlers is an interface that allows registering and unregistering
// event handlers for state transitions.
type WithEventHandlers interface {
	// RegisterEventHandler registers a sync event handler run after each
	// transition into targetState.
	RegisterEventHandler(targetState types.ApplicationState, handler EventHandlerFunc, options ...EventHandlerOption)
	// UnregisterEventHandler removes the handler for targetState.
	UnregisterEventHandler(targetState types.ApplicationState)
}

type EventHandler interface {
	// TriggerHandler triggers the event handler for a state transition.
	TriggerHandler(ctx context.Context, fromState, toState types.ApplicationState) error
}

// EventHandlerFunc is a function that handles state transition events. Used
// to report state changes.
type EventHandlerFunc func(ctx context.Context, fromState, toState types.ApplicationState)

// EventHandlerOption is a configurable event handler option.
type EventHandlerOption func(*eventHandler)

// WithHandlerTimeout sets the timeout for the event handler to complete.
func WithHandlerTimeout(timeout time.Duration) EventHandlerOption {
	return func(eh *eventHandler) {
		eh.timeout = timeout
	}
}

// NewEventHandler creates a new event handler with the provided function and
// options.
func NewEventHandler(handler EventHandlerFunc, options ...EventHandlerOption) EventHandler {
	eh := &eventHandler{
		handler: handler,
		timeout: 5 * time.Second,
	}

	for _, option := range options {
		option(eh)
	}

	return eh
}
