// Package statemachine tracks the installer's application state: the coarse
// phase of the run that clients poll and the orchestrator advances.
package statemachine

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/provisionhq/stagehand/api/pkg/logger"
	"github.com/provisionhq/stagehand/api/types"
)

// Persister stores the current state durably. It is called with the machine's
// lock held, before any waiter observes the new state.
type Persister interface {
	PersistState(state types.ApplicationState) error
}

// stateMachine manages the application state for one server process. Only the
// orchestrator transitions it; everything else reads or waits.
type stateMachine struct {
	mu            sync.Mutex
	logger        logrus.FieldLogger
	persister     Persister
	currentState  types.ApplicationState
	changed       chan struct{}
	ordinals      map[types.ApplicationState]int
	eventHandlers map[types.ApplicationState]EventHandler
}

type Option func(*stateMachine)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(sm *stateMachine) {
		sm.logger = logger
	}
}

// WithPersister sets where states are written before waiters wake.
func WithPersister(persister Persister) Option {
	return func(sm *stateMachine) {
		sm.persister = persister
	}
}

// WithCurrentState overrides the starting state.
func WithCurrentState(state types.ApplicationState) Option {
	return func(sm *stateMachine) {
		sm.currentState = state
	}
}

// New creates a state machine starting in StateStartingUp.
func New(opts ...Option) *stateMachine {
	sm := &stateMachine{
		currentState:  types.StateStartingUp,
		changed:       make(chan struct{}),
		ordinals:      make(map[types.ApplicationState]int, len(types.ApplicationStates)),
		eventHandlers: make(map[types.ApplicationState]EventHandler),
	}
	for i, state := range types.ApplicationStates {
		sm.ordinals[state] = i
	}
	for _, opt := range opts {
		opt(sm)
	}
	if sm.logger == nil {
		sm.logger = logger.NewDiscardLogger()
	}
	return sm
}

func (sm *stateMachine) CurrentState() types.ApplicationState {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return sm.currentState
}

func (sm *stateMachine) PersistCurrent() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return sm.persist(sm.currentState)
}

func (sm *stateMachine) Transition(nextState types.ApplicationState) error {
	sm.mu.Lock()

	if nextState == sm.currentState {
		sm.mu.Unlock()
		return nil
	}
	if !sm.isValidTransition(sm.currentState, nextState) {
		defer sm.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", sm.currentState, nextState)
	}
	if err := sm.persist(nextState); err != nil {
		sm.mu.Unlock()
		return err
	}

	fromState := sm.currentState
	sm.currentState = nextState
	// Release every waiter blocked on the old state, then rearm.
	close(sm.changed)
	sm.changed = make(chan struct{})
	handler := sm.eventHandlers[nextState]
	sm.mu.Unlock()

	sm.logger.WithFields(logrus.Fields{"from": fromState, "to": nextState}).Info("application state changed")

	if handler != nil {
		if err := handler.TriggerHandler(context.Background(), fromState, nextState); err != nil {
			sm.logger.WithError(err).Error("state change event handler failed")
		}
	}
	return nil
}

func (sm *stateMachine) Wait(ctx context.Context, from types.ApplicationState) (types.ApplicationState, error) {
	for {
		sm.mu.Lock()
		current := sm.currentState
		changed := sm.changed
		sm.mu.Unlock()

		if current != from {
			return current, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-changed:
		}
	}
}

func (sm *stateMachine) RegisterEventHandler(targetState types.ApplicationState, handler EventHandlerFunc, options ...EventHandlerOption) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.eventHandlers[targetState] = NewEventHandler(handler, options...)
}

func (sm *stateMachine) UnregisterEventHandler(targetState types.ApplicationState) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.eventHandlers, targetState)
}

// isValidTransition enforces monotonic progression. Error and Exited order
// after Done, which makes them reachable from every earlier state while
// forbidding any step backwards.
func (sm *stateMachine) isValidTransition(currentState, nextState types.ApplicationState) bool {
	cur, ok := sm.ordinals[currentState]
	if !ok {
		return false
	}
	next, ok := sm.ordinals[nextState]
	if !ok {
		return false
	}
	return next > cur
}

func (sm *stateMachine) persist(state types.ApplicationState) error {
	if sm.persister == nil {
		return nil
	}
	if err := sm.persister.PersistState(state); err != nil {
		return fmt.Errorf("persist state %s: %w", state, err)
	}
	return nil
}
