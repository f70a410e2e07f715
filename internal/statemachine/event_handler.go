package statemachine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/provisionhq/stagehand/api/types"
)

// eventHandler holds a state-change handler and the time it gets to finish.
type eventHandler struct {
	handler EventHandlerFunc
	timeout time.Duration
}

// TriggerHandler runs the handler for one transition. The call blocks until
// the handler completes or times out; a handler panic is captured and
// returned without affecting the transition.
func (eh *eventHandler) TriggerHandler(ctx context.Context, fromState, toState types.ApplicationState) error {
	ctx, cancel := context.WithTimeout(ctx, eh.timeout)
	defer cancel()
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("event handler panic from %s to %s: %v: %s", fromState, toState, r, debug.Stack())
			}
		}()
		eh.handler(ctx, fromState, toState)
		close(done)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("event handler for transition from %s to %s timed out after %s", fromState, toState, eh.timeout)
	}
}
