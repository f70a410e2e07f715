package controllers

import (
	"context"
	"sync"
)

// ErrorController holds the error-commands section: best-effort recovery
// commands the fault boundary runs when the install fails. Command failures
// here are logged and never mask the original fault.
type ErrorController struct {
	Base

	mu   sync.Mutex
	cmds []Command
}

var _ Controller = (*ErrorController)(nil)

func NewErrorController(rt *Runtime) *ErrorController {
	c := &ErrorController{
		Base: newBase(rt, "error", "error-commands", "", ""),
	}
	c.interactive = interactivityForcedOff
	return c
}

func (c *ErrorController) SetupAutoinstall(ctx context.Context) error {
	var cmds []Command
	found, err := c.decodeSection(&cmds)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = cmds
	return nil
}

// HasCommands reports whether recovery commands were declared.
func (c *ErrorController) HasCommands() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cmds) > 0
}

// Run executes the recovery commands, continuing past failures.
func (c *ErrorController) Run(ctx context.Context) {
	c.mu.Lock()
	cmds := append([]Command(nil), c.cmds...)
	c.mu.Unlock()

	for i, cmd := range cmds {
		if err := cmd.Run(ctx); err != nil {
			c.logger.WithError(err).Errorf("error command %d (%s) failed", i+1, cmd)
		}
	}
}

func (c *ErrorController) MakeAutoinstall() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cmds) == 0 {
		return nil
	}
	return append([]Command(nil), c.cmds...)
}
