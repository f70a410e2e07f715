package controllers

import (
	"context"
	"sync"
)

// EarlyController runs the early-commands section before the rest of the
// autoinstall config is even validated. The orchestrator gates execution
// behind a stamp file so the commands run at most once across restarts.
type EarlyController struct {
	Base

	mu   sync.Mutex
	cmds []Command
}

var _ Controller = (*EarlyController)(nil)

func NewEarlyController(rt *Runtime) *EarlyController {
	c := &EarlyController{
		Base: newBase(rt, "early", "early-commands", "", ""),
	}
	c.interactive = interactivityForcedOff
	return c
}

func (c *EarlyController) SetupAutoinstall(ctx context.Context) error {
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

// HasCommands reports whether the section declared any commands.
func (c *EarlyController) HasCommands() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cmds) > 0
}

// Run executes the early commands in order. A failure is fatal for the run:
// the operator asked for these commands before anything else happens.
func (c *EarlyController) Run(ctx context.Context) error {
	c.mu.Lock()
	cmds := append([]Command(nil), c.cmds...)
	c.mu.Unlock()

	c.rt.ReportStart("early", "")
	defer c.rt.ReportFinish("early", "")
	return runCommands(ctx, cmds)
}

func (c *EarlyController) MakeAutoinstall() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cmds) == 0 {
		return nil
	}
	return append([]Command(nil), c.cmds...)
}
