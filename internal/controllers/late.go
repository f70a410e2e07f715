package controllers

import (
	"context"
	"sync"
)

// LateController runs the late-commands section after post-install
// configuration has been applied, while the target is still reachable. A
// failure fails the install.
type LateController struct {
	Base

	mu   sync.Mutex
	cmds []Command
}

var _ Controller = (*LateController)(nil)

func NewLateController(rt *Runtime) *LateController {
	c := &LateController{
		Base: newBase(rt, "late", "late-commands", "", ""),
	}
	c.interactive = interactivityForcedOff
	return c
}

func (c *LateController) SetupAutoinstall(ctx context.Context) error {
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

// Run executes the late commands in order.
func (c *LateController) Run(ctx context.Context) error {
	c.mu.Lock()
	cmds := append([]Command(nil), c.cmds...)
	c.mu.Unlock()

	if len(cmds) == 0 {
		return nil
	}

	c.rt.ReportStart("late", "")
	defer c.rt.ReportFinish("late", "")
	return runCommands(ctx, cmds)
}

func (c *LateController) MakeAutoinstall() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cmds) == 0 {
		return nil
	}
	return append([]Command(nil), c.cmds...)
}
