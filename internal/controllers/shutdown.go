package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/pkg/helpers"
)

// ShutdownMode is what happens to the machine once the run is over. The
// values double as systemctl verbs.
type ShutdownMode string

const (
	ShutdownReboot   ShutdownMode = "reboot"
	ShutdownPoweroff ShutdownMode = "poweroff"
)

// ShutdownData is the shutdown stage's API payload.
type ShutdownData struct {
	Mode ShutdownMode `json:"mode"`
}

// ShutdownController takes the machine down after a successful run.
// Unattended runs shut down on their own when the run reaches Done;
// interactive runs wait for a client to post the request. A run that ends in
// Error never shuts down, so the session stays reachable for debugging.
type ShutdownController struct {
	Base

	systemctl func(ctx context.Context, verb string) error

	mu   sync.Mutex
	mode ShutdownMode
	set  bool

	fired atomic.Bool
}

var _ Controller = (*ShutdownController)(nil)

type ShutdownOption func(*ShutdownController)

// WithSystemctl replaces the command that performs the shutdown.
func WithSystemctl(fn func(ctx context.Context, verb string) error) ShutdownOption {
	return func(c *ShutdownController) {
		c.systemctl = fn
	}
}

func NewShutdownController(rt *Runtime, opts ...ShutdownOption) *ShutdownController {
	c := &ShutdownController{
		Base: newBase(rt, "shutdown", "shutdown", "", "shutdown"),
		mode: ShutdownReboot,
	}
	c.interactive = interactivityForcedOff
	for _, opt := range opts {
		opt(c)
	}
	if c.systemctl == nil {
		c.systemctl = runSystemctl
	}
	return c
}

func (c *ShutdownController) SetupAutoinstall(ctx context.Context) error {
	var mode ShutdownMode
	found, err := c.decodeSection(&mode)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := validateShutdownMode(mode); err != nil {
		return fmt.Errorf("shutdown section: %w", err)
	}
	c.setMode(mode)
	return nil
}

func (c *ShutdownController) MakeAutoinstall() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return nil
	}
	return string(c.mode)
}

// Start watches for the run to finish. The watcher stops quietly on Error or
// on shutdown of the server itself.
func (c *ShutdownController) Start(ctx context.Context) error {
	go func() {
		state := c.rt.State.CurrentState()
		for state != types.StateDone {
			if state == types.StateError || state == types.StateExited {
				return
			}
			next, err := c.rt.State.Wait(ctx, state)
			if err != nil {
				return
			}
			state = next
		}
		if !c.rt.Interactive() {
			if err := c.trigger(ctx); err != nil {
				c.logger.WithError(err).Errorf("automatic shutdown failed")
			}
		}
	}()
	return nil
}

func (c *ShutdownController) GetData(ctx context.Context) (any, error) {
	return ShutdownData{Mode: c.Mode()}, nil
}

// SetData is the client's "reboot now". It takes effect immediately,
// whatever state the run is in.
func (c *ShutdownController) SetData(ctx context.Context, data json.RawMessage) error {
	var req ShutdownData
	if err := json.Unmarshal(data, &req); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse shutdown: %w", err))
	}
	if req.Mode != "" {
		if err := validateShutdownMode(req.Mode); err != nil {
			return types.NewBadRequestError(err)
		}
		c.setMode(req.Mode)
	}
	return c.trigger(ctx)
}

// Mode returns the mode the machine will shut down with.
func (c *ShutdownController) Mode() ShutdownMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *ShutdownController) setMode(mode ShutdownMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	c.set = true
}

// trigger performs the shutdown exactly once. Dry runs end the server
// instead of the machine.
func (c *ShutdownController) trigger(ctx context.Context) error {
	if !c.fired.CompareAndSwap(false, true) {
		return nil
	}
	mode := c.Mode()
	c.rt.ReportStart("shutdown", string(mode))
	if c.rt.DryRun {
		c.logger.Infof("dry-run, exiting instead of %s", mode)
		c.rt.requestExit()
		return nil
	}
	c.logger.Infof("shutting down: %s", mode)
	if err := c.systemctl(ctx, string(mode)); err != nil {
		return fmt.Errorf("%s: %w", mode, err)
	}
	return nil
}

func runSystemctl(ctx context.Context, verb string) error {
	return helpers.RunCommandWithOptions(helpers.RunCommandOptions{
		Context:      ctx,
		LogOnSuccess: true,
	}, "systemctl", verb)
}

func validateShutdownMode(mode ShutdownMode) error {
	switch mode {
	case ShutdownReboot, ShutdownPoweroff:
		return nil
	default:
		return fmt.Errorf("shutdown mode must be %q or %q, got %q", ShutdownReboot, ShutdownPoweroff, mode)
	}
}
