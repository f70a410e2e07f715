package controllers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/pkg/helpers"
)

// installStep is one named phase of the target write, reported to the event
// log as install/<name>.
type installStep struct {
	name        string
	description string
}

var writeSteps = []installStep{
	{name: "preparing", description: "preparing storage"},
	{name: "write", description: "writing system"},
	{name: "configure", description: "configuring system"},
}

// dryRunStepDelay stands in for the real work of a write step during dry
// runs.
const dryRunStepDelay = 200 * time.Millisecond

// InstallController owns the Running through Done part of the run: it waits
// for the install-phase models, takes the confirmation gate, drives the
// target write and the post-install phase, and hands off to updates and late
// commands. The write machinery itself lives behind injectable hooks; this
// stage owns only the flow around it.
type InstallController struct {
	Base

	updates *UpdatesController
	late    *LateController

	writeStep   func(ctx context.Context, step installStep) error
	postinstall func(ctx context.Context) error
	runUpdates  func(ctx context.Context) error
	stepDelay   time.Duration
}

var _ Controller = (*InstallController)(nil)

type InstallOption func(*InstallController)

// WithUpdatesStage wires the stage that decides whether the full update run
// happens.
func WithUpdatesStage(updates *UpdatesController) InstallOption {
	return func(c *InstallController) {
		c.updates = updates
	}
}

// WithLateStage wires the stage whose commands run right before Done.
func WithLateStage(late *LateController) InstallOption {
	return func(c *InstallController) {
		c.late = late
	}
}

// WithWriteStep replaces the per-step write backend.
func WithWriteStep(fn func(ctx context.Context, name, description string) error) InstallOption {
	return func(c *InstallController) {
		c.writeStep = func(ctx context.Context, step installStep) error {
			return fn(ctx, step.name, step.description)
		}
	}
}

// WithPostinstallHook replaces the post-install backend.
func WithPostinstallHook(fn func(ctx context.Context) error) InstallOption {
	return func(c *InstallController) {
		c.postinstall = fn
	}
}

// WithUpdatesRunner replaces the command that applies the full update run.
func WithUpdatesRunner(fn func(ctx context.Context) error) InstallOption {
	return func(c *InstallController) {
		c.runUpdates = fn
	}
}

func NewInstallController(rt *Runtime, opts ...InstallOption) *InstallController {
	c := &InstallController{
		Base:      newBase(rt, "install", "", "", ""),
		stepDelay: dryRunStepDelay,
	}
	c.interactive = interactivityForcedOff
	for _, opt := range opts {
		opt(c)
	}
	if c.writeStep == nil {
		c.writeStep = c.defaultWriteStep
	}
	if c.postinstall == nil {
		c.postinstall = c.defaultPostinstall
	}
	if c.runUpdates == nil {
		c.runUpdates = c.defaultRunUpdates
	}
	return c
}

// Start launches the install flow in the background. A failure anywhere in
// the flow lands at the orchestrator's fault boundary as an install-context
// fault; cancellation is a normal shutdown, not a fault.
func (c *InstallController) Start(ctx context.Context) error {
	go func() {
		if err := c.run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.rt.fault(c.name, true, err)
		}
	}()
	return nil
}

func (c *InstallController) run(ctx context.Context) error {
	c.logger.Debugf("waiting for install-phase configuration")
	if err := c.rt.Models.WaitInstallConfigured(ctx); err != nil {
		return err
	}

	if err := c.confirm(ctx); err != nil {
		return err
	}

	if err := c.rt.State.Transition(types.StateRunning); err != nil {
		return err
	}

	c.rt.ReportStart("install", "installing system")
	if err := c.writeTarget(ctx); err != nil {
		return fmt.Errorf("write target: %w", err)
	}
	c.rt.ReportFinish("install", "installing system")

	if err := c.rt.State.Transition(types.StatePostWait); err != nil {
		return err
	}

	c.logger.Debugf("waiting for post-install configuration")
	if err := c.rt.Models.WaitPostinstallConfigured(ctx); err != nil {
		return err
	}

	if err := c.rt.State.Transition(types.StatePostRunning); err != nil {
		return err
	}

	c.rt.ReportStart("postinstall", "final system configuration")
	if err := c.postinstall(ctx); err != nil {
		return fmt.Errorf("apply post-install configuration: %w", err)
	}
	c.rt.ReportFinish("postinstall", "final system configuration")

	if c.updates != nil && c.updates.Policy() == UpdatesAll {
		if err := c.rt.State.Transition(types.StateUpdatesRunning); err != nil {
			return err
		}
		c.rt.ReportStart("updates", "downloading and installing updates")
		if err := c.runUpdates(ctx); err != nil {
			return fmt.Errorf("apply updates: %w", err)
		}
		c.rt.ReportFinish("updates", "downloading and installing updates")
	}

	if c.late != nil {
		if err := c.late.Run(ctx); err != nil {
			return err
		}
	}

	c.logger.Infof("installation finished")
	return c.rt.State.Transition(types.StateDone)
}

// confirm takes the installation past the point of no return. Unattended
// runs grant it themselves; interactive runs park in NeedsConfirmation until
// a client posts the confirmation. A confirmation that arrived before the
// install models completed is honored without entering NeedsConfirmation.
func (c *InstallController) confirm(ctx context.Context) error {
	if c.rt.Models.Confirmed() {
		return nil
	}
	if !c.rt.Interactive() {
		c.logger.Infof("unattended run, confirming installation")
		c.rt.Models.Confirm()
		return nil
	}
	if err := c.rt.State.Transition(types.StateNeedsConfirmation); err != nil {
		return err
	}
	return c.rt.Models.WaitConfirmation(ctx)
}

func (c *InstallController) writeTarget(ctx context.Context) error {
	for _, step := range writeSteps {
		name := "install/" + step.name
		c.rt.ReportStart(name, step.description)
		if err := c.writeStep(ctx, step); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		c.rt.ReportFinish(name, step.description)
	}
	return nil
}

// defaultWriteStep is the stand-in backend: the write machinery proper is a
// collaborator wired in by the composing system.
func (c *InstallController) defaultWriteStep(ctx context.Context, step installStep) error {
	c.logger.WithField("step", step.name).Infof("%s", step.description)
	if !c.rt.DryRun {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.stepDelay):
		return nil
	}
}

func (c *InstallController) defaultPostinstall(ctx context.Context) error {
	c.logger.Infof("applying post-install configuration")
	return nil
}

// defaultRunUpdates applies the full update run on the installed system.
func (c *InstallController) defaultRunUpdates(ctx context.Context) error {
	if c.rt.DryRun {
		c.logger.Infof("dry-run, skipping unattended upgrades")
		return nil
	}
	err := helpers.RunCommandWithOptions(helpers.RunCommandOptions{
		Context:      ctx,
		LogOnSuccess: true,
	}, "unattended-upgrade", "--verbose")
	if err != nil {
		return fmt.Errorf("unattended-upgrade: %w", err)
	}
	return nil
}
