package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/provisionhq/stagehand/api/types"
)

// Update policies for the freshly installed system.
const (
	UpdatesSecurity = "security"
	UpdatesAll      = "all"
)

// UpdatesController owns the post-install update policy: security updates
// only, or everything.
type UpdatesController struct {
	Base

	mu     sync.Mutex
	policy string
	set    bool
}

var _ Controller = (*UpdatesController)(nil)

func NewUpdatesController(rt *Runtime) *UpdatesController {
	return &UpdatesController{
		Base:   newBase(rt, "updates", "updates", "updates", "updates"),
		policy: UpdatesSecurity,
	}
}

func (c *UpdatesController) LoadState(ctx context.Context) error {
	var policy string
	found, err := c.loadJSON(&policy)
	if err != nil {
		return err
	}
	if found {
		c.setPolicy(policy)
	}
	return nil
}

func (c *UpdatesController) SetupAutoinstall(ctx context.Context) error {
	var policy string
	found, err := c.decodeSection(&policy)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := validateUpdatesPolicy(policy); err != nil {
		return fmt.Errorf("updates section: %w", err)
	}
	c.setPolicy(policy)
	return nil
}

func (c *UpdatesController) Configured(ctx context.Context) error {
	if err := c.saveJSON(c.Policy()); err != nil {
		return err
	}
	c.MarkConfigured()
	return nil
}

func (c *UpdatesController) MakeAutoinstall() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return nil
	}
	return c.policy
}

func (c *UpdatesController) GetData(ctx context.Context) (any, error) {
	return c.Policy(), nil
}

func (c *UpdatesController) SetData(ctx context.Context, data json.RawMessage) error {
	var policy string
	if err := json.Unmarshal(data, &policy); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse updates: %w", err))
	}
	if err := validateUpdatesPolicy(policy); err != nil {
		return types.NewBadRequestError(err)
	}
	c.setPolicy(policy)
	return c.Configured(ctx)
}

// Policy returns the chosen update policy.
func (c *UpdatesController) Policy() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

func (c *UpdatesController) setPolicy(policy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
	c.set = true
}

func validateUpdatesPolicy(policy string) error {
	switch policy {
	case UpdatesSecurity, UpdatesAll:
		return nil
	default:
		return fmt.Errorf("updates policy must be %q or %q, got %q", UpdatesSecurity, UpdatesAll, policy)
	}
}
