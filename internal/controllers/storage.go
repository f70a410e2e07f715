package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/provisionhq/stagehand/api/types"
)

// StorageController carries the storage layout configuration. The layout
// tree is stage-opaque to the core; configuring it is what arms the install
// confirmation gate, since partitioning is the first destructive act.
type StorageController struct {
	Base

	mu     sync.Mutex
	config map[string]any
}

var _ Controller = (*StorageController)(nil)

func NewStorageController(rt *Runtime) *StorageController {
	return &StorageController{
		Base: newBase(rt, "storage", "storage", "filesystem", "storage"),
	}
}

func (c *StorageController) LoadState(ctx context.Context) error {
	var config map[string]any
	found, err := c.loadJSON(&config)
	if err != nil {
		return err
	}
	if found {
		c.setConfig(config)
	}
	return nil
}

func (c *StorageController) SetupAutoinstall(ctx context.Context) error {
	var config map[string]any
	found, err := c.decodeSection(&config)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	c.setConfig(config)
	return nil
}

func (c *StorageController) Configured(ctx context.Context) error {
	if err := c.saveJSON(c.Config()); err != nil {
		return err
	}
	c.MarkConfigured()
	return nil
}

func (c *StorageController) MakeAutoinstall() any {
	config := c.Config()
	if len(config) == 0 {
		return nil
	}
	return config
}

func (c *StorageController) GetData(ctx context.Context) (any, error) {
	return c.Config(), nil
}

func (c *StorageController) SetData(ctx context.Context, data json.RawMessage) error {
	var config map[string]any
	if err := json.Unmarshal(data, &config); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse storage config: %w", err))
	}
	c.setConfig(config)
	return c.Configured(ctx)
}

// Config returns the current layout tree, nil when defaults apply.
func (c *StorageController) Config() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

func (c *StorageController) setConfig(config map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = config
}
