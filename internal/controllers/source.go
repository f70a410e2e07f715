package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/provisionhq/stagehand/api/types"
)

// SourceSelection picks which system image to install.
type SourceSelection struct {
	ID            string `json:"id"`
	SearchDrivers bool   `json:"search_drivers"`
}

// SourceController owns the source image selection. The default follows the
// client variant.
type SourceController struct {
	Base

	mu        sync.Mutex
	selection SourceSelection
	explicit  bool
}

var _ Controller = (*SourceController)(nil)

func NewSourceController(rt *Runtime) *SourceController {
	return &SourceController{
		Base: newBase(rt, "source", "source", "source", "source"),
	}
}

func (c *SourceController) LoadState(ctx context.Context) error {
	var selection SourceSelection
	found, err := c.loadJSON(&selection)
	if err != nil {
		return err
	}
	if found {
		c.setSelection(selection)
	}
	return nil
}

func (c *SourceController) SetupAutoinstall(ctx context.Context) error {
	var selection SourceSelection
	found, err := c.decodeSection(&selection)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	c.setSelection(selection)
	return nil
}

func (c *SourceController) Configured(ctx context.Context) error {
	if err := c.saveJSON(c.Selection()); err != nil {
		return err
	}
	c.MarkConfigured()
	return nil
}

func (c *SourceController) MakeAutoinstall() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.explicit {
		return nil
	}
	return c.selection
}

func (c *SourceController) GetData(ctx context.Context) (any, error) {
	return c.Selection(), nil
}

func (c *SourceController) SetData(ctx context.Context, data json.RawMessage) error {
	var selection SourceSelection
	if err := json.Unmarshal(data, &selection); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse source selection: %w", err))
	}
	if selection.ID == "" {
		return types.NewBadRequestError(fmt.Errorf("source id must not be empty"))
	}
	c.setSelection(selection)
	return c.Configured(ctx)
}

// Selection returns the current source. When none was chosen the default for
// the current variant applies.
func (c *SourceController) Selection() SourceSelection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.explicit {
		return c.selection
	}
	return SourceSelection{ID: "ubuntu-" + string(c.rt.Models.Variant())}
}

func (c *SourceController) setSelection(selection SourceSelection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = selection
	c.explicit = true
}
