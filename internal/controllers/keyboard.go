package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/provisionhq/stagehand/api/types"
)

// KeyboardSetting selects a console keyboard layout.
type KeyboardSetting struct {
	Layout  string `json:"layout"`
	Variant string `json:"variant,omitempty"`
	Toggle  string `json:"toggle,omitempty"`
}

// KeyboardController owns the keyboard layout for the live session and the
// target system.
type KeyboardController struct {
	Base

	mu      sync.Mutex
	setting KeyboardSetting
}

var _ Controller = (*KeyboardController)(nil)

func NewKeyboardController(rt *Runtime) *KeyboardController {
	return &KeyboardController{
		Base:    newBase(rt, "keyboard", "keyboard", "keyboard", "keyboard"),
		setting: KeyboardSetting{Layout: "us"},
	}
}

func (c *KeyboardController) LoadState(ctx context.Context) error {
	var setting KeyboardSetting
	found, err := c.loadJSON(&setting)
	if err != nil {
		return err
	}
	if found {
		c.setSetting(setting)
	}
	return nil
}

func (c *KeyboardController) SetupAutoinstall(ctx context.Context) error {
	var setting KeyboardSetting
	found, err := c.decodeSection(&setting)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if setting.Layout == "" {
		return fmt.Errorf("keyboard section: layout must not be empty")
	}
	c.setSetting(setting)
	return nil
}

func (c *KeyboardController) Configured(ctx context.Context) error {
	if err := c.saveJSON(c.Setting()); err != nil {
		return err
	}
	c.MarkConfigured()
	return nil
}

func (c *KeyboardController) MakeAutoinstall() any {
	setting := c.Setting()
	if setting == (KeyboardSetting{Layout: "us"}) {
		return nil
	}
	return setting
}

func (c *KeyboardController) GetData(ctx context.Context) (any, error) {
	return c.Setting(), nil
}

func (c *KeyboardController) SetData(ctx context.Context, data json.RawMessage) error {
	var setting KeyboardSetting
	if err := json.Unmarshal(data, &setting); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse keyboard setting: %w", err))
	}
	if setting.Layout == "" {
		return types.NewBadRequestError(fmt.Errorf("layout must not be empty"))
	}
	c.setSetting(setting)
	return c.Configured(ctx)
}

// Setting returns the currently selected layout.
func (c *KeyboardController) Setting() KeyboardSetting {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setting
}

func (c *KeyboardController) setSetting(setting KeyboardSetting) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setting = setting
}
