package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/provisionhq/stagehand/api/types"
)

// DefaultLocale is used until a client or the autoinstall config picks one.
const DefaultLocale = "en_US.UTF-8"

// LocaleController owns the target system's locale.
type LocaleController struct {
	Base

	mu     sync.Mutex
	locale string
}

var _ Controller = (*LocaleController)(nil)

func NewLocaleController(rt *Runtime) *LocaleController {
	return &LocaleController{
		Base:   newBase(rt, "locale", "locale", "locale", "locale"),
		locale: DefaultLocale,
	}
}

func (c *LocaleController) LoadState(ctx context.Context) error {
	var locale string
	found, err := c.loadJSON(&locale)
	if err != nil {
		return err
	}
	if found {
		c.setLocale(locale)
	}
	return nil
}

func (c *LocaleController) SetupAutoinstall(ctx context.Context) error {
	var locale string
	found, err := c.decodeSection(&locale)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := validateLocale(locale); err != nil {
		return fmt.Errorf("locale section: %w", err)
	}
	c.setLocale(locale)
	return nil
}

func (c *LocaleController) Configured(ctx context.Context) error {
	if err := c.saveJSON(c.Locale()); err != nil {
		return err
	}
	c.MarkConfigured()
	return nil
}

func (c *LocaleController) MakeAutoinstall() any {
	locale := c.Locale()
	if locale == DefaultLocale {
		return nil
	}
	return locale
}

func (c *LocaleController) GetData(ctx context.Context) (any, error) {
	return c.Locale(), nil
}

func (c *LocaleController) SetData(ctx context.Context, data json.RawMessage) error {
	var locale string
	if err := json.Unmarshal(data, &locale); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse locale: %w", err))
	}
	if err := validateLocale(locale); err != nil {
		return types.NewBadRequestError(err)
	}
	c.setLocale(locale)
	return c.Configured(ctx)
}

// Locale returns the currently selected locale.
func (c *LocaleController) Locale() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locale
}

func (c *LocaleController) setLocale(locale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locale = locale
}

func validateLocale(locale string) error {
	if locale == "" {
		return fmt.Errorf("locale must not be empty")
	}
	if strings.ContainsAny(locale, " /") {
		return fmt.Errorf("invalid locale %q", locale)
	}
	return nil
}
