package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/provisionhq/stagehand/api/types"
)

// DefaultMirrorURL is the fallback archive when geolocation yields nothing.
const DefaultMirrorURL = "http://archive.ubuntu.com/ubuntu"

// freeOnlyComponents are the archive components disabled by free-only mode.
var freeOnlyComponents = []string{"restricted", "multiverse"}

// MirrorConfig is the archive mirror selection.
type MirrorConfig struct {
	URL                string   `json:"url,omitempty"`
	DisabledComponents []string `json:"disabled_components,omitempty"`
}

// MirrorController owns the package archive selection. An unset URL is
// primed from the geolocated country mirror during the non-interactive
// apply.
type MirrorController struct {
	Base

	mu       sync.Mutex
	url      string
	disabled map[string]bool
	freeOnly bool
}

var _ Controller = (*MirrorController)(nil)

func NewMirrorController(rt *Runtime) *MirrorController {
	return &MirrorController{
		Base:     newBase(rt, "mirror", "mirror", "mirror", "mirror"),
		disabled: make(map[string]bool),
	}
}

func (c *MirrorController) LoadState(ctx context.Context) error {
	var config MirrorConfig
	found, err := c.loadJSON(&config)
	if err != nil {
		return err
	}
	if found {
		c.setConfig(config)
	}
	return nil
}

func (c *MirrorController) SetupAutoinstall(ctx context.Context) error {
	var config MirrorConfig
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

// ApplyAutoinstall primes an unset mirror from the geolocated country, best
// effort: a failed lookup falls back to the default archive.
func (c *MirrorController) ApplyAutoinstall(ctx context.Context) error {
	if c.URL() != "" {
		return nil
	}
	url := DefaultMirrorURL
	if c.rt.GeoIP != nil {
		if _, err := c.rt.GeoIP.Lookup(ctx); err != nil {
			c.logger.WithError(err).Debug("geoip lookup for mirror selection failed")
		}
		if cc := c.rt.GeoIP.CountryCode(); cc != "" {
			url = fmt.Sprintf("http://%s.archive.ubuntu.com/ubuntu", cc)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = url
	return nil
}

func (c *MirrorController) Configured(ctx context.Context) error {
	if err := c.saveJSON(c.Config()); err != nil {
		return err
	}
	c.MarkConfigured()
	return nil
}

func (c *MirrorController) MakeAutoinstall() any {
	config := c.Config()
	if config.URL == "" && len(config.DisabledComponents) == 0 {
		return nil
	}
	return config
}

func (c *MirrorController) GetData(ctx context.Context) (any, error) {
	return c.Config(), nil
}

func (c *MirrorController) SetData(ctx context.Context, data json.RawMessage) error {
	var config MirrorConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse mirror config: %w", err))
	}
	if config.URL == "" {
		return types.NewBadRequestError(fmt.Errorf("mirror url must not be empty"))
	}
	c.setConfig(config)
	return c.Configured(ctx)
}

// Config returns the current selection.
func (c *MirrorController) Config() MirrorConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return MirrorConfig{URL: c.url, DisabledComponents: c.disabledList()}
}

// URL returns the current mirror URL, empty until chosen.
func (c *MirrorController) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// SetFreeOnly toggles free-software-only mode, which disables the archive
// components carrying non-free packages.
func (c *MirrorController) SetFreeOnly(enable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freeOnly = enable
	for _, component := range freeOnlyComponents {
		if enable {
			c.disabled[component] = true
		} else {
			delete(c.disabled, component)
		}
	}
}

// FreeOnly reports whether free-software-only mode is on.
func (c *MirrorController) FreeOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freeOnly
}

func (c *MirrorController) setConfig(config MirrorConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = config.URL
	c.disabled = make(map[string]bool, len(config.DisabledComponents))
	for _, component := range config.DisabledComponents {
		c.disabled[component] = true
	}
}

// disabledList returns the disabled components sorted. Callers hold the lock.
func (c *MirrorController) disabledList() []string {
	if len(c.disabled) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.disabled))
	for component := range c.disabled {
		out = append(out, component)
	}
	sort.Strings(out)
	return out
}
