package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/provisionhq/stagehand/api/types"
)

const (
	// geoipTimezone asks for the timezone to be resolved from the lookup
	// service instead of naming one.
	geoipTimezone = "geoip"

	// fallbackTimezone is used when a geoip resolution was requested but the
	// lookup cannot produce one.
	fallbackTimezone = "Etc/UTC"
)

var timezoneRe = regexp.MustCompile(`^[A-Za-z0-9_+/-]+$`)

// TimezoneData is the timezone of the target system. FromGeoIP records that
// the value came from the lookup service rather than the operator.
type TimezoneData struct {
	Timezone  string `json:"timezone"`
	FromGeoIP bool   `json:"from_geoip"`
}

// TimezoneController owns the target's timezone. The autoinstall value
// "geoip" defers the choice to the lookup service.
type TimezoneController struct {
	Base

	mu        sync.Mutex
	data      TimezoneData
	requested string
	set       bool
}

var _ Controller = (*TimezoneController)(nil)

func NewTimezoneController(rt *Runtime) *TimezoneController {
	return &TimezoneController{
		Base: newBase(rt, "timezone", "timezone", "timezone", "timezone"),
	}
}

func (c *TimezoneController) LoadState(ctx context.Context) error {
	var data TimezoneData
	found, err := c.loadJSON(&data)
	if err != nil {
		return err
	}
	if found {
		c.mu.Lock()
		c.data = data
		c.set = true
		c.mu.Unlock()
	}
	return nil
}

func (c *TimezoneController) SetupAutoinstall(ctx context.Context) error {
	var tz string
	found, err := c.decodeSection(&tz)
	if err != nil {
		return err
	}
	if !found || tz == "" {
		return nil
	}
	c.mu.Lock()
	c.requested = tz
	c.mu.Unlock()
	if tz == geoipTimezone {
		return nil
	}
	if err := validateTimezone(tz); err != nil {
		return fmt.Errorf("timezone section: %w", err)
	}
	c.mu.Lock()
	c.data = TimezoneData{Timezone: tz}
	c.set = true
	c.mu.Unlock()
	return nil
}

func (c *TimezoneController) ApplyAutoinstall(ctx context.Context) error {
	c.mu.Lock()
	needsLookup := c.requested == geoipTimezone && !c.set
	c.mu.Unlock()
	if needsLookup {
		c.resolveGeoIP(ctx)
	}
	return nil
}

func (c *TimezoneController) Configured(ctx context.Context) error {
	if err := c.saveJSON(c.Data()); err != nil {
		return err
	}
	c.MarkConfigured()
	return nil
}

func (c *TimezoneController) MakeAutoinstall() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requested == geoipTimezone {
		return geoipTimezone
	}
	if !c.set || c.data.Timezone == "" {
		return nil
	}
	return c.data.Timezone
}

func (c *TimezoneController) GetData(ctx context.Context) (any, error) {
	c.mu.Lock()
	needsLookup := c.requested == geoipTimezone && !c.set
	c.mu.Unlock()
	if needsLookup {
		c.resolveGeoIP(ctx)
	}
	return c.Data(), nil
}

func (c *TimezoneController) SetData(ctx context.Context, data json.RawMessage) error {
	var tz string
	if err := json.Unmarshal(data, &tz); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse timezone: %w", err))
	}
	c.mu.Lock()
	c.requested = tz
	c.mu.Unlock()
	switch {
	case tz == geoipTimezone:
		c.resolveGeoIP(ctx)
	case tz == "":
		c.mu.Lock()
		c.data = TimezoneData{}
		c.set = false
		c.mu.Unlock()
	default:
		if err := validateTimezone(tz); err != nil {
			return types.NewBadRequestError(err)
		}
		c.mu.Lock()
		c.data = TimezoneData{Timezone: tz}
		c.set = true
		c.mu.Unlock()
	}
	return c.Configured(ctx)
}

// Data returns the resolved timezone, zero when the system default applies.
func (c *TimezoneController) Data() TimezoneData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// resolveGeoIP fills the timezone from the lookup service, falling back to
// UTC when the lookup cannot answer.
func (c *TimezoneController) resolveGeoIP(ctx context.Context) {
	tz := ""
	if c.rt.GeoIP != nil {
		if _, err := c.rt.GeoIP.Lookup(ctx); err != nil {
			c.logger.WithError(err).Debugf("timezone lookup failed")
		} else {
			tz = c.rt.GeoIP.TimeZone()
		}
	}
	if tz == "" {
		c.logger.Debugf("timezone lookup returned nothing, falling back to %s", fallbackTimezone)
		tz = fallbackTimezone
	}
	c.mu.Lock()
	c.data = TimezoneData{Timezone: tz, FromGeoIP: true}
	c.set = true
	c.mu.Unlock()
}

func validateTimezone(tz string) error {
	if !timezoneRe.MatchString(tz) {
		return fmt.Errorf("invalid timezone %q", tz)
	}
	return nil
}
