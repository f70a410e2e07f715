package controllers

import (
	"context"
	"sync"
)

// ReportingController ingests the reporting section. The journal reporter is
// always active; this section carries extra reporter definitions (webhooks
// and the like) which are preserved verbatim for MakeAutoinstall and logged
// so an operator can see what was requested.
type ReportingController struct {
	Base

	mu     sync.Mutex
	config map[string]any
}

var _ Controller = (*ReportingController)(nil)

func NewReportingController(rt *Runtime) *ReportingController {
	c := &ReportingController{
		Base: newBase(rt, "reporting", "reporting", "", ""),
	}
	c.interactive = interactivityForcedOff
	return c
}

func (c *ReportingController) SetupAutoinstall(ctx context.Context) error {
	var config map[string]any
	found, err := c.decodeSection(&config)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = config
	return nil
}

func (c *ReportingController) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.config {
		c.logger.WithField("reporter", name).Info("reporting section configured")
	}
	return nil
}

func (c *ReportingController) MakeAutoinstall() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.config) == 0 {
		return nil
	}
	out := make(map[string]any, len(c.config))
	for k, v := range c.config {
		out[k] = v
	}
	return out
}
