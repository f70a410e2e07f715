package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/statestore"
)

// installerSnap is the snap this server ships in.
const installerSnap = "stagehand"

// refreshPollInterval paces change polling during a self-update.
const refreshPollInterval = 500 * time.Millisecond

// RefreshAvailability is what the stage knows about a pending self-update.
type RefreshAvailability string

const (
	RefreshUnknown           RefreshAvailability = "unknown"
	RefreshUpdateAvailable   RefreshAvailability = "available"
	RefreshUpdateUnavailable RefreshAvailability = "unavailable"
)

// RefreshConfig is the refresh-installer autoinstall section.
type RefreshConfig struct {
	Update  bool   `json:"update"`
	Channel string `json:"channel,omitempty"`
}

// RefreshInfo is the stage's API view: whether an update is waiting and, once
// one was started, its progress.
type RefreshInfo struct {
	Availability RefreshAvailability `json:"availability"`
	ChangeID     string              `json:"change_id,omitempty"`
	ChangeStatus string              `json:"change_status,omitempty"`
}

// RefreshController lets the installer update itself before it installs
// anything. Without a package daemon the stage degrades to a no-op.
type RefreshController struct {
	Base

	mu           sync.Mutex
	cfg          RefreshConfig
	cfgSet       bool
	availability RefreshAvailability
	changeID     string
	changeStatus string
}

var _ Controller = (*RefreshController)(nil)

func NewRefreshController(rt *Runtime) *RefreshController {
	return &RefreshController{
		Base:         newBase(rt, "refresh", "refresh-installer", "refresh", "refresh"),
		availability: RefreshUnknown,
	}
}

func (c *RefreshController) SetupAutoinstall(ctx context.Context) error {
	var cfg RefreshConfig
	found, err := c.decodeSection(&cfg)
	if err != nil {
		return err
	}
	if found {
		c.mu.Lock()
		c.cfg = cfg
		c.cfgSet = true
		c.mu.Unlock()
	}
	return nil
}

// ApplyAutoinstall performs the unattended self-update. When the update
// lands, the daemon restarts this process; the updated stamp keeps the next
// boot of the server from updating again.
func (c *RefreshController) ApplyAutoinstall(ctx context.Context) error {
	cfg := c.Config()
	if !cfg.Update {
		return nil
	}
	if c.rt.Store.Exists(statestore.UpdatedStamp) {
		c.logger.Debugf("installer already updated this boot, skipping self-update")
		return nil
	}
	if !c.rt.Snapd.Available() {
		c.logger.Infof("no package daemon, skipping self-update")
		return nil
	}

	if cfg.Channel != "" {
		changeID, err := c.rt.Snapd.Switch(ctx, installerSnap, cfg.Channel)
		if err != nil {
			return fmt.Errorf("switch installer channel: %w", err)
		}
		if err := c.waitForChange(ctx, changeID); err != nil {
			return fmt.Errorf("switch installer channel: %w", err)
		}
	}

	if !c.checkAvailability(ctx) {
		c.logger.Infof("no installer update available")
		return nil
	}

	c.rt.ReportStart("refresh", "updating the installer")
	changeID, err := c.startUpdate(ctx)
	if err != nil {
		return err
	}
	if err := c.waitForChange(ctx, changeID); err != nil {
		return fmt.Errorf("installer update: %w", err)
	}
	c.rt.ReportFinish("refresh", "updating the installer")

	// Normally the daemon kills this process mid-update and we never get
	// here. Reaching this point means the update completed without a service
	// restart, so request one ourselves.
	if err := c.rt.Store.Stamp(statestore.UpdatedStamp); err != nil {
		return fmt.Errorf("record installer update: %w", err)
	}
	c.logger.Infof("installer updated, restarting")
	c.rt.requestRestart()
	return nil
}

func (c *RefreshController) Configured(ctx context.Context) error {
	if err := c.saveJSON(c.Config()); err != nil {
		return err
	}
	c.MarkConfigured()
	return nil
}

func (c *RefreshController) MakeAutoinstall() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfgSet {
		return nil
	}
	return c.cfg
}

func (c *RefreshController) GetData(ctx context.Context) (any, error) {
	c.mu.Lock()
	changeID := c.changeID
	c.mu.Unlock()

	if changeID != "" {
		status, err := c.rt.Snapd.ChangeStatus(ctx, changeID)
		if err != nil {
			c.logger.WithError(err).Debugf("polling update change %s failed", changeID)
		} else {
			c.mu.Lock()
			c.changeStatus = status
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return RefreshInfo{
		Availability: c.availability,
		ChangeID:     c.changeID,
		ChangeStatus: c.changeStatus,
	}, nil
}

// SetData records the client's choice and, when an update is requested,
// kicks it off in the background. Progress is observed through GetData.
func (c *RefreshController) SetData(ctx context.Context, data json.RawMessage) error {
	var cfg RefreshConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse refresh: %w", err))
	}
	c.mu.Lock()
	c.cfg = cfg
	c.cfgSet = true
	c.mu.Unlock()

	if cfg.Update && c.rt.Snapd.Available() {
		go func() {
			if cfg.Channel != "" {
				changeID, err := c.rt.Snapd.Switch(context.Background(), installerSnap, cfg.Channel)
				if err != nil {
					c.logger.WithError(err).Infof("switching installer channel failed")
				} else if err := c.waitForChange(context.Background(), changeID); err != nil {
					c.logger.WithError(err).Infof("switching installer channel failed")
				}
			}
			if _, err := c.startUpdate(context.Background()); err != nil {
				c.logger.WithError(err).Infof("starting installer update failed")
			}
		}()
	}

	return c.Configured(ctx)
}

// Start primes the availability answer so interactive clients see something
// better than unknown.
func (c *RefreshController) Start(ctx context.Context) error {
	if !c.rt.Snapd.Available() {
		c.mu.Lock()
		c.availability = RefreshUpdateUnavailable
		c.mu.Unlock()
		return nil
	}
	go c.checkAvailability(ctx)
	return nil
}

// NetworkChanged re-checks update availability after connectivity events.
// The check runs out of band so a slow daemon never stalls the publisher.
func (c *RefreshController) NetworkChanged(ctx context.Context) error {
	if !c.rt.Snapd.Available() {
		return nil
	}
	go c.checkAvailability(context.Background())
	return nil
}

// Config returns the current refresh choice.
func (c *RefreshController) Config() RefreshConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Availability returns the last known availability answer.
func (c *RefreshController) Availability() RefreshAvailability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availability
}

func (c *RefreshController) checkAvailability(ctx context.Context) bool {
	available, err := c.rt.Snapd.RefreshAvailable(ctx, installerSnap)
	if err != nil {
		c.logger.WithError(err).Debugf("update availability check failed")
		available = false
	}
	c.mu.Lock()
	if available {
		c.availability = RefreshUpdateAvailable
	} else {
		c.availability = RefreshUpdateUnavailable
	}
	c.mu.Unlock()
	return available
}

func (c *RefreshController) startUpdate(ctx context.Context) (string, error) {
	changeID, err := c.rt.Snapd.Refresh(ctx, installerSnap)
	if err != nil {
		return "", fmt.Errorf("start installer update: %w", err)
	}
	c.mu.Lock()
	c.changeID = changeID
	c.changeStatus = ""
	c.mu.Unlock()
	c.logger.Infof("installer update started, change %s", changeID)
	return changeID, nil
}

// waitForChange polls one daemon change to completion. The daemon's
// in-flight statuses are Do, Doing and Wait; Done is success and anything
// else is failure.
func (c *RefreshController) waitForChange(ctx context.Context, changeID string) error {
	for {
		status, err := c.rt.Snapd.ChangeStatus(ctx, changeID)
		if err != nil {
			return err
		}
		c.mu.Lock()
		if changeID == c.changeID {
			c.changeStatus = status
		}
		c.mu.Unlock()

		switch status {
		case "Done":
			return nil
		case "Do", "Doing", "Wait":
		default:
			return fmt.Errorf("change %s ended as %s", changeID, status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(refreshPollInterval):
		}
	}
}
