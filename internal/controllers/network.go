package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/eventhub"
)

// NetworkController carries the netplan configuration for the live session
// and the target. The config tree is stage-opaque here; what the core cares
// about is when connectivity becomes available (announced on the hub) and
// which global addresses exist (surfaced through SSH info).
type NetworkController struct {
	Base

	listAddrs func() ([]net.Addr, error)

	mu     sync.Mutex
	config map[string]any
	ips    []string
}

var _ Controller = (*NetworkController)(nil)

type NetworkControllerOption func(*NetworkController)

// WithAddrLister overrides interface address enumeration.
func WithAddrLister(listAddrs func() ([]net.Addr, error)) NetworkControllerOption {
	return func(c *NetworkController) {
		c.listAddrs = listAddrs
	}
}

func NewNetworkController(rt *Runtime, opts ...NetworkControllerOption) *NetworkController {
	c := &NetworkController{
		Base:      newBase(rt, "network", "network", "network", "network"),
		listAddrs: net.InterfaceAddrs,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *NetworkController) LoadState(ctx context.Context) error {
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

func (c *NetworkController) SetupAutoinstall(ctx context.Context) error {
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

// Configured persists the config, refreshes the address list, and announces
// connectivity on the hub. The announcement must come after the model is
// marked configured so subscribers observe a consistent view.
func (c *NetworkController) Configured(ctx context.Context) error {
	if err := c.saveJSON(c.Config()); err != nil {
		return err
	}
	c.refreshAddresses()
	c.MarkConfigured()
	if err := c.rt.Hub.Publish(ctx, eventhub.ChannelNetworkUp); err != nil {
		return fmt.Errorf("announce network up: %w", err)
	}
	return nil
}

func (c *NetworkController) MakeAutoinstall() any {
	config := c.Config()
	if len(config) == 0 {
		return nil
	}
	return config
}

func (c *NetworkController) GetData(ctx context.Context) (any, error) {
	return c.Config(), nil
}

func (c *NetworkController) SetData(ctx context.Context, data json.RawMessage) error {
	var config map[string]any
	if err := json.Unmarshal(data, &config); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse network config: %w", err))
	}
	c.setConfig(config)
	return c.Configured(ctx)
}

// Config returns the current netplan tree, nil when none was provided.
func (c *NetworkController) Config() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// GlobalIPs lists the global unicast addresses observed when the stage was
// last configured.
func (c *NetworkController) GlobalIPs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ips...)
}

func (c *NetworkController) setConfig(config map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = config
}

func (c *NetworkController) refreshAddresses() {
	addrs, err := c.listAddrs()
	if err != nil {
		c.logger.WithError(err).Debug("list interface addresses")
		return
	}

	var ips []string
	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if ip == nil || !ip.IsGlobalUnicast() {
			continue
		}
		ips = append(ips, ip.String())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ips = ips
}
