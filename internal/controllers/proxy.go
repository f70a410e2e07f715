package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/eventhub"
)

// ProxyController owns the HTTP proxy used by the live session and the
// target. An empty value means direct connectivity.
type ProxyController struct {
	Base

	mu    sync.Mutex
	proxy string
}

var _ Controller = (*ProxyController)(nil)

func NewProxyController(rt *Runtime) *ProxyController {
	return &ProxyController{
		Base: newBase(rt, "proxy", "proxy", "proxy", "proxy"),
	}
}

func (c *ProxyController) LoadState(ctx context.Context) error {
	var proxy string
	found, err := c.loadJSON(&proxy)
	if err != nil {
		return err
	}
	if found {
		c.setProxy(proxy)
	}
	return nil
}

func (c *ProxyController) SetupAutoinstall(ctx context.Context) error {
	var proxy string
	found, err := c.decodeSection(&proxy)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := validateProxy(proxy); err != nil {
		return fmt.Errorf("proxy section: %w", err)
	}
	c.setProxy(proxy)
	return nil
}

// Configured persists the proxy and, when one is set, announces the change
// so the package daemon picks it up.
func (c *ProxyController) Configured(ctx context.Context) error {
	if err := c.saveJSON(c.Proxy()); err != nil {
		return err
	}
	c.MarkConfigured()
	if c.Proxy() != "" {
		if err := c.rt.Hub.Publish(ctx, eventhub.ChannelNetworkProxySet); err != nil {
			return fmt.Errorf("announce proxy change: %w", err)
		}
	}
	return nil
}

func (c *ProxyController) MakeAutoinstall() any {
	proxy := c.Proxy()
	if proxy == "" {
		return nil
	}
	return proxy
}

func (c *ProxyController) GetData(ctx context.Context) (any, error) {
	return c.Proxy(), nil
}

func (c *ProxyController) SetData(ctx context.Context, data json.RawMessage) error {
	var proxy string
	if err := json.Unmarshal(data, &proxy); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse proxy: %w", err))
	}
	if err := validateProxy(proxy); err != nil {
		return types.NewBadRequestError(err)
	}
	c.setProxy(proxy)
	return c.Configured(ctx)
}

// Proxy returns the current proxy URL, empty for direct connectivity.
func (c *ProxyController) Proxy() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxy
}

func (c *ProxyController) setProxy(proxy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxy = proxy
}

func validateProxy(proxy string) error {
	if proxy == "" {
		return nil
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("proxy url %q must carry a scheme and host", proxy)
	}
	return nil
}
