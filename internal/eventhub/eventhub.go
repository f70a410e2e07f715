// Package eventhub carries cross-stage notifications inside the server
// process. The channel set is closed at build time. Delivery is synchronous
// and in subscription order, and a handler error aborts the publish and
// propagates to the publisher.
package eventhub

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/provisionhq/stagehand/api/pkg/logger"
)

// Channel names one kind of event.
type Channel string

const (
	// ChannelNetworkUp fires when default-route connectivity is first
	// observed or regained.
	ChannelNetworkUp Channel = "network-up"
	// ChannelNetworkProxySet fires when the proxy configuration changes.
	ChannelNetworkProxySet Channel = "network-proxy-set"
	// ChannelSnapdNetworkChange fires after either network event so the
	// package daemon can re-evaluate connectivity.
	ChannelSnapdNetworkChange Channel = "snapd-network-change"
)

// Handler reacts to one event.
type Handler func(ctx context.Context) error

// Hub fans events out to subscribers. Subscriptions are expected to happen
// during startup wiring, publishes at any point after.
type Hub struct {
	mu       sync.RWMutex
	logger   logrus.FieldLogger
	handlers map[Channel][]Handler
}

type Option func(*Hub)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

func New(opts ...Option) *Hub {
	h := &Hub{
		handlers: make(map[Channel][]Handler),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.NewDiscardLogger()
	}
	return h
}

// Subscribe registers fn for ch. Handlers run in subscription order.
func (h *Hub) Subscribe(ch Channel, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[ch] = append(h.handlers[ch], fn)
}

// Publish invokes every handler subscribed to ch at the time of the call,
// synchronously and in order. The first handler error stops the fan-out and
// is returned to the caller. Publishing on a channel with no subscribers is
// a no-op.
func (h *Hub) Publish(ctx context.Context, ch Channel) error {
	h.mu.RLock()
	handlers := append([]Handler(nil), h.handlers[ch]...)
	h.mu.RUnlock()

	h.logger.WithField("channel", ch).Debugf("publishing event to %d subscribers", len(handlers))

	for i, fn := range handlers {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("publish %s to subscriber %d: %w", ch, i, err)
		}
	}
	return nil
}
