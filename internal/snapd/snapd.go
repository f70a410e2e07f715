// Package snapd speaks the package daemon's local REST API. Systems without
// the daemon get a nil *Client, whose methods all degrade to "unavailable"
// instead of failing the run.
package snapd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/provisionhq/stagehand/api/pkg/logger"
)

// DefaultSocketPath is where snapd listens.
const DefaultSocketPath = "/run/snapd.socket"

// ErrUnavailable is returned for operations that cannot degrade silently.
var ErrUnavailable = errors.New("package daemon unavailable")

// Client talks to one snapd socket.
type Client struct {
	logger     logrus.FieldLogger
	socketPath string
	httpClient *http.Client
}

type Option func(*Client)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// New returns a client for socketPath without probing it.
func New(socketPath string, opts ...Option) *Client {
	c := &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Timeout: time.Minute,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.NewDiscardLogger()
	}
	return c
}

// Discover returns a client when the daemon socket exists, nil otherwise.
func Discover(socketPath string, opts ...Option) *Client {
	if _, err := os.Stat(socketPath); err != nil {
		return nil
	}
	return New(socketPath, opts...)
}

// Available reports whether a daemon is wired up at all.
func (c *Client) Available() bool {
	return c != nil
}

// response is the daemon's standard envelope.
type response struct {
	Type       string          `json:"type"`
	StatusCode int             `json:"status-code"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result"`
	Change     string          `json:"change,omitempty"`
}

// SetProxy pushes proxy settings into the daemon so its own downloads work.
// Without a daemon this is a no-op.
func (c *Client) SetProxy(ctx context.Context, httpProxy, httpsProxy string) error {
	if c == nil {
		return nil
	}
	conf := map[string]any{
		"proxy.http":  httpProxy,
		"proxy.https": httpsProxy,
	}
	_, err := c.do(ctx, http.MethodPut, "/v2/snaps/system/conf", conf)
	if err != nil {
		return fmt.Errorf("set daemon proxy: %w", err)
	}
	return nil
}

// RefreshAvailable reports whether a newer revision of name is waiting.
// Without a daemon the answer is always false.
func (c *Client) RefreshAvailable(ctx context.Context, name string) (bool, error) {
	if c == nil {
		return false, nil
	}
	res, err := c.do(ctx, http.MethodGet, "/v2/find?select=refresh", nil)
	if err != nil {
		return false, fmt.Errorf("list refresh candidates: %w", err)
	}
	var snaps []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(res.Result, &snaps); err != nil {
		return false, fmt.Errorf("parse refresh candidates: %w", err)
	}
	for _, snap := range snaps {
		if snap.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Refresh asks the daemon to update name and returns the change id to poll.
func (c *Client) Refresh(ctx context.Context, name string) (string, error) {
	if c == nil {
		return "", ErrUnavailable
	}
	res, err := c.do(ctx, http.MethodPost, "/v2/snaps/"+name, map[string]any{"action": "refresh"})
	if err != nil {
		return "", fmt.Errorf("refresh %s: %w", name, err)
	}
	if res.Change == "" {
		return "", fmt.Errorf("refresh %s: daemon returned no change id", name)
	}
	return res.Change, nil
}

// Switch moves name to channel and returns the change id to poll.
func (c *Client) Switch(ctx context.Context, name, channel string) (string, error) {
	if c == nil {
		return "", ErrUnavailable
	}
	res, err := c.do(ctx, http.MethodPost, "/v2/snaps/"+name, map[string]any{
		"action":  "switch",
		"channel": channel,
	})
	if err != nil {
		return "", fmt.Errorf("switch %s to %s: %w", name, channel, err)
	}
	if res.Change == "" {
		return "", fmt.Errorf("switch %s to %s: daemon returned no change id", name, channel)
	}
	return res.Change, nil
}

// ChangeStatus returns the daemon-side status of an async change.
func (c *Client) ChangeStatus(ctx context.Context, changeID string) (string, error) {
	if c == nil {
		return "", ErrUnavailable
	}
	res, err := c.do(ctx, http.MethodGet, "/v2/changes/"+changeID, nil)
	if err != nil {
		return "", fmt.Errorf("get change %s: %w", changeID, err)
	}
	var change struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(res.Result, &change); err != nil {
		return "", fmt.Errorf("parse change %s: %w", changeID, err)
	}
	return change.Status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*response, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(b)
	}

	// The host is ignored; the transport dials the unix socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, payload)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.WithFields(logrus.Fields{"method": method, "path": path}).Debug("package daemon request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var envelope response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("daemon returned %s for %s %s", resp.Status, method, path)
	}
	return &envelope, nil
}
