// Package cloudinit integrates with the platform-init daemon that may carry
// an autoinstall payload and the default live-session user.
package cloudinit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/provisionhq/stagehand/api/pkg/logger"
	"github.com/provisionhq/stagehand/pkg/helpers"
)

const (
	// CombinedConfigPath is where cloud-init publishes the merged config
	// for this boot.
	CombinedConfigPath = "/run/cloud-init/combined-cloud-config.json"
	// OutputLogPath is scanned for the password cloud-init may have set for
	// the live-session user.
	OutputLogPath = "/var/log/cloud-init-output.log"
	// DefaultWaitTimeout bounds how long startup stalls on cloud-init.
	DefaultWaitTimeout = 10 * time.Minute
)

// StatusTimeout is reported when cloud-init did not settle in time.
const StatusTimeout = "<timeout>"

type runnerFunc func(ctx context.Context, bin string, args ...string) (string, error)

// Client wraps the cloud-init CLI and artifacts.
type Client struct {
	logger      logrus.FieldLogger
	waitTimeout time.Duration
	runner      runnerFunc
	readFile    func(path string) ([]byte, error)
}

type Option func(*Client)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithWaitTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.waitTimeout = timeout
	}
}

// WithRunner replaces the subprocess runner, for tests.
func WithRunner(runner runnerFunc) Option {
	return func(c *Client) {
		c.runner = runner
	}
}

// WithReadFile replaces artifact reads, for tests.
func WithReadFile(readFile func(path string) ([]byte, error)) Option {
	return func(c *Client) {
		c.readFile = readFile
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		waitTimeout: DefaultWaitTimeout,
		runner:      helpers.RunCommand,
		readFile:    helpers.ReadFile,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.NewDiscardLogger()
	}
	return c
}

// Wait blocks until cloud-init settles or the wait timeout passes. It
// reports whether cloud-init answered at all, plus the status text; a
// timeout degrades to (false, "<timeout>") instead of failing startup.
func (c *Client) Wait(ctx context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	start := time.Now()
	out, err := c.runner(ctx, "cloud-init", "status", "--wait")
	c.logger.Debugf("waited %s for cloud-init", time.Since(start))

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return false, StatusTimeout
		}
		// A non-zero exit still means cloud-init answered; the status
		// text decides what happens next.
		c.logger.WithError(err).Debug("cloud-init status returned an error")
	}
	return true, strings.TrimSpace(out)
}

// Done reports whether a status text says cloud-init ran to completion.
func Done(status string) bool {
	return strings.Contains(status, "status: done")
}

// CombinedConfig reads the merged cloud config for this boot.
func (c *Client) CombinedConfig() (map[string]any, error) {
	data, err := c.readFile(CombinedConfigPath)
	if err != nil {
		return nil, fmt.Errorf("read combined cloud config: %w", err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse combined cloud config: %w", err)
	}
	return cfg, nil
}

// DefaultUsername digs the distro default user out of a combined config,
// empty when the config does not name one.
func DefaultUsername(cfg map[string]any) string {
	sysinfo, _ := cfg["system_info"].(map[string]any)
	user, _ := sysinfo["default_user"].(map[string]any)
	name, _ := user["name"].(string)
	return name
}

// ExtractAutoinstall returns the autoinstall payload a cloud config carries,
// if any.
func ExtractAutoinstall(cfg map[string]any) (map[string]any, bool) {
	payload, ok := cfg["autoinstall"].(map[string]any)
	return payload, ok
}

// WriteAutoinstall stages a cloud-provided autoinstall payload where the
// resolver looks for it.
func (c *Client) WriteAutoinstall(payload map[string]any, path string) error {
	data, err := yaml.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cloud autoinstall: %w", err)
	}
	if err := helpers.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cloud autoinstall directory: %w", err)
	}
	if err := helpers.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write cloud autoinstall: %w", err)
	}
	return nil
}
