package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/provisionhq/stagehand/api/types"
)

var (
	usernameRe = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)
	hostnameRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.-]*[A-Za-z0-9])?$`)

	// reservedUsernames would shadow system accounts on the target.
	reservedUsernames = map[string]bool{
		"root":   true,
		"daemon": true,
		"bin":    true,
		"sys":    true,
		"nobody": true,
	}
)

const (
	maxUsernameLen = 32
	maxHostnameLen = 64
)

// IdentityData is the first user and hostname of the target system. The
// password travels only in crypted form.
type IdentityData struct {
	Realname        string `json:"realname,omitempty"`
	Username        string `json:"username"`
	CryptedPassword string `json:"crypted_password,omitempty"`
	Hostname        string `json:"hostname"`
}

// IdentityController owns the target's first user account.
type IdentityController struct {
	Base

	mu   sync.Mutex
	data IdentityData
	set  bool
}

var _ Controller = (*IdentityController)(nil)

func NewIdentityController(rt *Runtime) *IdentityController {
	return &IdentityController{
		Base: newBase(rt, "identity", "identity", "identity", "identity"),
	}
}

func (c *IdentityController) LoadState(ctx context.Context) error {
	var data IdentityData
	found, err := c.loadJSON(&data)
	if err != nil {
		return err
	}
	if found {
		c.setData(data)
	}
	return nil
}

func (c *IdentityController) SetupAutoinstall(ctx context.Context) error {
	var data IdentityData
	found, err := c.decodeSection(&data)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := validateIdentity(data); err != nil {
		return fmt.Errorf("identity section: %w", err)
	}
	c.setData(data)
	return nil
}

func (c *IdentityController) Configured(ctx context.Context) error {
	if err := c.saveJSON(c.Data()); err != nil {
		return err
	}
	c.MarkConfigured()
	return nil
}

func (c *IdentityController) MakeAutoinstall() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return nil
	}
	return c.data
}

func (c *IdentityController) GetData(ctx context.Context) (any, error) {
	return c.Data(), nil
}

func (c *IdentityController) SetData(ctx context.Context, data json.RawMessage) error {
	var identity IdentityData
	if err := json.Unmarshal(data, &identity); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse identity: %w", err))
	}
	if err := validateIdentity(identity); err != nil {
		return err
	}
	c.setData(identity)
	return c.Configured(ctx)
}

// Data returns the current identity.
func (c *IdentityController) Data() IdentityData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *IdentityController) setData(data IdentityData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.set = true
}

func validateIdentity(data IdentityData) error {
	apiErr := types.NewBadRequestError(fmt.Errorf("invalid identity"))

	switch {
	case data.Username == "":
		apiErr = types.AppendFieldError(apiErr, "username", fmt.Errorf("must not be empty"))
	case len(data.Username) > maxUsernameLen:
		apiErr = types.AppendFieldError(apiErr, "username", fmt.Errorf("must be at most %d characters", maxUsernameLen))
	case !usernameRe.MatchString(data.Username):
		apiErr = types.AppendFieldError(apiErr, "username", fmt.Errorf("must start with a lowercase letter or underscore and contain only lowercase letters, digits, hyphens and underscores"))
	case reservedUsernames[data.Username]:
		apiErr = types.AppendFieldError(apiErr, "username", fmt.Errorf("%q is reserved", data.Username))
	}

	switch {
	case data.Hostname == "":
		apiErr = types.AppendFieldError(apiErr, "hostname", fmt.Errorf("must not be empty"))
	case len(data.Hostname) > maxHostnameLen:
		apiErr = types.AppendFieldError(apiErr, "hostname", fmt.Errorf("must be at most %d characters", maxHostnameLen))
	case !hostnameRe.MatchString(data.Hostname):
		apiErr = types.AppendFieldError(apiErr, "hostname", fmt.Errorf("must contain only letters, digits, hyphens and dots"))
	}

	return apiErr.ErrorOrNil()
}
