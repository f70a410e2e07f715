package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/provisionhq/stagehand/api/types"
)

// SSHData configures the OpenSSH server on the target system.
type SSHData struct {
	InstallServer  bool     `json:"install_server"`
	AllowPw        bool     `json:"allow_pw"`
	AuthorizedKeys []string `json:"authorized_keys"`
}

// sshSection is the autoinstall shape of the ssh stage. Keys are dashed in
// autoinstall files, and allow-pw defaults from the presence of keys, so the
// section is decoded separately from the API shape.
type sshSection struct {
	InstallServer  bool     `json:"install-server"`
	AllowPw        *bool    `json:"allow-pw,omitempty"`
	AuthorizedKeys []string `json:"authorized-keys,omitempty"`
}

// SSHController owns the target's OpenSSH configuration.
type SSHController struct {
	Base

	mu   sync.Mutex
	data SSHData
	set  bool
}

var _ Controller = (*SSHController)(nil)

func NewSSHController(rt *Runtime) *SSHController {
	return &SSHController{
		Base: newBase(rt, "ssh", "ssh", "ssh", "ssh"),
		data: SSHData{AllowPw: true},
	}
}

func (c *SSHController) LoadState(ctx context.Context) error {
	var data SSHData
	found, err := c.loadJSON(&data)
	if err != nil {
		return err
	}
	if found {
		c.setData(data)
	}
	return nil
}

func (c *SSHController) SetupAutoinstall(ctx context.Context) error {
	var section sshSection
	found, err := c.decodeSection(&section)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	data := SSHData{
		InstallServer:  section.InstallServer,
		AuthorizedKeys: section.AuthorizedKeys,
	}
	if section.AllowPw != nil {
		data.AllowPw = *section.AllowPw
	} else {
		// Password auth stays on unless keys make it unnecessary.
		data.AllowPw = len(section.AuthorizedKeys) == 0
	}
	c.setData(data)
	return nil
}

func (c *SSHController) Configured(ctx context.Context) error {
	if err := c.saveJSON(c.Data()); err != nil {
		return err
	}
	c.MarkConfigured()
	return nil
}

func (c *SSHController) MakeAutoinstall() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return nil
	}
	allowPw := c.data.AllowPw
	return sshSection{
		InstallServer:  c.data.InstallServer,
		AllowPw:        &allowPw,
		AuthorizedKeys: c.data.AuthorizedKeys,
	}
}

func (c *SSHController) GetData(ctx context.Context) (any, error) {
	return c.Data(), nil
}

func (c *SSHController) SetData(ctx context.Context, data json.RawMessage) error {
	var ssh SSHData
	if err := json.Unmarshal(data, &ssh); err != nil {
		return types.NewBadRequestError(fmt.Errorf("parse ssh: %w", err))
	}
	c.setData(ssh)
	return c.Configured(ctx)
}

// Data returns the current ssh configuration.
func (c *SSHController) Data() SSHData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *SSHController) setData(data SSHData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.set = true
}
