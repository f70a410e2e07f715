package controllers

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/provisionhq/stagehand/api/pkg/logger"
	"github.com/provisionhq/stagehand/internal/eventhub"
)

// Registry owns the ordered stage list and drives the shared lifecycle
// sweeps over it. The order is fixed at build time and doubles as the
// apply and display order; it is never re-sorted.
type Registry struct {
	logger logrus.FieldLogger
	rt     *Runtime

	all        []Controller
	byName     map[string]Controller
	byEndpoint map[string]Controller

	installOpts  []InstallOption
	networkOpts  []NetworkControllerOption
	shutdownOpts []ShutdownOption

	early     *EarlyController
	reporting *ReportingController
	errors    *ErrorController
	locale    *LocaleController
	refresh   *RefreshController
	keyboard  *KeyboardController
	source    *SourceController
	network   *NetworkController
	proxy     *ProxyController
	mirror    *MirrorController
	storage   *StorageController
	identity  *IdentityController
	ssh       *SSHController
	timezone  *TimezoneController
	install   *InstallController
	updates   *UpdatesController
	late      *LateController
	shutdown  *ShutdownController
}

type RegistryOption func(*Registry)

// WithInstallOptions forwards options to the install stage.
func WithInstallOptions(opts ...InstallOption) RegistryOption {
	return func(r *Registry) {
		r.installOpts = append(r.installOpts, opts...)
	}
}

// WithNetworkOptions forwards options to the network stage.
func WithNetworkOptions(opts ...NetworkControllerOption) RegistryOption {
	return func(r *Registry) {
		r.networkOpts = append(r.networkOpts, opts...)
	}
}

// WithShutdownOptions forwards options to the shutdown stage.
func WithShutdownOptions(opts ...ShutdownOption) RegistryOption {
	return func(r *Registry) {
		r.shutdownOpts = append(r.shutdownOpts, opts...)
	}
}

// NewRegistry instantiates every stage against rt and wires the cross-stage
// subscriptions. Stage construction must not touch the network or the disk;
// that starts with LoadState.
func NewRegistry(rt *Runtime, opts ...RegistryOption) *Registry {
	if rt.Logger == nil {
		rt.Logger = logger.NewDiscardLogger()
	}

	r := &Registry{
		logger: rt.Logger.WithField("component", "registry"),
		rt:     rt,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.early = NewEarlyController(rt)
	r.reporting = NewReportingController(rt)
	r.errors = NewErrorController(rt)
	r.locale = NewLocaleController(rt)
	r.refresh = NewRefreshController(rt)
	r.keyboard = NewKeyboardController(rt)
	r.source = NewSourceController(rt)
	r.network = NewNetworkController(rt, r.networkOpts...)
	r.proxy = NewProxyController(rt)
	r.mirror = NewMirrorController(rt)
	r.storage = NewStorageController(rt)
	r.identity = NewIdentityController(rt)
	r.ssh = NewSSHController(rt)
	r.timezone = NewTimezoneController(rt)
	r.updates = NewUpdatesController(rt)
	r.late = NewLateController(rt)
	installOpts := append([]InstallOption{
		WithUpdatesStage(r.updates),
		WithLateStage(r.late),
	}, r.installOpts...)
	r.install = NewInstallController(rt, installOpts...)
	r.shutdown = NewShutdownController(rt, r.shutdownOpts...)

	r.all = []Controller{
		r.early,
		r.reporting,
		r.errors,
		r.locale,
		r.refresh,
		r.keyboard,
		r.source,
		r.network,
		r.proxy,
		r.mirror,
		r.storage,
		r.identity,
		r.ssh,
		r.timezone,
		r.install,
		r.updates,
		r.late,
		r.shutdown,
	}

	r.byName = make(map[string]Controller, len(r.all))
	r.byEndpoint = make(map[string]Controller, len(r.all))
	for _, c := range r.all {
		r.byName[c.Name()] = c
		if ep := c.Endpoint(); ep != "" {
			r.byEndpoint[ep] = c
		}
	}

	if rt.Hub != nil {
		rt.Hub.Subscribe(eventhub.ChannelSnapdNetworkChange, r.refresh.NetworkChanged)
	}

	return r
}

// All returns the stages in lifecycle order.
func (r *Registry) All() []Controller {
	out := make([]Controller, len(r.all))
	copy(out, r.all)
	return out
}

// ByName looks a stage up by its name.
func (r *Registry) ByName(name string) (Controller, error) {
	c, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("no stage named %q", name)
	}
	return c, nil
}

// ByEndpoint looks a stage up by its API endpoint.
func (r *Registry) ByEndpoint(endpoint string) (Controller, error) {
	c, ok := r.byEndpoint[endpoint]
	if !ok {
		return nil, fmt.Errorf("no stage serving endpoint %q", endpoint)
	}
	return c, nil
}

// Endpoints returns the served endpoints in lifecycle order.
func (r *Registry) Endpoints() []string {
	var out []string
	for _, c := range r.all {
		if ep := c.Endpoint(); ep != "" {
			out = append(out, ep)
		}
	}
	return out
}

// LoadState restores persisted stage progress, in order.
func (r *Registry) LoadState(ctx context.Context) error {
	for _, c := range r.all {
		if err := c.LoadState(ctx); err != nil {
			return fmt.Errorf("restore %s state: %w", c.Name(), err)
		}
	}
	return nil
}

// SetupAutoinstall lets every stage ingest its section, in order. Ingest is
// unconditional: interactive stages still validate and hold their sections.
func (r *Registry) SetupAutoinstall(ctx context.Context) error {
	for _, c := range r.all {
		if err := c.SetupAutoinstall(ctx); err != nil {
			return fmt.Errorf("stage %s: %w", c.Name(), err)
		}
	}
	return nil
}

// ApplyAutoinstall applies and marks configured every non-interactive stage,
// in order. Interactivity is asked per stage at sweep time: an earlier
// stage's apply can change a later stage's answer.
func (r *Registry) ApplyAutoinstall(ctx context.Context) error {
	for _, c := range r.all {
		if c.Interactive() {
			r.logger.WithField("stage", c.Name()).Debug("interactive stage, not applying")
			continue
		}
		if err := c.ApplyAutoinstall(ctx); err != nil {
			return fmt.Errorf("apply %s: %w", c.Name(), err)
		}
		if err := c.Configured(ctx); err != nil {
			return fmt.Errorf("mark %s configured: %w", c.Name(), err)
		}
	}
	return nil
}

// StartAll launches every stage's background work, in order.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, c := range r.all {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
	}
	return nil
}

// MakeAutoinstall composes the effective configuration out of every stage's
// fragment, under a version 1 root.
func (r *Registry) MakeAutoinstall() map[string]any {
	out := map[string]any{"version": 1}
	for _, c := range r.all {
		key := c.AutoinstallKey()
		if key == "" {
			continue
		}
		fragment := c.MakeAutoinstall()
		if fragment == nil {
			continue
		}
		out[key] = fragment
	}
	return out
}

// MarkConfigured marks the named endpoints' stages configured. Unknown names
// fail the whole call before any stage is touched.
func (r *Registry) MarkConfigured(ctx context.Context, endpointNames []string) error {
	stages := make([]Controller, 0, len(endpointNames))
	for _, name := range endpointNames {
		c, err := r.ByEndpoint(name)
		if err != nil {
			return err
		}
		stages = append(stages, c)
	}
	for _, c := range stages {
		if err := c.Configured(ctx); err != nil {
			return fmt.Errorf("mark %s configured: %w", c.Name(), err)
		}
	}
	return nil
}

// InteractiveSections names the autoinstall keys a client should walk. A list
// that is exactly ["*"] expands to the keyed stages that currently answer
// interactive; a "*" mixed into a longer list is just another section name.
// Recomputed on every call.
func (r *Registry) InteractiveSections() []string {
	cfg := r.rt.Autoinstall()
	if cfg == nil {
		return nil
	}
	raw := cfg.InteractiveSections()
	if raw == nil {
		return nil
	}

	if len(raw) != 1 || raw[0] != "*" {
		return raw
	}

	var out []string
	for _, c := range r.all {
		if c.AutoinstallKey() == "" {
			continue
		}
		if c.Interactive() {
			out = append(out, c.AutoinstallKey())
		}
	}
	return out
}

// Typed accessors for the stages other components collaborate with.

func (r *Registry) Early() *EarlyController         { return r.early }
func (r *Registry) Reporting() *ReportingController { return r.reporting }
func (r *Registry) Errors() *ErrorController        { return r.errors }
func (r *Registry) Network() *NetworkController     { return r.network }
func (r *Registry) Proxy() *ProxyController         { return r.proxy }
func (r *Registry) Mirror() *MirrorController       { return r.mirror }
func (r *Registry) Refresh() *RefreshController     { return r.refresh }
func (r *Registry) Install() *InstallController     { return r.install }
func (r *Registry) Shutdown() *ShutdownController   { return r.shutdown }
