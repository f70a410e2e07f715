// Package controllers holds the install stages and the registry that drives
// them. Each stage implements the Controller lifecycle contract; the fixed
// registry order is the authoritative execution and display order. Stage
// internals stay thin here: the contract, ordering, persistence, and
// orchestration hooks are what this package owns.
package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/autoinstall"
	"github.com/provisionhq/stagehand/internal/eventhub"
	"github.com/provisionhq/stagehand/internal/eventlog"
	"github.com/provisionhq/stagehand/internal/geoip"
	"github.com/provisionhq/stagehand/internal/models"
	"github.com/provisionhq/stagehand/internal/report"
	"github.com/provisionhq/stagehand/internal/snapd"
	"github.com/provisionhq/stagehand/internal/statemachine"
	"github.com/provisionhq/stagehand/internal/statestore"
)

// Controller is the lifecycle contract every install stage implements.
type Controller interface {
	Name() string
	AutoinstallKey() string
	ModelName() string
	Endpoint() string
	// Interactive reports whether this stage expects a client to drive it.
	// It must be re-evaluated on every call, never cached: the answer can
	// change as earlier stages apply configuration.
	Interactive() bool

	// LoadState restores persisted partial progress. Called once at startup,
	// before any stage runs.
	LoadState(ctx context.Context) error
	// SetupAutoinstall ingests and validates the stage's slice of the
	// autoinstall tree. It must not block on the network or on user input.
	SetupAutoinstall(ctx context.Context) error
	// ApplyAutoinstall performs the non-interactive application of the
	// ingested configuration. It may be long-running and must tolerate being
	// run again after an interruption.
	ApplyAutoinstall(ctx context.Context) error
	// Configured marks the stage's model complete. Idempotent; callable by
	// the stage itself or externally through the API.
	Configured(ctx context.Context) error
	// MakeAutoinstall serializes the stage's effective configuration back to
	// an autoinstall fragment, or nil when it has nothing beyond defaults.
	MakeAutoinstall() any

	// GetData and SetData back the stage's GET/POST endpoint. Stages without
	// an endpoint are never routed to.
	GetData(ctx context.Context) (any, error)
	SetData(ctx context.Context, data json.RawMessage) error

	// Start launches the stage's background work, if any. It must return
	// promptly.
	Start(ctx context.Context) error
}

// Runtime is the shared server context handed to every stage. It is
// assembled once by the orchestrator; the autoinstall config is attached
// after resolution and immutable from then on.
type Runtime struct {
	Logger  logrus.FieldLogger
	State   statemachine.Interface
	Models  *models.Tracker
	Hub     *eventhub.Hub
	Store   *statestore.Store
	Events  *eventlog.Reporter
	Snapd   *snapd.Client
	GeoIP   *geoip.Client
	Reports *report.Reporter
	DryRun  bool

	// Fault hands a fatal stage failure to the orchestrator's fault
	// boundary.
	Fault func(stage string, isInstall bool, err error)

	// Restart asks the orchestrator to re-exec the server process.
	Restart func()

	// Exit asks the orchestrator to end the run cleanly.
	Exit func()

	mu  sync.RWMutex
	cfg *autoinstall.Config
}

// SetAutoinstall attaches the resolved config. The orchestrator calls it
// during startup, always before the full setup sweep; early commands may
// rewrite the config file, in which case the reloaded config is attached
// the same way.
func (rt *Runtime) SetAutoinstall(cfg *autoinstall.Config) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.cfg = cfg
}

// Autoinstall returns the resolved config, nil when the run has none.
func (rt *Runtime) Autoinstall() *autoinstall.Config {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.cfg
}

// Interactive reports whether the run as a whole is interactive: no
// autoinstall config at all, or one that names interactive sections.
func (rt *Runtime) Interactive() bool {
	cfg := rt.Autoinstall()
	return cfg == nil || cfg.Interactive()
}

// ReportStart emits a progress start event when an event reporter is wired.
func (rt *Runtime) ReportStart(name, description string) {
	if rt.Events != nil {
		rt.Events.ReportStart(name, description)
	}
}

// ReportFinish emits a progress finish event when an event reporter is
// wired.
func (rt *Runtime) ReportFinish(name, description string) {
	if rt.Events != nil {
		rt.Events.ReportFinish(name, description)
	}
}

func (rt *Runtime) fault(stage string, isInstall bool, err error) {
	if rt.Fault != nil {
		rt.Fault(stage, isInstall, err)
		return
	}
	rt.Logger.WithError(err).Errorf("stage %s faulted with no fault boundary wired", stage)
}

func (rt *Runtime) requestRestart() {
	if rt.Restart != nil {
		rt.Restart()
		return
	}
	rt.Logger.Warnf("restart requested but no restart hook is wired")
}

func (rt *Runtime) requestExit() {
	if rt.Exit != nil {
		rt.Exit()
		return
	}
	rt.Logger.Warnf("exit requested but no exit hook is wired")
}

// interactivity is a stage's override of the derived per-stage answer.
type interactivity int

const (
	// interactivityDerived answers from the autoinstall config.
	interactivityDerived interactivity = iota
	interactivityForcedOn
	interactivityForcedOff
)

// Base carries a stage's identity and the shared runtime, and supplies the
// default contract behavior. Stage implementations embed it and override
// what they need.
type Base struct {
	rt     *Runtime
	logger logrus.FieldLogger

	name           string
	autoinstallKey string
	modelName      string
	endpoint       string
	interactive    interactivity
}

func newBase(rt *Runtime, name, autoinstallKey, modelName, endpoint string) Base {
	return Base{
		rt:             rt,
		logger:         rt.Logger.WithField("stage", name),
		name:           name,
		autoinstallKey: autoinstallKey,
		modelName:      modelName,
		endpoint:       endpoint,
	}
}

func (b *Base) Name() string           { return b.name }
func (b *Base) AutoinstallKey() string { return b.autoinstallKey }
func (b *Base) ModelName() string      { return b.modelName }
func (b *Base) Endpoint() string       { return b.endpoint }

// Interactive derives the per-stage answer from the override and the
// autoinstall config: no config means fully interactive; otherwise the
// config must name this stage's key (or the wildcard).
func (b *Base) Interactive() bool {
	switch b.interactive {
	case interactivityForcedOn:
		return true
	case interactivityForcedOff:
		return false
	}
	cfg := b.rt.Autoinstall()
	if cfg == nil {
		return true
	}
	return cfg.SectionInteractive(b.autoinstallKey)
}

func (b *Base) LoadState(ctx context.Context) error        { return nil }
func (b *Base) SetupAutoinstall(ctx context.Context) error { return nil }
func (b *Base) ApplyAutoinstall(ctx context.Context) error { return nil }
func (b *Base) MakeAutoinstall() any                       { return nil }
func (b *Base) Start(ctx context.Context) error            { return nil }

// Configured marks the stage's model complete.
func (b *Base) Configured(ctx context.Context) error {
	b.MarkConfigured()
	return nil
}

// MarkConfigured records the stage's model in the tracker. Stages without a
// model have nothing to record.
func (b *Base) MarkConfigured() {
	if b.modelName != "" {
		b.rt.Models.Configured(b.modelName)
	}
}

func (b *Base) GetData(ctx context.Context) (any, error) {
	return nil, types.NewNotFoundError(fmt.Errorf("stage %s has no data endpoint", b.name))
}

func (b *Base) SetData(ctx context.Context, data json.RawMessage) error {
	return types.NewNotFoundError(fmt.Errorf("stage %s has no data endpoint", b.name))
}

// stateFile is the stage's progress file in the state directory.
func (b *Base) stateFile() string {
	return b.name + ".json"
}

// loadJSON restores persisted progress into out, reporting whether any was
// found.
func (b *Base) loadJSON(out any) (bool, error) {
	if !b.rt.Store.Exists(b.stateFile()) {
		return false, nil
	}
	if err := b.rt.Store.ReadJSON(b.stateFile(), out); err != nil {
		return true, fmt.Errorf("load %s state: %w", b.name, err)
	}
	return true, nil
}

// saveJSON persists the stage's progress.
func (b *Base) saveJSON(v any) error {
	if err := b.rt.Store.WriteJSON(b.stateFile(), v); err != nil {
		return fmt.Errorf("persist %s state: %w", b.name, err)
	}
	return nil
}

// decodeSection ingests the stage's autoinstall section into out, reporting
// whether the section was present.
func (b *Base) decodeSection(out any) (bool, error) {
	cfg := b.rt.Autoinstall()
	if cfg == nil || b.autoinstallKey == "" {
		return false, nil
	}
	found, err := cfg.DecodeSection(b.autoinstallKey, out)
	if err != nil {
		return found, fmt.Errorf("ingest %s section: %w", b.autoinstallKey, err)
	}
	return found, nil
}
