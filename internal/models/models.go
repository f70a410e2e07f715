// Package models tracks which configuration models have been completed this
// run. The install phase may only start writing to the target once every
// install-phase model is configured and a client (or the unattended driver)
// has confirmed; post-install configuration is what remains afterwards.
package models

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/provisionhq/stagehand/api/pkg/logger"
	"github.com/provisionhq/stagehand/api/types"
)

// Set is a group of model names, with extras that only apply to some
// variants.
type Set struct {
	common []string
	extras map[types.Variant][]string
}

func NewSet(common []string, extras map[types.Variant][]string) Set {
	return Set{common: common, extras: extras}
}

// ForVariant returns the names the set contains for one variant.
func (s Set) ForVariant(variant types.Variant) map[string]bool {
	names := make(map[string]bool, len(s.common))
	for _, name := range s.common {
		names[name] = true
	}
	for _, name := range s.extras[variant] {
		names[name] = true
	}
	return names
}

// InstallModelNames are the models the target write depends on.
var InstallModelNames = NewSet(
	[]string{"filesystem", "keyboard", "mirror", "network", "proxy", "source"},
	map[types.Variant][]string{
		types.VariantDesktop: {"timezone"},
	},
)

// PostinstallModelNames are the models applied to the installed system after
// the target write.
var PostinstallModelNames = NewSet(
	[]string{"identity", "locale", "ssh", "updates"},
	map[types.Variant][]string{
		types.VariantServer: {"timezone"},
	},
)

// Tracker records configured model names and the confirmation latch for one
// run.
type Tracker struct {
	mu          sync.Mutex
	logger      logrus.FieldLogger
	variant     types.Variant
	install     Set
	postinstall Set
	configured  map[string]bool
	confirmed   bool
	// changed is closed and rearmed on every mutation so waiters can
	// re-check their predicate.
	changed chan struct{}
}

type Option func(*Tracker)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func WithVariant(variant types.Variant) Option {
	return func(t *Tracker) {
		t.variant = variant
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		variant:     types.VariantServer,
		install:     InstallModelNames,
		postinstall: PostinstallModelNames,
		configured:  make(map[string]bool),
		changed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.NewDiscardLogger()
	}
	return t
}

func (t *Tracker) Variant() types.Variant {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.variant
}

// SetVariant switches the client variant, which changes which models belong
// to which phase.
func (t *Tracker) SetVariant(variant types.Variant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.variant = variant
	t.signal()
}

// Configured records that a model is complete. Recording the same model
// twice is harmless.
func (t *Tracker) Configured(name string) {
	if name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.configured[name] {
		return
	}
	t.configured[name] = true
	t.logger.WithField("model", name).Debug("model configured")
	t.signal()
}

func (t *Tracker) IsConfigured(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.configured[name]
}

// IsPostinstallOnly reports whether a model belongs exclusively to the
// post-install phase for the current variant. Those are the stages a client
// may still configure while waiting for install confirmation.
func (t *Tracker) IsPostinstallOnly(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.postinstall.ForVariant(t.variant)[name] && !t.install.ForVariant(t.variant)[name]
}

// Confirm grants the install confirmation. The latch never resets.
func (t *Tracker) Confirm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.confirmed {
		return
	}
	t.confirmed = true
	t.signal()
}

func (t *Tracker) Confirmed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.confirmed
}

// WaitConfirmation blocks until Confirm is called.
func (t *Tracker) WaitConfirmation(ctx context.Context) error {
	return t.waitFor(ctx, func() bool { return t.confirmed })
}

// WaitInstallConfigured blocks until every install-phase model for the
// current variant is configured.
func (t *Tracker) WaitInstallConfigured(ctx context.Context) error {
	return t.waitFor(ctx, func() bool { return t.setConfigured(t.install) })
}

// WaitPostinstallConfigured blocks until every post-install model for the
// current variant is configured.
func (t *Tracker) WaitPostinstallConfigured(ctx context.Context) error {
	return t.waitFor(ctx, func() bool { return t.setConfigured(t.postinstall) })
}

// InstallConfigured reports whether the install phase could start now.
func (t *Tracker) InstallConfigured() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setConfigured(t.install)
}

// waitFor blocks until predicate holds. predicate runs with the lock held.
func (t *Tracker) waitFor(ctx context.Context, predicate func() bool) error {
	for {
		t.mu.Lock()
		ok := predicate()
		changed := t.changed
		t.mu.Unlock()

		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// signal releases waiters so they re-check predicates. Callers hold the lock.
func (t *Tracker) signal() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// setConfigured reports whether every name in the set is configured for the
// current variant. Callers hold the lock.
func (t *Tracker) setConfigured(set Set) bool {
	for name := range set.ForVariant(t.variant) {
		if !t.configured[name] {
			return false
		}
	}
	return true
}
