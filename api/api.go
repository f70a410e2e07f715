// Package api serves the installer's HTTP surface over the unix socket.
// Routing is static for the meta and error-report endpoints and derived
// from the stage registry for everything else; the request gate in
// middleware.go fronts all of it.
package api

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/provisionhq/stagehand/api/pkg/logger"
	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/controllers"
)

// Orchestrator is the server-side surface the meta endpoints drive. The
// orchestrator owns the pieces that outlive any single stage: the status
// snapshot, confirmation, restart, and the live-session SSH facts.
type Orchestrator interface {
	// Status returns a point-in-time snapshot of the run.
	Status() types.ApplicationStatus
	// Confirm records the confirming terminal and releases the install flow.
	Confirm(ctx context.Context, tty string) error
	// RequestRestart asks the server to re-exec itself once the response is
	// on the wire.
	RequestRestart()
	// SSHInfo describes how to reach the live session, nil when no
	// credential was provisioned.
	SSHInfo(ctx context.Context) (*types.SSHInfo, error)
}

type API struct {
	logger logrus.FieldLogger

	server   Orchestrator
	registry *controllers.Registry
	rt       *controllers.Runtime
}

type APIOption func(*API)

func WithLogger(logger logrus.FieldLogger) APIOption {
	return func(a *API) {
		a.logger = logger
	}
}

// New builds the API around the orchestrator, the stage registry, and the
// shared runtime the stages already hold.
func New(server Orchestrator, registry *controllers.Registry, rt *controllers.Runtime, opts ...APIOption) (*API, error) {
	if server == nil {
		return nil, errors.New("orchestrator is required")
	}
	if registry == nil {
		return nil, errors.New("stage registry is required")
	}
	if rt == nil {
		return nil, errors.New("runtime is required")
	}

	api := &API{
		server:   server,
		registry: registry,
		rt:       rt,
	}

	for _, opt := range opts {
		opt(api)
	}

	if api.logger == nil {
		api.logger = logger.NewDiscardLogger()
	}

	return api, nil
}
