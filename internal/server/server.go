// Package server assembles and runs the installer: it owns the runtime the
// stages share, brings up the API socket, walks the startup sequence, and
// holds the fault boundary every fatal error lands at.
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/provisionhq/stagehand/api/pkg/logger"
	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/autoinstall"
	"github.com/provisionhq/stagehand/internal/cloudinit"
	"github.com/provisionhq/stagehand/internal/controllers"
	"github.com/provisionhq/stagehand/internal/eventhub"
	"github.com/provisionhq/stagehand/internal/eventlog"
	"github.com/provisionhq/stagehand/internal/geoip"
	"github.com/provisionhq/stagehand/internal/installeruser"
	"github.com/provisionhq/stagehand/internal/models"
	"github.com/provisionhq/stagehand/internal/report"
	"github.com/provisionhq/stagehand/internal/snapd"
	"github.com/provisionhq/stagehand/internal/sshkeys"
	"github.com/provisionhq/stagehand/internal/statemachine"
	"github.com/provisionhq/stagehand/internal/statestore"
)

const (
	// DefaultSocketPath is where clients find the installer API.
	DefaultSocketPath = "/run/stagehand/stagehand.sock"
	// DefaultStateDir holds everything the server persists across restarts.
	DefaultStateDir = "/var/lib/stagehand"

	// casperNoPromptPath tells the live session not to prompt before
	// starting an unattended run.
	casperNoPromptPath = "/run/casper-no-prompt"

	// crashDirName is the state subdirectory error reports persist under.
	crashDirName = "crashes"
)

// dryRunGeoIPResponse keeps dry runs off the network while still exercising
// the lookup-consuming stages.
const dryRunGeoIPResponse = `<Response><CountryCode>US</CountryCode><TimeZone>America/New_York</TimeZone></Response>`

// Config is the operator-facing configuration of one server run.
type Config struct {
	// SocketPath is the unix socket the API listens on.
	SocketPath string
	// StateDir is the persistence root.
	StateDir string
	// AutoinstallPath is the operator-supplied config file. nil means
	// unset (scan cloud and media locations); a pointer to "" disables the
	// scan entirely; a named but missing file is a fatal config error.
	AutoinstallPath *string
	// DryRun simulates the run without touching the host.
	DryRun bool
}

// Server is the orchestrator. It implements api.Orchestrator.
type Server struct {
	logger logrus.FieldLogger
	cfg    Config
	fs     afero.Fs

	store    *statestore.Store
	state    statemachine.Interface
	models   *models.Tracker
	hub      *eventhub.Hub
	events   *eventlog.Reporter
	reports  *report.Reporter
	geo      *geoip.Client
	snapd    *snapd.Client
	cloud    *cloudinit.Client
	users    *installeruser.Provisioner
	keys     *sshkeys.Scanner
	resolver *autoinstall.Resolver

	rt       *controllers.Runtime
	registry *controllers.Registry

	syslogIDs    eventlog.SyslogIDs
	registryOpts []controllers.RegistryOption
	listener     net.Listener
	restartFn    func() error
	snapdSet     bool

	mu            sync.Mutex
	confirmingTTY string
	cloudInitOK   *bool
	interactive   *bool
	credential    *installeruser.Credential
	errorRef      *types.ErrorReportRef

	faulted          atomic.Bool
	restartRequested atomic.Bool
	exitOnce         sync.Once
	exitCh           chan struct{}
}

type Option func(*Server)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithFs redirects state, reports, and marker writes, for tests.
func WithFs(fsys afero.Fs) Option {
	return func(s *Server) {
		s.fs = fsys
	}
}

// WithCloudInit replaces the platform-init client.
func WithCloudInit(client *cloudinit.Client) Option {
	return func(s *Server) {
		s.cloud = client
	}
}

// WithSnapd replaces the package daemon client. Passing nil pins the run to
// "no daemon" instead of discovering one.
func WithSnapd(client *snapd.Client) Option {
	return func(s *Server) {
		s.snapd = client
		s.snapdSet = true
	}
}

// WithGeoIP replaces the location lookup client.
func WithGeoIP(client *geoip.Client) Option {
	return func(s *Server) {
		s.geo = client
	}
}

// WithProvisioner replaces the installer user provisioner.
func WithProvisioner(p *installeruser.Provisioner) Option {
	return func(s *Server) {
		s.users = p
	}
}

// WithSSHScanner replaces the key fingerprint scanner.
func WithSSHScanner(scanner *sshkeys.Scanner) Option {
	return func(s *Server) {
		s.keys = scanner
	}
}

// WithEventReporter replaces the journal event reporter.
func WithEventReporter(reporter *eventlog.Reporter) Option {
	return func(s *Server) {
		s.events = reporter
	}
}

// WithRegistryOptions forwards options to the stage registry, for tests that
// need to replace stage collaborators.
func WithRegistryOptions(opts ...controllers.RegistryOption) Option {
	return func(s *Server) {
		s.registryOpts = append(s.registryOpts, opts...)
	}
}

// WithListener serves on an existing listener instead of binding the
// configured socket.
func WithListener(ln net.Listener) Option {
	return func(s *Server) {
		s.listener = ln
	}
}

// WithRestartFunc replaces the process re-exec, for tests.
func WithRestartFunc(fn func() error) Option {
	return func(s *Server) {
		s.restartFn = fn
	}
}

// New assembles the runtime, the stage registry, and every collaborator a
// run needs. Nothing is started; Run does that.
func New(cfg Config, opts ...Option) (*Server, error) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}

	s := &Server{
		cfg:    cfg,
		exitCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.NewDiscardLogger()
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.restartFn == nil {
		s.restartFn = restartProcess
	}

	store, err := statestore.New(cfg.StateDir, statestore.WithFs(s.fs))
	if err != nil {
		return nil, fmt.Errorf("open state directory: %w", err)
	}
	s.store = store

	reports, err := report.NewReporter(filepath.Join(cfg.StateDir, crashDirName),
		report.WithFs(s.fs), report.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("open crash directory: %w", err)
	}
	s.reports = reports

	s.syslogIDs = eventlog.NewSyslogIDs()
	if s.events == nil {
		s.events = eventlog.NewReporter(s.syslogIDs, eventlog.WithLogger(s.logger))
	}

	s.state = statemachine.New(
		statemachine.WithLogger(s.logger),
		statemachine.WithPersister(statePersister{store: store}),
	)
	s.models = models.NewTracker(models.WithLogger(s.logger))
	s.hub = eventhub.New(eventhub.WithLogger(s.logger))

	if s.geo == nil {
		if cfg.DryRun {
			s.geo = geoip.New(
				geoip.WithLogger(s.logger),
				geoip.WithStrategy(&geoip.StaticStrategy{Response: []byte(dryRunGeoIPResponse)}),
			)
		} else {
			s.geo = geoip.New(geoip.WithLogger(s.logger))
		}
	}
	if !s.snapdSet && s.snapd == nil && !cfg.DryRun {
		s.snapd = snapd.Discover(snapd.DefaultSocketPath, snapd.WithLogger(s.logger))
	}
	if s.cloud == nil {
		s.cloud = cloudinit.New(cloudinit.WithLogger(s.logger))
	}
	if s.users == nil {
		s.users = installeruser.New(store,
			installeruser.WithLogger(s.logger), installeruser.WithDryRun(cfg.DryRun))
	}
	if s.keys == nil {
		s.keys = sshkeys.NewScanner(sshkeys.WithLogger(s.logger))
	}

	s.rt = &controllers.Runtime{
		Logger:  s.logger,
		State:   s.state,
		Models:  s.models,
		Hub:     s.hub,
		Store:   store,
		Events:  s.events,
		Snapd:   s.snapd,
		GeoIP:   s.geo,
		Reports: reports,
		DryRun:  cfg.DryRun,
		Fault:   s.fault,
		Restart: s.RequestRestart,
		Exit:    s.RequestExit,
	}
	s.registry = controllers.NewRegistry(s.rt, s.registryOpts...)

	s.hub.Subscribe(eventhub.ChannelNetworkUp, s.onNetworkUp)
	s.hub.Subscribe(eventhub.ChannelNetworkProxySet, s.onProxySet)
	s.registerStateEvents()

	s.resolver = autoinstall.NewResolver(store.Path(statestore.AutoinstallFile),
		autoinstall.WithFs(s.fs),
		autoinstall.WithResolverLogger(s.logger),
		autoinstall.WithOperatorPath(cfg.AutoinstallPath),
	)

	return s, nil
}

// Registry exposes the stage registry, mainly so the composing command can
// reach typed stage accessors.
func (s *Server) Registry() *controllers.Registry {
	return s.registry
}

// registerStateEvents pushes a journal event on every state change so a
// follower of the event stream sees the run's phase progression.
func (s *Server) registerStateEvents() {
	for _, state := range types.ApplicationStates {
		target := state
		s.state.RegisterEventHandler(target, func(ctx context.Context, from, to types.ApplicationState) {
			s.events.ReportStart("state/"+string(to), fmt.Sprintf("entered %s from %s", to, from))
		})
	}
}

// statePersister writes the current state where clients and the next server
// process read it.
type statePersister struct {
	store *statestore.Store
}

func (p statePersister) PersistState(state types.ApplicationState) error {
	return p.store.WriteText(statestore.ServerStateFile, string(state))
}

// restartProcess replaces the running server with a fresh copy of itself,
// preserving arguments and environment.
func restartProcess() error {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return syscall.Exec(exe, os.Args, os.Environ())
}
