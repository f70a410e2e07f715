package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/gorilla/mux"
	"github.com/spf13/afero"

	"github.com/provisionhq/stagehand/api"
	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/autoinstall"
	"github.com/provisionhq/stagehand/internal/cloudinit"
	"github.com/provisionhq/stagehand/internal/statestore"
)

// shutdownGrace bounds how long in-flight requests may hold up exit.
const shutdownGrace = 5 * time.Second

// commandPause separates an externally visible state change from the
// commands that follow it, so a client polling status can show the phase
// before output starts flowing.
const commandPause = time.Second

// Run serves the API and walks the startup sequence, then blocks until the
// context is canceled or a stage requests exit. The socket comes up before
// anything slow so clients can watch the whole run, including the wait for
// platform init.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := s.listen()
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	router := mux.NewRouter()
	apiServer, err := api.New(s, s.registry, s.rt, api.WithLogger(s.logger))
	if err != nil {
		ln.Close()
		return fmt.Errorf("build api: %w", err)
	}
	apiServer.RegisterRoutes(router)

	httpServer := &http.Server{Handler: router}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()
	s.logger.WithField("socket", ln.Addr().String()).Info("installer API up")

	go func() {
		if err := s.startup(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.fault("startup", false, err)
		}
	}()

	select {
	case <-ctx.Done():
	case <-s.exitCh:
	case err := <-serveErr:
		return fmt.Errorf("serve api: %w", err)
	}
	cancel()

	// Exited is persisted before the process goes away so a late poller
	// reads a terminal state instead of a stale one.
	if err := s.state.Transition(types.StateExited); err != nil {
		s.logger.WithError(err).Warn("failed to record exit state")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
	}

	if s.restartRequested.Load() {
		s.logger.Info("restarting server process")
		return s.restartFn()
	}
	return nil
}

// listen prefers an injected listener, then a systemd activation socket,
// then binds the configured path directly. Directly bound sockets are world
// writable: the installer API is the local client surface.
func (s *Server) listen() (net.Listener, error) {
	if s.listener != nil {
		return s.listener, nil
	}

	listeners, err := activation.Listeners()
	if err != nil {
		s.logger.WithError(err).Debug("no systemd activation sockets")
	} else if len(listeners) > 0 && listeners[0] != nil {
		s.logger.Info("using systemd activation socket")
		return listeners[0], nil
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o666); err != nil {
		ln.Close()
		return nil, fmt.Errorf("open socket permissions: %w", err)
	}
	return ln, nil
}

// startup walks the run from StartingUp to Waiting: platform init, config
// resolution, the early phase, state restoration, and finally the apply
// sweep for unattended runs. Any error lands at the fault boundary.
func (s *Server) startup(ctx context.Context) error {
	if err := s.state.PersistCurrent(); err != nil {
		return fmt.Errorf("persist initial state: %w", err)
	}

	if err := s.waitCloudInit(ctx); err != nil {
		return err
	}

	if err := s.resolveAutoinstall(); err != nil {
		return err
	}

	if err := s.runEarlyPhase(ctx); err != nil {
		return err
	}

	if err := s.registry.LoadState(ctx); err != nil {
		return err
	}

	if err := s.registry.SetupAutoinstall(ctx); err != nil {
		return fmt.Errorf("ingest autoinstall: %w", err)
	}

	interactive := s.rt.Interactive()
	s.mu.Lock()
	s.interactive = &interactive
	s.mu.Unlock()
	s.logger.WithField("interactive", interactive).Info("interactivity settled")

	if !interactive && !s.cfg.DryRun {
		s.writeCasperNoPrompt()
	}

	if err := s.state.Transition(types.StateWaiting); err != nil {
		return fmt.Errorf("enter waiting state: %w", err)
	}

	if err := s.registry.StartAll(ctx); err != nil {
		return fmt.Errorf("start stages: %w", err)
	}

	if s.rt.Autoinstall() != nil {
		if err := s.registry.ApplyAutoinstall(ctx); err != nil {
			return fmt.Errorf("apply autoinstall: %w", err)
		}
	}

	return nil
}

// waitCloudInit parks the run until platform init settles, then harvests
// what it left behind: the default user to provision and an autoinstall
// payload, if the instance data carried one.
func (s *Server) waitCloudInit(ctx context.Context) error {
	if err := s.state.Transition(types.StateCloudInitWait); err != nil {
		return fmt.Errorf("enter cloud-init wait: %w", err)
	}

	ok, status := s.cloud.Wait(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cloudInitOK = &ok
	s.mu.Unlock()
	s.logger.WithField("status", status).WithField("answered", ok).Info("cloud-init settled")

	cfg, err := s.cloud.CombinedConfig()
	if err != nil {
		s.logger.WithError(err).Debug("no combined cloud config for this boot")
		cfg = nil
	}

	cred, err := s.users.Provision(ctx, cloudinit.DefaultUsername(cfg))
	if err != nil {
		s.logger.WithError(err).Warn("installer user provisioning failed")
	} else {
		s.mu.Lock()
		s.credential = cred
		s.mu.Unlock()
	}

	if payload, found := cloudinit.ExtractAutoinstall(cfg); found {
		if err := s.cloud.WriteAutoinstall(payload, autoinstall.DefaultCloudPath); err != nil {
			return err
		}
		s.logger.Info("staged cloud-provided autoinstall")
	}

	return nil
}

// resolveAutoinstall picks this run's config source and attaches the parsed
// config to the runtime. No source at all means a fully interactive run.
func (s *Server) resolveAutoinstall() error {
	path, err := s.resolver.Resolve()
	if err != nil {
		return fmt.Errorf("resolve autoinstall: %w", err)
	}
	if path == "" {
		s.logger.Info("no autoinstall config, fully interactive run")
		return nil
	}
	return s.loadAutoinstall(path)
}

func (s *Server) loadAutoinstall(path string) error {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return fmt.Errorf("read autoinstall config: %w", err)
	}
	cfg, err := autoinstall.Load(data)
	if err != nil {
		return fmt.Errorf("load autoinstall config: %w", err)
	}
	s.rt.SetAutoinstall(cfg)
	s.logger.WithField("path", path).Info("autoinstall config attached")
	return nil
}

// runEarlyPhase brings up the stages that must exist before anything can
// fail (reporting, error recovery), then runs the early commands once per
// state directory. Early commands may rewrite the config file, so it is
// reloaded afterwards.
func (s *Server) runEarlyPhase(ctx context.Context) error {
	if s.rt.Autoinstall() == nil {
		return nil
	}

	if err := s.registry.Reporting().SetupAutoinstall(ctx); err != nil {
		return fmt.Errorf("stage reporting: %w", err)
	}
	if err := s.registry.Reporting().Start(ctx); err != nil {
		return fmt.Errorf("start reporting: %w", err)
	}
	if err := s.registry.Errors().SetupAutoinstall(ctx); err != nil {
		return fmt.Errorf("stage error recovery: %w", err)
	}
	early := s.registry.Early()
	if err := early.SetupAutoinstall(ctx); err != nil {
		return fmt.Errorf("stage early commands: %w", err)
	}

	if !early.HasCommands() || s.store.Exists(statestore.EarlyCommandsStamp) {
		return nil
	}

	if err := s.state.Transition(types.StateEarlyCommands); err != nil {
		return fmt.Errorf("enter early commands state: %w", err)
	}
	if err := pause(ctx, commandPause); err != nil {
		return err
	}
	if err := early.Run(ctx); err != nil {
		return fmt.Errorf("early commands: %w", err)
	}
	if err := s.store.Stamp(statestore.EarlyCommandsStamp); err != nil {
		return fmt.Errorf("stamp early commands: %w", err)
	}
	if err := pause(ctx, commandPause); err != nil {
		return err
	}

	return s.loadAutoinstall(s.store.Path(statestore.AutoinstallFile))
}

func (s *Server) writeCasperNoPrompt() {
	if err := afero.WriteFile(s.fs, casperNoPromptPath, nil, 0o644); err != nil {
		s.logger.WithError(err).Warn("failed to write live-session no-prompt marker")
	}
}

func pause(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
