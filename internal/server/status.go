package server

import (
	"context"

	"github.com/provisionhq/stagehand/api"
	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/eventhub"
)

var _ api.Orchestrator = (*Server)(nil)

// Status snapshots the run for GET /meta/status. CloudInitOK and Interactive
// stay nil until the startup step that decides them has run.
func (s *Server) Status() types.ApplicationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.ApplicationStatus{
		State:         s.state.CurrentState(),
		ConfirmingTTY: s.confirmingTTY,
		Error:         s.errorRef,
		CloudInitOK:   s.cloudInitOK,
		Interactive:   s.interactive,
		EchoSyslogID:  s.syslogIDs.Echo,
		LogSyslogID:   s.syslogIDs.Log,
		EventSyslogID: s.syslogIDs.Event,
	}
}

// Confirm records which terminal confirmed and releases the install flow if
// it is parked at the confirmation gate. Confirming before the gate is
// reached is allowed and remembered.
func (s *Server) Confirm(ctx context.Context, tty string) error {
	s.mu.Lock()
	s.confirmingTTY = tty
	s.mu.Unlock()
	s.models.Confirm()
	s.logger.WithField("tty", tty).Info("installation confirmed")
	return nil
}

// SSHInfo describes how to reach the live session: the provisioned
// credential, the session user's authorized keys, the host keys, and the
// addresses the network stage has seen. Nil when no credential exists yet,
// when no global address is up, or when the credential offers neither a
// password nor a key to log in with.
func (s *Server) SSHInfo(ctx context.Context) (*types.SSHInfo, error) {
	s.mu.Lock()
	cred := s.credential
	s.mu.Unlock()
	if cred == nil {
		return nil, nil
	}

	ips := s.registry.Network().GlobalIPs()
	if len(ips) == 0 {
		return nil, nil
	}
	authorized := s.keys.UserKeyFingerprints(cred.Username)
	if cred.PasswordKind == types.PasswordKindNone && len(authorized) == 0 {
		// No password and no keys: nobody could open a session anyway.
		return nil, nil
	}

	info := &types.SSHInfo{
		Username:                  cred.Username,
		PasswordKind:              cred.PasswordKind,
		AuthorizedKeyFingerprints: authorized,
		IPs:                       ips,
		HostKeyFingerprints:       s.keys.HostKeyFingerprints(),
	}
	if cred.PasswordKind == types.PasswordKindKnown {
		info.Password = cred.Password
	}
	return info, nil
}

// RequestRestart ends the run loop and re-execs the server binary once the
// API has drained.
func (s *Server) RequestRestart() {
	s.restartRequested.Store(true)
	s.RequestExit()
}

// RequestExit ends the run loop cleanly. Safe to call more than once.
func (s *Server) RequestExit() {
	s.exitOnce.Do(func() {
		close(s.exitCh)
	})
}

// onNetworkUp fans network connectivity out to the package daemon watchers.
func (s *Server) onNetworkUp(ctx context.Context) error {
	if !s.snapd.Available() {
		return nil
	}
	return s.hub.Publish(ctx, eventhub.ChannelSnapdNetworkChange)
}

// onProxySet pushes the proxy into the package daemon before announcing the
// network change, so daemon requests triggered by the announcement already
// go through the proxy. A daemon push failure is logged, not fatal: the
// proxy still applies to the install itself.
func (s *Server) onProxySet(ctx context.Context) error {
	if !s.snapd.Available() {
		return nil
	}
	proxy := s.registry.Proxy().Proxy()
	if err := s.snapd.SetProxy(ctx, proxy, proxy); err != nil {
		s.logger.WithError(err).Warn("failed to push proxy to package daemon")
	}
	return s.hub.Publish(ctx, eventhub.ChannelSnapdNetworkChange)
}
