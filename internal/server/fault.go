package server

import (
	"context"

	"github.com/provisionhq/stagehand/api/types"
)

// fault is the single landing point for fatal errors: startup failures and
// stage faults both arrive here through Runtime.Fault. The first fault wins;
// it becomes an error report, triggers the recovery commands once, and moves
// the run to Error. Later faults are logged and dropped.
//
// Interactive runs flip to Error immediately so a watching client reacts
// while recovery commands run in the background. Unattended runs finish the
// recovery commands first: Error is their final, machine-read signal.
func (s *Server) fault(stage string, isInstall bool, err error) {
	if err == nil {
		return
	}
	if !s.faulted.CompareAndSwap(false, true) {
		s.logger.WithError(err).WithField("stage", stage).Error("fault after first fault, dropping")
		return
	}

	kind := types.ErrorReportKindUnknown
	if isInstall {
		kind = types.ErrorReportKindInstallFail
	}
	rep := s.reports.Make(kind, stage, isInstall, err)
	ref := rep.Ref()
	s.mu.Lock()
	s.errorRef = &ref
	s.mu.Unlock()

	s.logger.WithError(err).WithField("stage", stage).WithField("report", rep.ID).Error("fatal fault")

	if s.rt.Interactive() {
		if terr := s.state.Transition(types.StateError); terr != nil {
			s.logger.WithError(terr).Warn("failed to enter error state")
		}
		go s.runRecoveryCommands(context.Background())
		return
	}

	s.runRecoveryCommands(context.Background())
	if terr := s.state.Transition(types.StateError); terr != nil {
		s.logger.WithError(terr).Warn("failed to enter error state")
	}
}

// runRecoveryCommands executes the error stage's commands. Their failure is
// the error stage's to log; it never masks the fault that got us here.
func (s *Server) runRecoveryCommands(ctx context.Context) {
	s.registry.Errors().Run(ctx)
}
