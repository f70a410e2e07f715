package types

import "fmt"

// ApplicationState is the coarse lifecycle phase of the installer. States are
// entered in progression order; Error may be entered from any state and
// Exited is terminal.
type ApplicationState string

const (
	// StateStartingUp is the initial state before platform readiness is known.
	StateStartingUp ApplicationState = "StartingUp"
	// StateCloudInitWait is entered while waiting for cloud-init to settle.
	StateCloudInitWait ApplicationState = "CloudInitWait"
	// StateEarlyCommands is entered while early commands run.
	StateEarlyCommands ApplicationState = "EarlyCommands"
	// StateWaiting means the server is ready and stages are being driven.
	StateWaiting ApplicationState = "Waiting"
	// StateNeedsConfirmation means install-phase configuration is complete
	// and the run is paused until a client confirms.
	StateNeedsConfirmation ApplicationState = "NeedsConfirmation"
	// StateRunning means the install phase is writing to the target.
	StateRunning ApplicationState = "Running"
	// StatePostWait means the install phase finished and the run is waiting
	// for post-install configuration to complete.
	StatePostWait ApplicationState = "PostWait"
	// StatePostRunning means post-install configuration is being applied.
	StatePostRunning ApplicationState = "PostRunning"
	// StateUpdatesRunning means package updates are being applied on the
	// installed system.
	StateUpdatesRunning ApplicationState = "UpdatesRunning"
	// StateDone means the run finished successfully.
	StateDone ApplicationState = "Done"
	// StateError means the run failed.
	StateError ApplicationState = "Error"
	// StateExited means the server process is going away.
	StateExited ApplicationState = "Exited"
)

// ApplicationStates lists every state in progression order.
var ApplicationStates = []ApplicationState{
	StateStartingUp,
	StateCloudInitWait,
	StateEarlyCommands,
	StateWaiting,
	StateNeedsConfirmation,
	StateRunning,
	StatePostWait,
	StatePostRunning,
	StateUpdatesRunning,
	StateDone,
	StateError,
	StateExited,
}

// ValidateApplicationState rejects values outside the known state set.
func ValidateApplicationState(state ApplicationState) error {
	for _, known := range ApplicationStates {
		if state == known {
			return nil
		}
	}
	return fmt.Errorf("unknown application state: %s", state)
}

// IsTerminal reports whether no further state can follow.
func (s ApplicationState) IsTerminal() bool {
	return s == StateExited
}
