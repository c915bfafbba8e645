package supervisor

import "github.com/jeeves-cluster-organization/acqgateway/internal/model"

// validTransitions is the closed transition table for the C2 lifecycle
// state machine (§4.2), shaped the same way the teacher's kernel dispatches
// process-state transitions through a map-of-maps rather than a type switch.
var validTransitions = map[model.ConnectorState]map[model.ConnectorState]bool{
	model.StateUnconfigured: {
		model.StateInitialized: true,
		model.StateStopped:     true,
	},
	model.StateInitialized: {
		model.StateConnecting: true,
		model.StateStopped:    true,
	},
	model.StateConnecting: {
		model.StateConnected:    true,
		model.StateReconnecting: true,
		model.StateStopped:      true,
	},
	model.StateConnected: {
		model.StateDisconnected: true,
		model.StateStopped:      true,
	},
	model.StateDisconnected: {
		model.StateReconnecting: true,
		model.StateStopped:      true,
	},
	model.StateReconnecting: {
		model.StateConnecting: true,
		model.StateFailed:     true,
		model.StateStopped:    true,
	},
	model.StateStopped: {},
	model.StateFailed:  {},
}

// IsValidTransition reports whether from -> to is a legal C2 transition.
func IsValidTransition(from, to model.ConnectorState) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}
