package types

// State represents the coordinator lifecycle state.
//
// States follow a fixed progression:
//
//	StateInit → StateStarting → StateRunning → StateStopping → StateStopped
//
// A failed start moves from StateStarting straight to StateStopped.
type State int

const (
	// StateInit is the initial state before Start.
	StateInit State = iota

	// StateStarting indicates the coordinator is initializing the segment layout.
	StateStarting

	// StateRunning indicates the coordination loop is claiming and processing segments.
	StateRunning

	// StateStopping indicates work packages are being aborted.
	StateStopping

	// StateStopped is the terminal state.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
