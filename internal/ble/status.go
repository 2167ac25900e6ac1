package ble

// State is the connection state machine position.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status is published on every state transition.
type Status struct {
	State      State
	DeviceName string // set when State is StateReady
}

// Connected reports whether a session is ready.
func (s Status) Connected() bool { return s.State == StateReady }
