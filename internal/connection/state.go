package connection

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// transitions lists the legal automatic transitions. Disconnect bypasses it.
var transitions = map[State][]State{
	StateDisconnected:   {StateConnecting},
	StateConnecting:     {StateConnected, StateFailed, StateReconnecting},
	StateConnected:      {StateAuthenticating, StateFailed, StateReconnecting},
	StateAuthenticating: {StateAuthenticated, StateFailed, StateReconnecting},
	StateAuthenticated:  {StateReconnecting},
	StateReconnecting:   {StateConnecting, StateFailed},
	StateFailed:         {StateConnecting},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// active reports whether Connect should be a no-op in this state.
func (s State) active() bool {
	switch s {
	case StateConnecting, StateConnected, StateAuthenticating, StateAuthenticated, StateReconnecting:
		return true
	}
	return false
}
