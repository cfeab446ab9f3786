package domain

import "sync"

// ConnectionState is the lifecycle state of one transport connection.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
	StateError      ConnectionState = "error"
)

// Indicator maps a connection state to the label shown by the UI
// connection indicator.
func (s ConnectionState) Indicator() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "degraded"
	default:
		return "offline"
	}
}

// allowedTransitions is the legal edge set of the connection lifecycle.
// closed -> connecting -> open -> closed/error -> connecting (reconnect).
var allowedTransitions = map[ConnectionState][]ConnectionState{
	StateClosed:     {StateConnecting},
	StateConnecting: {StateOpen, StateClosed, StateError},
	StateOpen:       {StateClosed, StateError},
	StateError:      {StateConnecting},
}

// ConnectionStateMachine tracks one transport connection's lifecycle.
// There is no terminal state while the owner is alive; Teardown latches the
// machine and suppresses every later transition, so a timer or callback that
// fires after teardown cannot emit a state change.
type ConnectionStateMachine struct {
	mu       sync.Mutex
	state    ConnectionState
	tornDown bool
}

// NewConnectionStateMachine returns a machine in the closed state.
func NewConnectionStateMachine() *ConnectionStateMachine {
	return &ConnectionStateMachine{state: StateClosed}
}

// State returns the current connection state.
func (m *ConnectionStateMachine) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves the machine to next if the edge is legal and the machine
// has not been torn down. It reports whether the transition was applied.
func (m *ConnectionStateMachine) Transition(next ConnectionState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tornDown {
		return false
	}
	for _, allowed := range allowedTransitions[m.state] {
		if allowed == next {
			m.state = next
			return true
		}
	}
	return false
}

// Teardown latches the machine. Every later Transition is a no-op.
func (m *ConnectionStateMachine) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tornDown = true
}

// TornDown reports whether teardown has begun.
func (m *ConnectionStateMachine) TornDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tornDown
}
