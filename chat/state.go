package chat

// ConnectionState represents the current state of the broker connection.
type ConnectionState int

const (
	// StateDisconnected means the client is not connected.
	StateDisconnected ConnectionState = iota

	// StateConnecting means the client is establishing a connection.
	StateConnecting

	// StateConnected means the client is connected and ready.
	StateConnected

	// StateReconnecting means the client is attempting to reconnect after a
	// transport failure.
	StateReconnecting

	// StateClosed means the client has been explicitly closed.
	StateClosed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent is one transition on the connection status stream.
type StateEvent struct {
	Old   ConnectionState
	New   ConnectionState
	Error error // optional cause of the transition
}

// SessionState represents the lifecycle of a room session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionLoadingHistory
	SessionConnecting
	SessionLive
	SessionDisconnected
)

// String returns the string representation of a SessionState.
func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionLoadingHistory:
		return "loading_history"
	case SessionConnecting:
		return "connecting"
	case SessionLive:
		return "live"
	case SessionDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
