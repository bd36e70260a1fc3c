package deepgram

// State is the lifecycle phase of a live transcription connection.
type State string

const (
	// StateInit is the state of a client that has never been started.
	StateInit State = "Init"

	// StateConnecting means the WebSocket handshake with /v1/listen is in flight.
	// Audio and control frames sent now are queued.
	StateConnecting State = "Connecting"

	// StateRunning means audio is streaming and results are being received.
	StateRunning State = "Running"

	// StateFinishing means CloseStream was sent and the server is flushing its
	// remaining results before it closes the socket.
	StateFinishing State = "Finishing"

	// StateFinished means the server closed the stream cleanly after CloseStream.
	StateFinished State = "Finished"

	// StateError means the session ended because of an error.
	StateError State = "Error"

	// StateCanceled means the session was torn down by Cancel or its context.
	StateCanceled State = "Canceled"

	// StateClosed means the server closed the socket while audio was still
	// expected, without a CloseStream from us.
	StateClosed State = "Closed"
)

// IsActive reports whether a session is in progress.
func (s State) IsActive() bool {
	switch s {
	case StateConnecting, StateRunning, StateFinishing:
		return true
	default:
		return false
	}
}

// IsInactive reports whether no session is in progress.
func (s State) IsInactive() bool {
	return !s.IsActive()
}

// IsWebSocketActive reports whether a socket should be open in this state.
func (s State) IsWebSocketActive() bool {
	return s == StateRunning || s == StateFinishing
}

// IsTerminal reports whether the state ends a session. Terminal states never
// transition further; a new session needs a new Start.
func (s State) IsTerminal() bool {
	switch s {
	case StateFinished, StateError, StateCanceled, StateClosed:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	return string(s)
}
