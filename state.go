package netconf

// SessionState describes where a Session is in its lifecycle. A Session
// moves strictly forward through the non-terminal states; StateClosed and
// StateBroken are absorbing and a Session that reaches either cannot be
// reused.
type SessionState int

const (
	// StateNew is the zero value: the Session has been constructed but
	// Open has not yet been called.
	StateNew SessionState = iota

	// StateConnecting means the transport is being established.
	StateConnecting

	// StateHello means the transport is up and the <hello> exchange is
	// in progress.
	StateHello

	// StateReady means the hello exchange completed and the Session can
	// accept RPCs.
	StateReady

	// StateClosing means Close has been called and the close-session
	// RPC (if any) and transport teardown are in progress.
	StateClosing

	// StateClosed means the Session was closed cleanly.
	StateClosed

	// StateBroken means the Session encountered a fatal, unrecoverable
	// error (framing corruption, protocol violation, RPC timeout) and
	// the transport has been or is being torn down outside of a
	// deliberate Close call.
	StateBroken
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateHello:
		return "hello"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// setState transitions the session's state under the session mutex. It does
// not validate the transition graph; callers are trusted to only call it
// from the points in session.go that represent a legal move.
func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
