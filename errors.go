package netconf

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorKind classifies the failure modes a Session can surface, independent
// of the NETCONF rpc-error taxonomy (see RPCError for that).
type ErrorKind string

const (
	// KindUnreachable means the device could not be reached at the network
	// level (TCP dial failed or timed out) before any NETCONF or SSH
	// handshaking was attempted.
	KindUnreachable ErrorKind = "unreachable"

	// KindAuth means the transport was reachable but authentication or
	// host-key verification failed.
	KindAuth ErrorKind = "auth"

	// KindHandshake means the transport connected but the NETCONF <hello>
	// exchange failed or timed out.
	KindHandshake ErrorKind = "handshake"

	// KindFraming means the message framing codec (EOM or chunked) could
	// not parse a frame boundary.
	KindFraming ErrorKind = "framing"

	// KindProtocol means a well-framed message violated a NETCONF protocol
	// invariant, such as a missing or mismatched message-id.
	KindProtocol ErrorKind = "protocol"

	// KindTimeout means an RPC's deadline expired, whether it came from the
	// caller's context or from the Session's command timeout.
	KindTimeout ErrorKind = "timeout"

	// KindRPC means the device returned one or more rpc-error elements.
	KindRPC ErrorKind = "rpc"

	// KindClosed means the operation was attempted on a session that is
	// closed or broken.
	KindClosed ErrorKind = "closed"
)

// NetconfError is a tagged error carrying the ErrorKind of a Session-level
// failure along with whatever underlying error triggered it. Callers that
// need to branch on failure category should use errors.As against this
// type rather than string-matching Error().
type NetconfError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *NetconfError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("netconf: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("netconf: %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *NetconfError) Unwrap() error {
	return e.Err
}

// newError builds a NetconfError, attaching a stack trace to the wrapped
// error via github.com/pkg/errors so the origin of a fatal transport or
// framing failure survives for logging.
func newError(kind ErrorKind, op string, err error) *NetconfError {
	return &NetconfError{
		Kind: kind,
		Op:   op,
		Err:  pkgerrors.WithStack(err),
	}
}

// IsKind reports whether err is, or wraps, a NetconfError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var nerr *NetconfError
	if !errors.As(err, &nerr) {
		return false
	}
	return nerr.Kind == kind
}
