package netconf

import (
	"context"
	"log"
	"time"

	"github.com/imdario/mergo"
)

// ClientTrace is a set of hooks into the lifecycle of a Session, modeled on
// net/http/httptrace. Any hook left nil is simply not called. A trace is
// attached to the context passed to Open and Do/Exec calls using
// WithClientTrace.
type ClientTrace struct {
	// ConnectStart is called before the transport dial begins.
	ConnectStart func(addr string)

	// ConnectDone is called once the transport is dialed (err is non-nil
	// on failure).
	ConnectDone func(addr string, err error)

	// HelloDone is called after the <hello> exchange completes.
	HelloDone func(sessionID uint64, serverCaps []string, err error)

	// WriteStart and WriteDone bracket writing a request message.
	WriteStart func(messageID string)
	WriteDone  func(messageID string, err error)

	// ReadStart and ReadDone bracket reading a reply message.
	ReadStart func(messageID string)
	ReadDone  func(messageID string, err error)

	// ExecuteStart and ExecuteDone bracket a full Exec call, including
	// decode of the reply.
	ExecuteStart func(messageID string)
	ExecuteDone  func(messageID string, d time.Duration, err error)

	// ConnectionClosed is called by Close once the session has reached
	// StateClosed. A session that becomes StateBroken reports the failure
	// through Error instead; a later Close on it still calls this hook.
	ConnectionClosed func(state SessionState, err error)

	// Error is a catch-all called whenever a NetconfError is produced,
	// in addition to any of the more specific hooks above.
	Error func(err error)
}

type clientTraceKey struct{}

// WithClientTrace returns a context derived from ctx carrying trace. Hooks
// in trace not set are filled in from NoOpTrace so callers of
// ContextClientTrace never need a nil check.
func WithClientTrace(ctx context.Context, trace *ClientTrace) context.Context {
	merged := *trace
	_ = mergo.Merge(&merged, NoOpTrace)
	return context.WithValue(ctx, clientTraceKey{}, &merged)
}

// ContextClientTrace returns the ClientTrace associated with ctx, or
// NoOpTrace if none was attached.
func ContextClientTrace(ctx context.Context) *ClientTrace {
	trace, ok := ctx.Value(clientTraceKey{}).(*ClientTrace)
	if !ok || trace == nil {
		return NoOpTrace
	}
	return trace
}

// NoOpTrace has every hook set to a function that does nothing. It is the
// base that WithClientTrace merges caller-supplied hooks onto.
var NoOpTrace = &ClientTrace{
	ConnectStart:     func(addr string) {},
	ConnectDone:      func(addr string, err error) {},
	HelloDone:        func(sessionID uint64, serverCaps []string, err error) {},
	WriteStart:       func(messageID string) {},
	WriteDone:        func(messageID string, err error) {},
	ReadStart:        func(messageID string) {},
	ReadDone:         func(messageID string, err error) {},
	ExecuteStart:     func(messageID string) {},
	ExecuteDone:      func(messageID string, d time.Duration, err error) {},
	ConnectionClosed: func(state SessionState, err error) {},
	Error:            func(err error) {},
}

// DiagnosticTrace logs every lifecycle event verbosely via the standard
// logger. Useful for debugging a failing device interaction.
var DiagnosticTrace = &ClientTrace{
	ConnectStart: func(addr string) {
		log.Printf("netconf: connecting to %s", addr)
	},
	ConnectDone: func(addr string, err error) {
		log.Printf("netconf: connect to %s done, err=%v", addr, err)
	},
	HelloDone: func(sessionID uint64, serverCaps []string, err error) {
		log.Printf("netconf: hello done, session-id=%d caps=%v err=%v", sessionID, serverCaps, err)
	},
	WriteStart: func(messageID string) {
		log.Printf("netconf: writing message-id=%s", messageID)
	},
	WriteDone: func(messageID string, err error) {
		log.Printf("netconf: wrote message-id=%s err=%v", messageID, err)
	},
	ReadStart: func(messageID string) {
		log.Printf("netconf: waiting on reply for message-id=%s", messageID)
	},
	ReadDone: func(messageID string, err error) {
		log.Printf("netconf: reply for message-id=%s done, err=%v", messageID, err)
	},
	ExecuteStart: func(messageID string) {
		log.Printf("netconf: exec start message-id=%s", messageID)
	},
	ExecuteDone: func(messageID string, d time.Duration, err error) {
		log.Printf("netconf: exec done message-id=%s in %s err=%v", messageID, d, err)
	},
	ConnectionClosed: func(state SessionState, err error) {
		log.Printf("netconf: connection closed, state=%s err=%v", state, err)
	},
	Error: func(err error) {
		log.Printf("netconf: error: %v", err)
	},
}

// MetricTrace only tracks Exec timing, suitable for feeding into a metrics
// pipeline without the verbosity of DiagnosticTrace.
var MetricTrace = &ClientTrace{
	ExecuteDone: func(messageID string, d time.Duration, err error) {
		log.Printf("netconf: exec message-id=%s duration=%s ok=%t", messageID, d, err == nil)
	},
}
