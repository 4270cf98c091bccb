package netconf

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"go.netconf.dev/netconf/transport"
)

const (
	NetconfNamespace      = "urn:ietf:params:xml:ns:netconf:base:1.0"
	NotificationNamespace = "urn:ietf:params:xml:ns:netconf:notification:1.0"
)

var ErrClosed = errors.New("closed connection")

type sessionConfig struct {
	clientCaps     []string
	commandTimeout time.Duration
}

type SessionOption interface {
	apply(*sessionConfig)
}

type capabilityOpt []string

func (o capabilityOpt) apply(cfg *sessionConfig) {
	cfg.clientCaps = []string(o)
}

func WithCapability(capabilities ...string) SessionOption {
	return capabilityOpt(capabilities)
}

type commandTimeoutOpt time.Duration

func (o commandTimeoutOpt) apply(cfg *sessionConfig) {
	cfg.commandTimeout = time.Duration(o)
}

// WithCommandTimeout sets a default deadline applied to each RPC issued on
// the Session. A deadline already present on the caller's context takes
// precedence.
func WithCommandTimeout(d time.Duration) SessionOption {
	return commandTimeoutOpt(d)
}

// Session represents a NETCONF session to one given device.
//
// Only one RPC may be in flight at a time: Do blocks a second caller until
// the first caller's reply has been fully read and closed. This matches the
// wire protocol, which correlates replies to requests purely by
// message-id and never promises a server will process out of order.
type Session struct {
	tr             transport.Transport
	sessionID      uint64
	traceID        uuid.UUID
	seq            atomic.Uint64
	commandTimeout time.Duration

	clientCaps CapabilitySet
	serverCaps CapabilitySet

	mu    sync.Mutex
	state SessionState

	// callTicket is a capacity-1 semaphore enforcing a single in-flight
	// RPC. It starts full; Do receives from it before sending a request
	// and sends back into it once the reply has been consumed. Blocked
	// callers are served in arrival order.
	callTicket chan struct{}
}

func newSession(tr transport.Transport, opts ...SessionOption) *Session {
	cfg := sessionConfig{
		clientCaps: DefaultCapabilities,
	}

	for _, opt := range opts {
		opt.apply(&cfg)
	}

	callTicket := make(chan struct{}, 1)
	callTicket <- struct{}{}

	clientCaps := NewCapabilitySet(cfg.clientCaps...)
	// The base URIs are always advertised, regardless of what the caller
	// supplied: base:1.0 is mandatory, and base:1.1 is what drives the
	// chunked-framing negotiation after hello.
	clientCaps.Add(CapNetConf10, CapNetConf11)

	s := &Session{
		tr:             tr,
		traceID:        uuid.New(),
		clientCaps:     clientCaps,
		commandTimeout: cfg.commandTimeout,
		state:          StateNew,
		callTicket:     callTicket,
	}
	return s
}

// Open will create a new Session with the given transport and open it with
// the necessary hello messages. If ctx carries a deadline, that deadline
// bounds the entire connect phase (hello exchange included); it does not
// apply to any RPCs issued later on the returned Session.
func Open(ctx context.Context, tr transport.Transport, opts ...SessionOption) (*Session, error) {
	s := newSession(tr, opts...)
	trace := ContextClientTrace(ctx)

	s.setState(StateHello)
	if err := s.handshake(ctx); err != nil {
		_ = s.tr.Close()
		s.setState(StateBroken)
		nerr := asNetconfError(KindHandshake, "handshake", err)
		trace.Error(nerr)
		return nil, nerr
	}

	s.setState(StateReady)
	trace.HelloDone(s.sessionID, slices.Collect(s.serverCaps.All()), nil)

	return s, nil
}

// TraceID returns a per-Session identifier suitable for correlating log
// lines across the lifetime of a Session. It has no relation to the
// NETCONF session-id exchanged on the wire.
func (s *Session) TraceID() uuid.UUID {
	return s.traceID
}

// asNetconfError wraps err as a NetconfError of kind unless it already is
// one, in which case it is returned unchanged.
func asNetconfError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var nerr *NetconfError
	if errors.As(err, &nerr) {
		return nerr
	}
	return newError(kind, op, err)
}

// handshake exchanges hello messages and reports if there are any errors.
func (s *Session) handshake(ctx context.Context) error {
	clientMsg := HelloMsg{
		Capabilities: slices.Collect(s.clientCaps.All()),
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	w, err := s.tr.MsgWriter()
	if err != nil {
		return fmt.Errorf("failed to get hello message writer: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	if err := xml.NewEncoder(w).Encode(&clientMsg); err != nil {
		return fmt.Errorf("failed to write hello message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close hello message writer: %w", err)
	}

	r, err := s.tr.MsgReader()
	if err != nil {
		return fmt.Errorf("failed to get hello message reader: %w", err)
	}
	defer func() {
		_ = r.Close()
	}()

	var serverMsg HelloMsg
	decodeDone := make(chan error, 1)
	go func() {
		decodeDone <- xml.NewDecoder(r).Decode(&serverMsg)
	}()

	select {
	case err := <-decodeDone:
		if err != nil {
			return fmt.Errorf("failed to read server hello message: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if serverMsg.SessionID == 0 {
		return fmt.Errorf("server did not return a session-id")
	}

	if len(serverMsg.Capabilities) == 0 {
		return fmt.Errorf("server did not return any capabilities")
	}

	s.serverCaps = NewCapabilitySet(serverMsg.Capabilities...)
	s.sessionID = serverMsg.SessionID

	// upgrade the transport if we are on a larger version and the transport
	// supports it.
	if s.serverCaps.Has(CapNetConf11) && s.clientCaps.Has(CapNetConf11) {
		if upgrader, ok := s.tr.(interface{ Upgrade() }); ok {
			upgrader.Upgrade()
		}
	}

	return nil
}

// SessionID returns the current session ID exchanged in the hello messages.
// Will return 0 if there is no session ID.
func (s *Session) SessionID() uint64 {
	return s.sessionID
}

// ClientCaps will return the capabilities initialized with the session.
func (s *Session) ClientCaps() *CapabilitySet {
	return &s.clientCaps
}

// ServerCaps will return the capabilities returned by the server in
// it's hello message.
func (s *Session) ServerCaps() *CapabilitySet {
	return &s.serverCaps
}

// startElement will walk though a xml.Decode until it finds a start element
// and returns it.
func startElement(d *xml.Decoder) (*xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}

		if start, ok := tok.(xml.StartElement); ok {
			return &start, nil
		}
	}
}

func getMessageID(attrs []xml.Attr) string {
	for _, attr := range attrs {
		if attr.Name.Local == "message-id" {
			return attr.Value
		}
	}
	return ""
}

// fatal marks the session broken and tears down the transport. After a
// transport, framing, or protocol failure the stream position is
// indeterminate mid-frame, so the session cannot be reused. Anything the
// device wrote to stderr is attached to the returned error as context.
func (s *Session) fatal(kind ErrorKind, op string, err error) *NetconfError {
	s.setState(StateBroken)
	_ = s.tr.Close()

	if stderr := s.stderr(); len(stderr) > 0 {
		err = fmt.Errorf("%w (device stderr: %q)", err, stderr)
	}
	return newError(kind, op, err)
}

// stderr returns whatever diagnostic output the transport has captured, for
// transports that surface it (transport/ssh does).
func (s *Session) stderr() []byte {
	if t, ok := s.tr.(interface{ Stderr() []byte }); ok {
		return t.Stderr()
	}
	return nil
}

// msgReadCloser glues the already-peeked prefix of a reply back onto the
// rest of the framed message.
type msgReadCloser struct {
	io.Reader
	io.Closer
}

type rawMsg struct {
	r     io.ReadCloser
	chunk []byte
	err   error
}

// readReply reads one framed message off the transport, bounded by ctx, and
// verifies it is the <rpc-reply> correlated to msgID. Any failure here is
// fatal to the session.
func (s *Session) readReply(ctx context.Context, msgID string) (*Response, error) {
	ch := make(chan rawMsg, 1)
	go func() {
		r, err := s.tr.MsgReader()
		if err != nil {
			ch <- rawMsg{err: err}
			return
		}

		// peel into the message enough to read the envelope's start
		// element (i.e <rpc-reply>)
		buf := make([]byte, 4096)
		n, err := r.Read(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			_ = r.Close()
			ch <- rawMsg{err: err}
			return
		}
		ch <- rawMsg{r: r, chunk: buf[:n]}
	}()

	var raw rawMsg
	select {
	case raw = <-ch:
	case <-ctx.Done():
		return nil, s.fatal(KindTimeout, "recv", ctx.Err())
	}

	if raw.err != nil {
		return nil, s.fatal(KindFraming, "recv", raw.err)
	}

	decoder := xml.NewDecoder(bytes.NewReader(raw.chunk))
	startElem, err := startElement(decoder)
	if err != nil {
		_ = raw.r.Close()
		return nil, s.fatal(KindFraming, "recv", fmt.Errorf("failed to parse message start: %w", err))
	}

	if startElem.Name != (xml.Name{Space: NetconfNamespace, Local: "rpc-reply"}) {
		_ = raw.r.Close()
		return nil, s.fatal(KindProtocol, "recv", fmt.Errorf("unexpected message %q, want rpc-reply", startElem.Name.Local))
	}

	replyID := getMessageID(startElem.Attr)
	if replyID == "" || replyID != msgID {
		_ = raw.r.Close()
		return nil, s.fatal(KindProtocol, "recv", fmt.Errorf("rpc-reply message-id %q does not match request %q", replyID, msgID))
	}

	return &Response{
		ReadCloser: &msgReadCloser{
			Reader: io.MultiReader(bytes.NewReader(raw.chunk), raw.r),
			Closer: raw.r,
		},
		MessageID:  replyID,
		Attributes: startElem.Attr,
	}, nil
}

// Do issues a rpc message for the given Request. This is a low-level method
// that doesn't try to decode the response including any rpc-errors.
//
// Only one Do call may be in flight on a Session at a time; a second,
// concurrent call blocks until the first's Response has been closed. This
// enforces the serialized request/reply model the NETCONF message-id
// correlation mechanism is built on.
func (s *Session) Do(ctx context.Context, req *Request) (resp *Response, err error) {
	trace := ContextClientTrace(ctx)

	if s.commandTimeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.commandTimeout)
			defer cancel()
		}
	}

	select {
	case <-s.callTicket:
	case <-ctx.Done():
		return nil, asNetconfError(KindTimeout, "do", ctx.Err())
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		s.callTicket <- struct{}{}
	}
	defer func() {
		if err != nil {
			release()
		}
	}()

	if st := s.State(); st == StateClosed || st == StateBroken {
		return nil, newError(KindClosed, "do", ErrClosed)
	}

	msgID := strconv.FormatUint(s.seq.Add(1), 10)
	req.RPC.MessageID = msgID

	// A bare operation name is expanded into an empty element, e.g.
	// "get-chassis-inventory" becomes <get-chassis-inventory/>. A string
	// containing markup is passed through as the raw operation payload.
	if name, isStr := req.RPC.Operation.(string); isStr && !strings.Contains(name, "<") {
		req.RPC.Operation = "<" + name + "/>"
	}

	trace.WriteStart(msgID)
	w, werr := s.tr.MsgWriter()
	if werr != nil {
		trace.WriteDone(msgID, werr)
		return nil, fmt.Errorf("failed to get message writer: %w", werr)
	}
	if werr := xml.NewEncoder(w).Encode(req.RPC); werr != nil {
		_ = w.Close()
		trace.WriteDone(msgID, werr)
		return nil, fmt.Errorf("failed to encode request: %w", werr)
	}
	if werr := w.Close(); werr != nil {
		trace.WriteDone(msgID, werr)
		return nil, fmt.Errorf("failed to flush request: %w", werr)
	}
	trace.WriteDone(msgID, nil)

	trace.ReadStart(msgID)
	resp, err = s.readReply(ctx, msgID)
	trace.ReadDone(msgID, err)
	if err != nil {
		trace.Error(err)
		return nil, err
	}

	// release happens when the caller closes the Response.
	resp.ReadCloser = &releasingReadCloser{ReadCloser: resp.ReadCloser, release: release}
	return resp, nil
}

// releasingReadCloser releases the Session's callTicket exactly once when
// Close is called, allowing the next queued Do to proceed only once the
// caller is done consuming this reply.
type releasingReadCloser struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (r *releasingReadCloser) Close() error {
	var err error
	r.once.Do(func() {
		if r.ReadCloser != nil {
			err = r.ReadCloser.Close()
		}
		r.release()
	})
	return err
}

// Exec issues a rpc message with `req` as the body and decodes the response
// into a pointer at `resp`. Resp must include the full <rpc-reply>
// structure.
func (s *Session) Exec(ctx context.Context, operation any, reply any) error {
	req := Request{RPC: RPC{Operation: operation}}
	trace := ContextClientTrace(ctx)

	start := time.Now()
	trace.ExecuteStart(req.RPC.MessageID)

	resp, err := s.Do(ctx, &req)
	if err != nil {
		trace.ExecuteDone(req.RPC.MessageID, time.Since(start), err)
		return err
	}
	defer func() {
		_ = resp.Close()
	}()

	raw, err := io.ReadAll(resp)
	if err != nil {
		rerr := fmt.Errorf("failed to read reply: %w", err)
		trace.ExecuteDone(resp.MessageID, time.Since(start), rerr)
		return rerr
	}

	var rpcReply RPCReply
	if err := xml.Unmarshal(raw, &rpcReply); err != nil {
		rerr := fmt.Errorf("failed to parse rpc-reply: %w", err)
		trace.ExecuteDone(resp.MessageID, time.Since(start), rerr)
		return rerr
	}
	// filter out warnings
	rpcErrors := rpcReply.RPCErrors.Filter(SevError)
	if len(rpcErrors) > 0 {
		// Per-call failure: the session stays usable, unlike the fatal
		// transport/framing paths.
		nerr := &NetconfError{Kind: KindRPC, Op: "exec", Err: rpcErrors}
		trace.ExecuteDone(resp.MessageID, time.Since(start), nerr)
		return nerr
	}

	if reply != nil {
		if err := xml.Unmarshal(raw, reply); err != nil {
			rerr := fmt.Errorf("failed to decode response: %w", err)
			trace.ExecuteDone(resp.MessageID, time.Since(start), rerr)
			return rerr
		}
	}

	trace.ExecuteDone(resp.MessageID, time.Since(start), nil)
	return nil
}

// Close will gracefully close the session, first by sending a
// `close-session` operation to the remote (best effort) and then closing
// the underlying transport. Close is idempotent: calling it again on an
// already-closed session is a no-op. Calling it on a broken session skips
// the close-session RPC and only tears down the transport.
func (s *Session) Close(ctx context.Context) error {
	st := s.State()
	if st == StateClosed || st == StateClosing {
		return nil
	}

	if st != StateBroken {
		s.setState(StateClosing)

		type closeSession struct {
			XMLName xml.Name `xml:"close-session"`
		}

		// This may fail so ignore the error but still close the underlying
		// transport.
		resp, _ := s.Do(ctx, NewRequest(&closeSession{}))
		if resp != nil {
			_ = resp.Close()
		}
	}

	err := s.tr.Close()
	s.setState(StateClosed)
	ContextClientTrace(ctx).ConnectionClosed(StateClosed, err)

	// Ignore errors if the remote side hung up first.
	if err != nil &&
		!errors.Is(err, net.ErrClosed) &&
		!errors.Is(err, io.EOF) &&
		!errors.Is(err, syscall.EPIPE) {
		if stderr := s.stderr(); len(stderr) > 0 {
			return fmt.Errorf("%w (device stderr: %q)", err, stderr)
		}
		return err
	}

	return nil
}
