package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrInvalidParams is returned synchronously by Call and Notify when
// params is present but is not a structured value (object or array).
var ErrInvalidParams = errors.New("rpc: params must be a struct, map, slice, or array")

// RequestHandler answers an inbound method call addressed to this
// peer — the mechanism by which a script exposes methods the host may
// call, and by which a host answers LoadComponents. It returns either
// a result to marshal back, or a RequestError to report.
type RequestHandler func(ctx context.Context, method string, params any) (any, *RequestError)

type pendingCall struct {
	ch chan callResult
}

type callResult struct {
	result any
	err    error
}

type queuedFrame struct {
	payload []byte
	env     Envelope
}

// PeerOption configures a Peer at construction time.
type PeerOption func(*Peer)

// WithSendEncoding overrides the default MessagePack send encoding.
func WithSendEncoding(enc Encoding) PeerOption {
	return func(p *Peer) { p.sendEncoding = enc }
}

// WithLogger installs a logger for connection diagnostics. If unset,
// logs go through slog.Default().
func WithLogger(l *slog.Logger) PeerOption {
	return func(p *Peer) { p.logger = l }
}

// WithRequestHandler installs the handler that answers inbound method
// calls (requests with both an id and a method) addressed to this
// peer. Without one, inbound requests fail with MethodNotFound.
func WithRequestHandler(h RequestHandler) PeerOption {
	return func(p *Peer) { p.handler = h }
}

// Peer is the symmetric JSON-RPC client used on both ends of the
// channel: it correlates outbound calls with their responses, fans
// inbound notifications out to subscribers, and buffers outbound
// traffic until the transport reports connectivity.
type Peer struct {
	transport    Transport
	sendEncoding Encoding
	handler      RequestHandler
	logger       *slog.Logger
	logConsole   bool

	// sessionID tags this peer's log lines so a host juggling several
	// concurrent script connections can tell them apart.
	sessionID string

	dispatcher *Dispatcher

	nextID atomic.Uint64

	mu        sync.Mutex
	pending   map[uint64]*pendingCall
	queue     []queuedFrame
	connected bool
}

// NewPeer constructs a Peer bound to transport. The peer enters the
// connected state when the transport invokes its connect callback
// (PipeTransport invokes it as soon as it is registered). The peer
// does not synthesize a connect of its own: over a transport that
// never invokes the callback, outbound traffic stays queued.
func NewPeer(transport Transport, opts ...PeerOption) *Peer {
	p := &Peer{
		transport:    transport,
		sendEncoding: EncodingMessagePack,
		sessionID:    uuid.New().String(),
		dispatcher:   NewDispatcher(),
		pending:      make(map[uint64]*pendingCall),
	}
	for _, opt := range opts {
		opt(p)
	}

	transport.SetOnMessage(p.handleInbound)
	transport.SetOnConnect(p.handleConnect)
	transport.SetOnClose(p.handleClose)
	transport.SetOnError(p.handleError)
	return p
}

// On subscribes handler to every emission of the named event —
// inbound notifications fan out under their wire method name, and the
// peer itself emits "error" and "transportClosed".
func (p *Peer) On(name string, handler HandlerFunc) uint64 { return p.dispatcher.On(name, handler) }

// Off removes a subscription previously returned by On.
func (p *Peer) Off(name string, id uint64) { p.dispatcher.Off(name, id) }

// Once subscribes handler to run at most once.
func (p *Peer) Once(name string, handler HandlerFunc) { p.dispatcher.Once(name, handler) }

// SetLogging toggles a one-line diagnostic log per send/receive.
func (p *Peer) SetLogging(logConsole bool) { p.logConsole = logConsole }

// SessionID returns the identifier generated for this peer at
// construction time, suitable for correlating its log lines across a
// host juggling several script connections.
func (p *Peer) SessionID() string { return p.sessionID }

// Connected reports whether the transport has invoked the peer's
// connect callback.
func (p *Peer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Peer) loggerOrDefault() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// Call issues method with params and blocks until the matching
// response arrives or ctx is cancelled. A transport close does not
// end the wait. params, if non-nil, must be a struct,
// map, slice, or array — anything else fails synchronously without
// allocating an id or touching the transport.
func (p *Peer) Call(ctx context.Context, method string, params any) (any, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}

	id := p.nextID.Add(1)
	pc := &pendingCall{ch: make(chan callResult, 1)}

	p.mu.Lock()
	p.pending[id] = pc
	p.mu.Unlock()

	env := Envelope{ID: &id, Method: method, Params: params}
	if err := p.send(env); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, err
	}

	select {
	case res := <-pc.ch:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends method as a one-way notification; it never allocates an
// id and never waits for a reply. The same params type guard as Call
// applies.
func (p *Peer) Notify(method string, params any) error {
	if err := validateParams(params); err != nil {
		return err
	}
	return p.send(Envelope{Method: method, Params: params})
}

func validateParams(params any) error {
	if params == nil {
		return nil
	}
	v := reflect.ValueOf(params)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		return nil
	case reflect.Ptr:
		if !v.IsNil() && v.Elem().Kind() == reflect.Struct {
			return nil
		}
	}
	return ErrInvalidParams
}

func (p *Peer) send(env Envelope) error {
	codec := codecFor(p.sendEncoding)
	payload, err := codec.Encode(env)
	if err != nil {
		return err
	}

	p.mu.Lock()
	connected := p.connected
	if !connected {
		p.queue = append(p.queue, queuedFrame{payload: payload, env: env})
	}
	p.mu.Unlock()

	if !connected {
		return nil
	}
	return p.writeFrame(payload, env)
}

func (p *Peer) writeFrame(payload []byte, env Envelope) error {
	if p.logConsole {
		p.loggerOrDefault().Info("rpc send", "session", p.sessionID, "dir", "->", "method", env.Method, "id", envID(env))
	}
	return p.transport.SendMessage(payload)
}

func envID(env Envelope) any {
	if env.ID == nil {
		return nil
	}
	return *env.ID
}

func (p *Peer) handleConnect() {
	p.mu.Lock()
	p.connected = true
	queued := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, frame := range queued {
		if err := p.writeFrame(frame.payload, frame.env); err != nil {
			p.dispatcher.Emit("error", err)
		}
	}
	p.dispatcher.Emit("connect")
}

func (p *Peer) handleClose() {
	p.dispatcher.Emit("transportClosed")
}

func (p *Peer) handleError(err error) {
	p.dispatcher.Emit("error", err)
}

// handleInbound is registered as the transport's OnMessage callback;
// it is also exposed as ProcessMessage for transports or tests that
// want to drive dispatch directly.
func (p *Peer) handleInbound(raw any) {
	p.ProcessMessage(raw)
}

// ProcessMessage decodes one inbound payload and routes it: a response
// resolves or rejects its matching pending call, a request dispatches
// to the installed RequestHandler and replies, and a notification fans
// out to subscribers of its method name. Malformed or unroutable
// payloads are reported through the "error" event and dropped.
func (p *Peer) ProcessMessage(raw any) {
	env, err := DetectAndDecode(raw)
	if err != nil {
		p.dispatcher.Emit("error", NewParseError(map[string]any{"error": err.Error()}))
		return
	}

	if p.logConsole {
		p.loggerOrDefault().Info("rpc recv", "session", p.sessionID, "dir", "<-", "method", env.Method, "id", envID(env))
	}

	switch {
	case env.ID != nil && env.Method == "":
		p.handleResponse(env)
	case env.Method != "" && env.ID != nil:
		p.handleRequest(env)
	case env.ID == nil && env.Method != "":
		p.dispatcher.Emit(env.Method, env.Params)
	default:
		p.dispatcher.Emit("error", NewInvalidRequest(map[string]any{"error": "envelope has neither id nor method"}))
	}
}

func (p *Peer) handleResponse(env Envelope) {
	id := *env.ID

	p.mu.Lock()
	pc := p.pending[id]
	if pc != nil {
		delete(p.pending, id)
	}
	p.mu.Unlock()

	if pc == nil {
		p.dispatcher.Emit("error", fmt.Errorf("Response with id:%d has no pending request", id))
		return
	}

	if env.Error != nil {
		pc.ch <- callResult{err: env.Error}
		return
	}
	pc.ch <- callResult{result: env.Result}
}

func (p *Peer) handleRequest(req Envelope) {
	res := Envelope{ID: req.ID}

	if p.handler == nil {
		res.Error = NewMethodNotFound(req.Method)
		p.replyTo(res)
		return
	}

	result, rerr := p.handler(context.Background(), req.Method, req.Params)
	if rerr != nil {
		res.Error = rerr
	} else {
		res.Result = result
	}
	p.replyTo(res)
}

func (p *Peer) replyTo(res Envelope) {
	if err := p.send(res); err != nil {
		p.dispatcher.Emit("error", err)
	}
}
