// Package transport provides reference Transport implementations for
// the rpc package: an in-memory pipe suitable for tests and for
// wiring a host process to a script process over stdio-shaped pipes.
package transport

import (
	"bufio"
	"encoding/base64"
	"io"
	"strings"
	"sync"
)

// PipeTransport frames outbound payloads as base64-encoded,
// newline-delimited records over an io.Writer, and decodes inbound
// records the same way from an io.Reader. Binary MessagePack frames
// survive the trip unmodified; JSON text frames do too, just wrapped.
//
// By default a PipeTransport is open the moment it is constructed —
// matching spec §4.C's rule that a transport with no real connect
// signal must synthesize one — and invokes each connect callback as
// soon as it is registered. Call NewDeferredPipeTransport
// to get a transport that waits for an explicit Open call instead,
// useful for exercising the pre-connect buffering behavior of a Peer.
type PipeTransport struct {
	w io.Writer
	r io.Reader

	mu        sync.Mutex
	open      bool
	onMessage func(payload any)
	onConnect func()
	onClose   func()
	onError   func(err error)

	readOnce sync.Once
}

// NewPipeTransport returns a transport over w/r that is open
// immediately.
func NewPipeTransport(w io.Writer, r io.Reader) *PipeTransport {
	return newPipeTransport(w, r, true)
}

// NewDeferredPipeTransport returns a transport over w/r that stays
// closed until Open is called.
func NewDeferredPipeTransport(w io.Writer, r io.Reader) *PipeTransport {
	return newPipeTransport(w, r, false)
}

func newPipeTransport(w io.Writer, r io.Reader, open bool) *PipeTransport {
	t := &PipeTransport{w: w, r: r, open: open}
	return t
}

// Open marks a deferred transport as connected and fires its connect
// callback, if one is registered.
func (t *PipeTransport) Open() {
	t.mu.Lock()
	already := t.open
	t.open = true
	cb := t.onConnect
	t.mu.Unlock()

	if !already && cb != nil {
		cb()
	}
}

func (t *PipeTransport) SendMessage(payload []byte) error {
	encoded := base64.StdEncoding.EncodeToString(payload)
	_, err := io.WriteString(t.w, encoded+"\n")
	return err
}

func (t *PipeTransport) SetOnMessage(cb func(payload any)) {
	t.mu.Lock()
	t.onMessage = cb
	t.mu.Unlock()
	t.readOnce.Do(func() { go t.readLoop() })
}

func (t *PipeTransport) SetOnConnect(cb func()) {
	t.mu.Lock()
	alreadyOpen := t.open
	t.onConnect = cb
	t.mu.Unlock()
	if alreadyOpen && cb != nil {
		cb()
	}
}

func (t *PipeTransport) SetOnClose(cb func()) {
	t.mu.Lock()
	t.onClose = cb
	t.mu.Unlock()
}

func (t *PipeTransport) SetOnError(cb func(err error)) {
	t.mu.Lock()
	t.onError = cb
	t.mu.Unlock()
}

func (t *PipeTransport) readLoop() {
	scanner := bufio.NewScanner(t.r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			t.emitError(err)
			continue
		}

		t.mu.Lock()
		cb := t.onMessage
		t.mu.Unlock()
		if cb != nil {
			cb(decoded)
		}
	}

	t.mu.Lock()
	cb := t.onClose
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (t *PipeTransport) emitError(err error) {
	t.mu.Lock()
	cb := t.onError
	t.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}
