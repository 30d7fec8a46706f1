package rpc

import (
	"context"
	"encoding/json"
)

// Stub is a local proxy for one named plugin capability. Go has no
// dynamic property interception, so per the source design's "stub
// synthesis" note this degrades to the explicit helper pattern: Call
// issues an RPC against the plugin's method, On subscribes to one of
// its notifications. Both translate the method or event name they are
// given into the plugin-name-qualified wire name described in spec §6
// (PluginName.Method / PluginName.Event — see DESIGN.md for the
// event-naming decision).
type Stub struct {
	peer *Peer
	name string
}

// NewStub returns a stub bound to peer for the named plugin. Prefer
// ScriptRuntime.LoadAPIs, which memoizes stubs per plugin name;
// calling NewStub directly is mainly useful for tests and for hosts
// that call into script-exposed capabilities.
func NewStub(peer *Peer, name string) *Stub {
	return &Stub{peer: peer, name: name}
}

// Name returns the plugin name this stub is bound to.
func (s *Stub) Name() string { return s.name }

// Call issues method against the plugin with args wrapped as an array
// params list, and returns the raw decoded result.
func (s *Stub) Call(ctx context.Context, method string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	return s.peer.Call(ctx, s.wireName(method), args)
}

// CallInto issues method and decodes its result into out, which must
// be a non-nil pointer. It round-trips the result through JSON so
// callers can decode into a concrete struct regardless of which wire
// encoding the peer used to receive it.
func (s *Stub) CallInto(ctx context.Context, method string, out any, args ...any) error {
	result, err := s.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	b, err := json.Marshal(result)
	if err != nil {
		return NewInternalError(map[string]any{"error": err.Error()})
	}
	if err := json.Unmarshal(b, out); err != nil {
		return NewInternalError(map[string]any{"error": err.Error()})
	}
	return nil
}

// On subscribes handler to the plugin's named event. The wire name is
// the plugin name and event name joined by '.', uniform with method
// calls.
func (s *Stub) On(event string, handler HandlerFunc) uint64 {
	return s.peer.On(s.wireName(event), handler)
}

// Once subscribes handler to run at most once for the plugin's named
// event.
func (s *Stub) Once(event string, handler HandlerFunc) {
	s.peer.Once(s.wireName(event), handler)
}

// Off removes a subscription returned by On.
func (s *Stub) Off(event string, id uint64) {
	s.peer.Off(s.wireName(event), id)
}

func (s *Stub) wireName(member string) string {
	return s.name + "." + member
}

// CallAs issues method against stub and decodes its result into a
// value of type T, mirroring the generic SendRequest helper pattern
// used for typed RPC clients.
func CallAs[T any](ctx context.Context, stub *Stub, method string, args ...any) (T, error) {
	var out T
	err := stub.CallInto(ctx, method, &out, args...)
	return out, err
}
