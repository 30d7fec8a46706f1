package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrEmptyCapabilityName is returned synchronously by
// InjectionBuilder.Require when asked to inject a capability under an
// empty name.
var ErrEmptyCapabilityName = errors.New("rpc: injection requires a non-empty capability name")

// ScriptRuntime specializes a Peer with the LoadComponents handshake
// and the injection mechanism described in spec §4.F/§9: a script
// declares the capabilities it needs, the runtime resolves them with
// one batched call, and systemDidEnable fires exactly once the
// injected capabilities and the transport are both ready.
type ScriptRuntime struct {
	*Peer

	mu         sync.Mutex
	loaded     map[string]*Stub
	enableOnce sync.Once
}

// NewScriptRuntime constructs a ScriptRuntime bound to transport.
func NewScriptRuntime(transport Transport, opts ...PeerOption) *ScriptRuntime {
	return &ScriptRuntime{
		Peer:   NewPeer(transport, opts...),
		loaded: make(map[string]*Stub),
	}
}

// LoadAPIs resolves names to capability stubs. Names already loaded
// are returned from the registry; any remaining names are requested
// from the host with exactly one LoadComponents call for the whole
// missing set, never one call per name.
func (s *ScriptRuntime) LoadAPIs(ctx context.Context, names []string) (map[string]*Stub, error) {
	s.mu.Lock()
	var missing []string
	for _, n := range names {
		if _, ok := s.loaded[n]; !ok {
			missing = append(missing, n)
		}
	}
	s.mu.Unlock()

	if len(missing) > 0 {
		if _, err := s.Peer.Call(ctx, "LoadComponents", []any{missing}); err != nil {
			return nil, err
		}
		s.mu.Lock()
		for _, n := range missing {
			if _, ok := s.loaded[n]; !ok {
				s.loaded[n] = NewStub(s.Peer, n)
			}
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Stub, len(names))
	for _, n := range names {
		out[n] = s.loaded[n]
	}
	return out, nil
}

// Enable resolves inject (if non-nil), waits for the transport to
// report connect if it has not already, then invokes systemDidEnable
// exactly once for the lifetime of the runtime. A panic or error from
// systemDidEnable is recovered and routed to the "error" event rather
// than propagated to the caller; a failure resolving inject is
// returned directly, since it is a setup failure rather than a user
// hook failure.
func (s *ScriptRuntime) Enable(ctx context.Context, inject *InjectionBuilder, systemDidEnable func(ctx context.Context) error) error {
	var setupErr error
	s.enableOnce.Do(func() {
		if inject != nil {
			if err := inject.Resolve(ctx); err != nil {
				setupErr = err
				return
			}
		}

		if !s.Peer.Connected() {
			connected := make(chan struct{})
			var onceID uint64
			onceID = s.Peer.On("connect", func(args ...any) {
				s.Peer.Off("connect", onceID)
				close(connected)
			})
			select {
			case <-connected:
			case <-ctx.Done():
				setupErr = ctx.Err()
				return
			}
		}

		s.runHook(ctx, systemDidEnable)
	})
	return setupErr
}

func (s *ScriptRuntime) runHook(ctx context.Context, hook func(ctx context.Context) error) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.Peer.dispatcher.Emit("error", fmt.Errorf("rpc: systemDidEnable panicked: %v", r))
		}
	}()
	if err := hook(ctx); err != nil {
		s.Peer.dispatcher.Emit("error", err)
	}
}

// injectionSlot binds a required capability name to the stub pointer
// that should receive it once resolved.
type injectionSlot struct {
	name   string
	target **Stub
}

// InjectionBuilder collects the capabilities a script-instance wants
// pre-populated before it starts running, per spec §9's builder-
// pattern guidance. Declare every slot with Require, then call Resolve
// (directly, or via ScriptRuntime.Enable) to fetch them with a single
// batched LoadAPIs call.
type InjectionBuilder struct {
	runtime *ScriptRuntime
	slots   []injectionSlot
}

// NewInjectionBuilder returns a builder that resolves capabilities
// through runtime.
func NewInjectionBuilder(runtime *ScriptRuntime) *InjectionBuilder {
	return &InjectionBuilder{runtime: runtime}
}

// Require declares that slot should be populated with the named
// capability before the runtime fires systemDidEnable. An empty name
// fails synchronously and does not register the slot.
func (b *InjectionBuilder) Require(name string, slot **Stub) error {
	if name == "" {
		return ErrEmptyCapabilityName
	}
	b.slots = append(b.slots, injectionSlot{name: name, target: slot})
	return nil
}

// Resolve fetches every declared capability with one batched LoadAPIs
// call and writes each into its slot.
func (b *InjectionBuilder) Resolve(ctx context.Context) error {
	if len(b.slots) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(b.slots))
	names := make([]string, 0, len(b.slots))
	for _, slot := range b.slots {
		if !seen[slot.name] {
			seen[slot.name] = true
			names = append(names, slot.name)
		}
	}

	loaded, err := b.runtime.LoadAPIs(ctx, names)
	if err != nil {
		return err
	}
	for _, slot := range b.slots {
		*slot.target = loaded[slot.name]
	}
	return nil
}
