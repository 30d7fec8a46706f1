// Package hostplugin is a minimal host-side plugin registry: it turns
// a set of named, tagged plugins into the single RequestHandler a
// rpc.Peer needs to answer LoadComponents and to dispatch
// PluginName.Method calls. It exists so the LoadComponents handshake
// and method dispatch described in spec §6 have a real implementation
// to exercise end to end; concrete plugin authoring and business logic
// are explicitly out of the core's scope.
package hostplugin

import (
	"context"
	"strings"
	"sync"

	"github.com/pluginbridge/rpc"
)

// Method answers one call against a plugin. params is the decoded
// array-form arguments the caller passed to Stub.Call.
type Method interface {
	Call(ctx context.Context, params []any) (any, *rpc.RequestError)
}

// MethodFunc adapts a function to Method.
type MethodFunc func(ctx context.Context, params []any) (any, *rpc.RequestError)

func (f MethodFunc) Call(ctx context.Context, params []any) (any, *rpc.RequestError) {
	return f(ctx, params)
}

// Plugin is a named collection of methods, keyed by method name
// (without the plugin-name prefix).
type Plugin map[string]Method

// Registry holds the set of plugins a host exposes to a script. Its
// Handle method satisfies rpc.RequestHandler.
type Registry struct {
	mu      sync.Mutex
	plugins map[string]Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds or replaces the plugin known as name.
func (r *Registry) Register(name string, plugin Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[name] = plugin
}

// Names returns the registered plugin names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.plugins))
	for n := range r.plugins {
		names = append(names, n)
	}
	return names
}

func (r *Registry) lookup(name string) (Plugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Handle implements rpc.RequestHandler: it answers LoadComponents
// itself and otherwise splits "Plugin.Method" and dispatches to the
// registered plugin's method.
func (r *Registry) Handle(ctx context.Context, method string, params any) (any, *rpc.RequestError) {
	if method == "LoadComponents" {
		return r.loadComponents(params)
	}

	pluginName, methodName, ok := strings.Cut(method, ".")
	if !ok {
		return nil, rpc.NewMethodNotFound(method)
	}

	plugin, ok := r.lookup(pluginName)
	if !ok {
		return nil, rpc.NewUnknownCapability(pluginName)
	}
	m, ok := plugin[methodName]
	if !ok {
		return nil, rpc.NewMethodNotFound(method)
	}
	return m.Call(ctx, toArgs(params))
}

// loadComponents implements the reserved LoadComponents(names
// []string) method: it validates every requested name is registered
// and rejects with an RPC error otherwise (spec §6). The response body
// is ignored by callers — stubs are synthesized client-side — so a
// bare acknowledgement is returned.
func (r *Registry) loadComponents(params any) (any, *rpc.RequestError) {
	names, rerr := extractLoadNames(params)
	if rerr != nil {
		return nil, rerr
	}
	for _, name := range names {
		if _, ok := r.lookup(name); !ok {
			return nil, rpc.NewUnknownCapability(name)
		}
	}
	return map[string]any{"loaded": names}, nil
}

func extractLoadNames(params any) ([]string, *rpc.RequestError) {
	outer := toArgs(params)
	if len(outer) != 1 {
		return nil, rpc.NewInvalidParams(map[string]any{"error": "LoadComponents takes exactly one argument: a list of names"})
	}
	return toStringSlice(outer[0])
}

func toStringSlice(v any) ([]string, *rpc.RequestError) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []any:
		out := make([]string, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, rpc.NewInvalidParams(map[string]any{"error": "expected a list of plugin names"})
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, rpc.NewInvalidParams(map[string]any{"error": "expected a list of plugin names"})
	}
}

// toArgs normalizes decoded params into the array form plugin methods
// receive. Stub.Call always sends array params; a bare object is
// wrapped as a single-element list for methods that expect one.
func toArgs(params any) []any {
	if params == nil {
		return nil
	}
	if arr, ok := params.([]any); ok {
		return arr
	}
	return []any{params}
}
