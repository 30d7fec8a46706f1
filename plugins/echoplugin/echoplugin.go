// Package echoplugin implements the Methods plugin used by the spec's
// end-to-end scenarios: bounce, receiveObject, and
// failsWithoutParams.
package echoplugin

import (
	"context"

	"github.com/pluginbridge/rpc"
	"github.com/pluginbridge/rpc/hostplugin"
)

// New returns the "Methods" plugin.
func New() hostplugin.Plugin {
	return hostplugin.Plugin{
		"bounce":             hostplugin.MethodFunc(bounce),
		"receiveObject":      hostplugin.MethodFunc(receiveObject),
		"failsWithoutParams": hostplugin.MethodFunc(failsWithoutParams),
	}
}

// bounce returns its arguments unchanged, as a list.
func bounce(ctx context.Context, params []any) (any, *rpc.RequestError) {
	if params == nil {
		params = []any{}
	}
	return params, nil
}

// receiveObject wraps its single object argument under "received".
func receiveObject(ctx context.Context, params []any) (any, *rpc.RequestError) {
	if len(params) != 1 {
		return nil, rpc.NewInvalidParams(map[string]any{"error": "receiveObject takes exactly one object argument"})
	}
	return map[string]any{"received": params[0]}, nil
}

// failsWithoutParams rejects when called with no arguments and
// succeeds otherwise.
func failsWithoutParams(ctx context.Context, params []any) (any, *rpc.RequestError) {
	if len(params) == 0 {
		return nil, &rpc.RequestError{Code: -32602, Message: "Did not receive an argument"}
	}
	return true, nil
}
