package rpc_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pluginbridge/rpc"
	"github.com/pluginbridge/rpc/hostplugin"
	"github.com/pluginbridge/rpc/plugins/boardplugin"
	"github.com/pluginbridge/rpc/plugins/echoplugin"
	"github.com/pluginbridge/rpc/transport"
)

// wireHostAndScript connects a host Peer (backed by registry) to a
// script ScriptRuntime over a pair of in-memory pipes, the same shape
// as the cmd/host and cmd/script reference binaries.
func wireHostAndScript(t *testing.T) (*rpc.Peer, *rpc.ScriptRuntime, *hostplugin.Registry) {
	t.Helper()

	h2sR, h2sW := io.Pipe()
	s2hR, s2hW := io.Pipe()

	hostTransport := transport.NewPipeTransport(h2sW, s2hR)
	scriptTransport := transport.NewPipeTransport(s2hW, h2sR)

	// Both ends send JSON rather than the default MessagePack encoding
	// so that decoded numeric params come back as float64, matching the
	// expectations below (and the spec's scenario-1 deep-equal, which
	// is stated against JSON's number representation).
	registry := hostplugin.NewRegistry()
	host := rpc.NewPeer(hostTransport, rpc.WithSendEncoding(rpc.EncodingJSON), rpc.WithRequestHandler(registry.Handle))
	registry.Register("Methods", echoplugin.New())
	registry.Register("TicTacToeBoard", boardplugin.New(host))

	script := rpc.NewScriptRuntime(scriptTransport, rpc.WithSendEncoding(rpc.EncodingJSON))

	t.Cleanup(func() {
		h2sW.Close()
		s2hW.Close()
	})

	return host, script, registry
}

func TestEndToEndBounceEchoesScalars(t *testing.T) {
	_, script, _ := wireHostAndScript(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	loaded, err := script.LoadAPIs(ctx, []string{"Methods"})
	require.NoError(t, err)
	methods := loaded["Methods"]

	result, err := methods.Call(ctx, "bounce", 1, true, nil, false, "xxx", map[string]any{"a": nil})
	require.NoError(t, err)
	require.Equal(t, []any{float64(1), true, nil, false, "xxx", map[string]any{"a": nil}}, result)
}

func TestEndToEndReceiveObjectRoundTrip(t *testing.T) {
	_, script, _ := wireHostAndScript(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	loaded, err := script.LoadAPIs(ctx, []string{"Methods"})
	require.NoError(t, err)
	methods := loaded["Methods"]

	result, err := methods.Call(ctx, "receiveObject", map[string]any{"x": float64(42)})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"received": map[string]any{"x": float64(42)}}, result)
}

func TestEndToEndArityPolicing(t *testing.T) {
	_, script, _ := wireHostAndScript(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	loaded, err := script.LoadAPIs(ctx, []string{"Methods"})
	require.NoError(t, err)
	methods := loaded["Methods"]

	_, err = methods.Call(ctx, "failsWithoutParams")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Did not receive an argument")

	result, err := methods.Call(ctx, "failsWithoutParams", 1)
	require.NoError(t, err)
	require.Equal(t, true, result)
}

func TestEndToEndUnknownCapabilityRejected(t *testing.T) {
	_, script, _ := wireHostAndScript(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := script.LoadAPIs(ctx, []string{"DoesNotExist"})
	require.Error(t, err)
}

func TestEndToEndBoardNotifiesChoosePosition(t *testing.T) {
	_, script, _ := wireHostAndScript(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	loaded, err := script.LoadAPIs(ctx, []string{"TicTacToeBoard"})
	require.NoError(t, err)
	board := loaded["TicTacToeBoard"]

	notified := make(chan []any, 1)
	board.On("ChoosePosition", func(args ...any) { notified <- args })

	ok, err := rpc.CallAs[bool](ctx, board, "choosePosition", 0, 0, "X")
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case args := <-notified:
		require.Equal(t, []any{float64(0), float64(0), "X"}, args[0])
	case <-time.After(2 * time.Second):
		t.Fatal("ChoosePosition notification never arrived")
	}
}

func TestEndToEndLoadAPIsReusesLoadedStubs(t *testing.T) {
	_, script, _ := wireHostAndScript(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	loaded, err := script.LoadAPIs(ctx, []string{"Methods", "TicTacToeBoard"})
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	// Loading an already-loaded name returns the same stub as before.
	loaded2, err := script.LoadAPIs(ctx, []string{"Methods"})
	require.NoError(t, err)
	require.Same(t, loaded["Methods"], loaded2["Methods"])
}
