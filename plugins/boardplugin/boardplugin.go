// Package boardplugin implements a small tic-tac-toe board plugin,
// named in spec §1's out-of-scope list as a concrete example plugin.
// It exposes a "choosePosition" method that records a move and
// notifies subscribers of "TicTacToeBoard.ChoosePosition" — the event
// a script-side stub's On("ChoosePosition", ...) subscribes to, fixing
// the §9 event-naming open question as PluginName.EventName.
package boardplugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/pluginbridge/rpc"
	"github.com/pluginbridge/rpc/hostplugin"
)

// Name is the plugin's wire name.
const Name = "TicTacToeBoard"

// Board is a 3x3 tic-tac-toe board shared between the host and a
// connected script.
type Board struct {
	mu    sync.Mutex
	cells [3][3]string
	peer  *rpc.Peer
}

// New returns the TicTacToeBoard plugin, wired to notify peer whenever
// a move is made.
func New(peer *rpc.Peer) hostplugin.Plugin {
	b := &Board{peer: peer}
	return hostplugin.Plugin{
		"choosePosition": hostplugin.MethodFunc(b.choosePosition),
		"getState":       hostplugin.MethodFunc(b.getState),
	}
}

// choosePosition records symbol at (row, col) and notifies
// subscribers. params: [row int, col int, symbol string].
func (b *Board) choosePosition(ctx context.Context, params []any) (any, *rpc.RequestError) {
	if len(params) != 3 {
		return nil, rpc.NewInvalidParams(map[string]any{"error": "choosePosition takes (row, col, symbol)"})
	}
	row, col, symbol, rerr := parseMove(params)
	if rerr != nil {
		return nil, rerr
	}

	b.mu.Lock()
	if b.cells[row][col] != "" {
		b.mu.Unlock()
		return nil, rpc.NewInvalidParams(map[string]any{"error": "cell already occupied"})
	}
	b.cells[row][col] = symbol
	b.mu.Unlock()

	_ = b.peer.Notify(Name+".ChoosePosition", []any{row, col, symbol})
	return true, nil
}

func (b *Board) getState(ctx context.Context, params []any) (any, *rpc.RequestError) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := make([][]string, 3)
	for i := range b.cells {
		row := make([]string, 3)
		copy(row, b.cells[i][:])
		state[i] = row
	}
	return state, nil
}

func parseMove(params []any) (row, col int, symbol string, rerr *rpc.RequestError) {
	r, ok := asInt(params[0])
	if !ok || r < 0 || r > 2 {
		return 0, 0, "", rpc.NewInvalidParams(map[string]any{"error": "row must be 0..2"})
	}
	c, ok := asInt(params[1])
	if !ok || c < 0 || c > 2 {
		return 0, 0, "", rpc.NewInvalidParams(map[string]any{"error": "col must be 0..2"})
	}
	s, ok := params[2].(string)
	if !ok || (s != "X" && s != "O") {
		return 0, 0, "", rpc.NewInvalidParams(map[string]any{"error": fmt.Sprintf("symbol must be X or O, got %v", params[2])})
	}
	return r, c, s, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
