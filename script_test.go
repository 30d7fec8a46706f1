package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAPIsBatchesMissingNamesInOneCall(t *testing.T) {
	tr := newFakeTransport(false)
	runtime := NewScriptRuntime(tr, WithSendEncoding(EncodingJSON))

	done := make(chan map[string]*Stub, 1)
	go func() {
		loaded, err := runtime.LoadAPIs(context.Background(), []string{"Foo", "Bar"})
		require.NoError(t, err)
		done <- loaded
	}()

	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, time.Millisecond)
	env, err := JSONCodec.Decode(tr.sentAt(0))
	require.NoError(t, err)
	require.Equal(t, "LoadComponents", env.Method)
	require.Equal(t, []any{[]any{"Foo", "Bar"}}, env.Params)

	reply, err := JSONCodec.Encode(Envelope{ID: env.ID, Result: map[string]any{"loaded": []any{"Foo", "Bar"}}})
	require.NoError(t, err)
	tr.deliver(reply)

	select {
	case loaded := <-done:
		require.Contains(t, loaded, "Foo")
		require.Contains(t, loaded, "Bar")
	case <-time.After(time.Second):
		t.Fatal("LoadAPIs never resolved")
	}

	// A second LoadAPIs call for a partially-overlapping set should
	// only request the genuinely new name.
	done2 := make(chan map[string]*Stub, 1)
	go func() {
		loaded, err := runtime.LoadAPIs(context.Background(), []string{"Foo", "Baz"})
		require.NoError(t, err)
		done2 <- loaded
	}()

	require.Eventually(t, func() bool { return tr.sentCount() == 2 }, time.Second, time.Millisecond)
	env2, err := JSONCodec.Decode(tr.sentAt(1))
	require.NoError(t, err)
	require.Equal(t, "LoadComponents", env2.Method)
	require.Equal(t, []any{[]any{"Baz"}}, env2.Params)

	reply2, err := JSONCodec.Encode(Envelope{ID: env2.ID, Result: map[string]any{"loaded": []any{"Baz"}}})
	require.NoError(t, err)
	tr.deliver(reply2)

	select {
	case loaded := <-done2:
		require.Contains(t, loaded, "Foo")
		require.Contains(t, loaded, "Baz")
	case <-time.After(time.Second):
		t.Fatal("second LoadAPIs never resolved")
	}

	require.Equal(t, 2, tr.sentCount(), "no further LoadComponents calls should have been issued")
}

func TestInjectionBuilderRejectsEmptyName(t *testing.T) {
	tr := newFakeTransport(false)
	runtime := NewScriptRuntime(tr)
	b := NewInjectionBuilder(runtime)

	var slot *Stub
	err := b.Require("", &slot)
	require.ErrorIs(t, err, ErrEmptyCapabilityName)
}

func TestEnableFiresSystemDidEnableExactlyOnce(t *testing.T) {
	tr := newFakeTransport(false)
	runtime := NewScriptRuntime(tr, WithSendEncoding(EncodingJSON))

	var methods *Stub
	b := NewInjectionBuilder(runtime)
	require.NoError(t, b.Require("Methods", &methods))

	loadDone := make(chan struct{})
	go func() {
		reply, ok := <-waitForSend(tr, 1)
		if !ok {
			return
		}
		env, _ := JSONCodec.Decode(reply)
		resp, _ := JSONCodec.Encode(Envelope{ID: env.ID, Result: map[string]any{"loaded": []any{"Methods"}}})
		tr.deliver(resp)
		close(loadDone)
	}()

	calls := 0
	err := runtime.Enable(context.Background(), b, func(ctx context.Context) error {
		calls++
		require.NotNil(t, methods)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	<-loadDone

	// Calling Enable again must not run systemDidEnable a second time.
	err = runtime.Enable(context.Background(), b, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestEnableRoutesHookPanicToErrorEvent(t *testing.T) {
	tr := newFakeTransport(false)
	runtime := NewScriptRuntime(tr)

	var reported any
	runtime.On("error", func(args ...any) {
		if len(args) > 0 {
			reported = args[0]
		}
	})

	err := runtime.Enable(context.Background(), nil, func(ctx context.Context) error {
		panic("boom")
	})
	require.NoError(t, err)
	require.NotNil(t, reported)
}

// waitForSend returns a channel that receives the payload once the
// transport has sent at least n messages.
func waitForSend(tr *fakeTransport, n int) <-chan []byte {
	ch := make(chan []byte, 1)
	go func() {
		for {
			if tr.sentCount() >= n {
				ch <- tr.sentAt(n - 1)
				close(ch)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return ch
}
