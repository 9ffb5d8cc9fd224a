package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient scripts per-key behavior for invoker tests.
type fakeClient struct {
	key   string
	calls *callLog
	// failFor lists keys that reject the call.
	failFor map[string]error
	delay   time.Duration
	text    string
}

type callLog struct {
	mu   sync.Mutex
	keys []string
}

func (l *callLog) record(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
}

func (l *callLog) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.keys...)
}

func (f *fakeClient) Call(ctx context.Context, messages []Message, onChunk func(string)) (string, error) {
	f.calls.record(f.key)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err, ok := f.failFor[f.key]; ok {
		return "", err
	}
	if onChunk != nil {
		onChunk(f.text)
	}
	return f.text, nil
}

func newTestInvoker(keys []string, failFor map[string]error, calls *callLog) *Invoker {
	return &Invoker{
		EndpointURL: "http://localhost:9",
		Model:       "gpt-4o",
		Keys:        keys,
		NewClient: func(cfg ClientConfig) ModelClient {
			return &fakeClient{key: cfg.APIKey, calls: calls, failFor: failFor, text: "ok"}
		},
	}
}

func TestInvokeRoundRobinFromCursor(t *testing.T) {
	calls := &callLog{}
	inv := newTestInvoker([]string{"key-a", "key-b", "key-c"}, nil, calls)
	inv.SetCursor(5)

	out := inv.Invoke(context.Background(), InvokeRequest{User: "hi", Silent: true})

	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, "ok", out.Text)
	// 5 mod 3 = 2: the third key serves the first attempt.
	assert.Equal(t, []string{"key-c"}, calls.Keys())
	assert.Equal(t, 6, inv.Cursor())
}

func TestInvokeCursorAdvancesOnFailureToo(t *testing.T) {
	calls := &callLog{}
	failAll := map[string]error{
		"key-a": errors.New("401 unauthorized"),
		"key-b": errors.New("401 unauthorized"),
	}
	inv := newTestInvoker([]string{"key-a", "key-b"}, failAll, calls)

	out := inv.Invoke(context.Background(), InvokeRequest{User: "hi", Silent: true})

	require.Equal(t, OutcomeFailure, out.Kind)
	assert.Equal(t, 2, inv.Cursor())
}

func TestInvokeFirstSuccessWins(t *testing.T) {
	calls := &callLog{}
	inv := newTestInvoker(
		[]string{"key-a", "key-b", "key-c"},
		map[string]error{"key-a": errors.New("429 rate limited")},
		calls,
	)

	out := inv.Invoke(context.Background(), InvokeRequest{User: "hi", Silent: true})

	require.Equal(t, OutcomeSuccess, out.Kind)
	// key-a fails, key-b succeeds, key-c is never tried.
	assert.Equal(t, []string{"key-a", "key-b"}, calls.Keys())
}

func TestInvokeExhaustionAggregatesLastError(t *testing.T) {
	calls := &callLog{}
	inv := newTestInvoker(
		[]string{"key-a", "key-b", "key-c"},
		map[string]error{
			"key-a": errors.New("401 bad key a"),
			"key-b": errors.New("401 bad key b"),
			"key-c": errors.New("503 upstream down"),
		},
		calls,
	)

	out := inv.Invoke(context.Background(), InvokeRequest{User: "hi", Silent: true})

	require.Equal(t, OutcomeFailure, out.Kind)
	assert.Len(t, calls.Keys(), 3)
	assert.ErrorIs(t, out.Err, ErrAllKeysFailed)
	assert.Contains(t, out.Err.Error(), "3 attempt(s)")
	assert.Contains(t, out.Err.Error(), "503 upstream down")
}

func TestInvokeConfigurationErrors(t *testing.T) {
	calls := &callLog{}

	tests := []struct {
		name    string
		mutate  func(*Invoker)
		wantErr error
	}{
		{name: "no endpoint", mutate: func(i *Invoker) { i.EndpointURL = "" }, wantErr: ErrNoEndpoint},
		{name: "no model", mutate: func(i *Invoker) { i.Model = "" }, wantErr: ErrNoModel},
		{name: "no keys", mutate: func(i *Invoker) { i.Keys = nil }, wantErr: ErrNoAPIKeys},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newTestInvoker([]string{"key-a"}, nil, calls)
			tt.mutate(inv)

			out := inv.Invoke(context.Background(), InvokeRequest{User: "hi", Silent: true})

			assert.Equal(t, OutcomeFailure, out.Kind)
			assert.ErrorIs(t, out.Err, tt.wantErr)
			assert.Empty(t, calls.Keys(), "configuration errors must make zero attempts")
			assert.Equal(t, 0, inv.Cursor(), "configuration errors must not move the cursor")
		})
	}
}

func TestInvokeSuspension(t *testing.T) {
	calls := &callLog{}
	failAll := map[string]error{
		"key-a": errors.New("401"),
		"key-b": errors.New("401"),
		"key-c": errors.New("401"),
	}
	inv := &Invoker{
		EndpointURL: "http://localhost:9",
		Model:       "gpt-4o",
		Keys:        []string{"key-a", "key-b", "key-c"},
		NewClient: func(cfg ClientConfig) ModelClient {
			return &fakeClient{key: cfg.APIKey, calls: calls, failFor: failAll, delay: 50 * time.Millisecond}
		},
		Prompt: func(ctx context.Context) bool { return true },
	}

	out := inv.Invoke(context.Background(), InvokeRequest{User: "hi"})

	assert.Equal(t, OutcomeSuspended, out.Kind)
	// The abort answer lands before the first (slow) attempt completes, so
	// at most one attempt is ever made and no further call goes out.
	assert.LessOrEqual(t, len(calls.Keys()), 1)
}

func TestInvokeSilentSkipsPrompt(t *testing.T) {
	calls := &callLog{}
	prompted := false
	inv := newTestInvoker([]string{"key-a"}, nil, calls)
	inv.Prompt = func(ctx context.Context) bool {
		prompted = true
		return true
	}

	out := inv.Invoke(context.Background(), InvokeRequest{User: "hi", Silent: true})

	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.False(t, prompted)
}

func TestInvokeContextCancellation(t *testing.T) {
	calls := &callLog{}
	inv := newTestInvoker([]string{"key-a"}, nil, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := inv.Invoke(ctx, InvokeRequest{User: "hi", Silent: true})

	assert.Equal(t, OutcomeSuspended, out.Kind)
	assert.Empty(t, calls.Keys())
}

func TestInvokeMaxAttemptsCapsLoop(t *testing.T) {
	calls := &callLog{}
	failAll := map[string]error{
		"key-a": errors.New("401"),
		"key-b": errors.New("401"),
		"key-c": errors.New("401"),
	}
	inv := newTestInvoker([]string{"key-a", "key-b", "key-c"}, failAll, calls)
	inv.MaxAttempts = 2

	out := inv.Invoke(context.Background(), InvokeRequest{User: "hi", Silent: true})

	require.Equal(t, OutcomeFailure, out.Kind)
	assert.Len(t, calls.Keys(), 2)
	assert.Contains(t, out.Err.Error(), "2 attempt(s)")
}

func TestInvokeStreamingForwardsChunks(t *testing.T) {
	calls := &callLog{}
	inv := newTestInvoker([]string{"key-a"}, nil, calls)

	var chunks []string
	out := inv.Invoke(context.Background(), InvokeRequest{
		User:    "hi",
		Silent:  true,
		Stream:  true,
		OnChunk: func(s string) { chunks = append(chunks, s) },
	})

	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, []string{"ok"}, chunks)
}

func TestInvokeNotifierObservesAttempts(t *testing.T) {
	calls := &callLog{}
	inv := newTestInvoker(
		[]string{"key-a", "key-b"},
		map[string]error{"key-a": errors.New("401")},
		calls,
	)

	type notice struct{ attempt, total, keyIndex int }
	var notices []notice
	inv.Notify = func(attempt, total, keyIndex int) {
		notices = append(notices, notice{attempt, total, keyIndex})
	}

	out := inv.Invoke(context.Background(), InvokeRequest{User: "hi", Silent: true})

	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, []notice{{1, 2, 0}, {2, 2, 1}}, notices)
}

func TestInvokeLoadSpreadingAcrossCalls(t *testing.T) {
	calls := &callLog{}
	inv := newTestInvoker([]string{"key-a", "key-b"}, nil, calls)

	for range 4 {
		out := inv.Invoke(context.Background(), InvokeRequest{User: "hi", Silent: true})
		require.Equal(t, OutcomeSuccess, out.Kind)
	}

	// Repeated calls do not always prefer the first key.
	assert.Equal(t, []string{"key-a", "key-b", "key-a", "key-b"}, calls.Keys())
}

func TestNewInvokerParsesKeys(t *testing.T) {
	inv := NewInvoker(&Config{
		EndpointURL: "https://api.example.com/v1/chat/completions",
		Model:       "gpt-4o",
		APIKeys:     "a, a, ,b",
	}, nil)

	assert.Equal(t, []string{"a", "b"}, inv.Keys)
}
