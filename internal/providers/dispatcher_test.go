package providers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/orchestrator/pkg/models"
)

// fakeProvider is a scriptable Provider for testing dispatcher fallback.
type fakeProvider struct {
	name  string
	calls int32
	fn    func(callIndex int) (*CompletionResult, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	idx := int(atomic.AddInt32(&f.calls, 1)) - 1
	return f.fn(idx)
}

func descFor(n int) []models.ProviderDescriptor {
	out := make([]models.ProviderDescriptor, n)
	for i := range out {
		out[i] = models.ProviderDescriptor{Timeout: time.Second}
	}
	return out
}

func TestDispatcher_SucceedsOnFirstProvider(t *testing.T) {
	p1 := &fakeProvider{name: "A", fn: func(int) (*CompletionResult, error) {
		return &CompletionResult{Text: "hello", TokensUsed: 10}, nil
	}}
	d := NewDispatcher([]Provider{p1}, descFor(1))

	result, used, err := d.Generate(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "A", used)
	assert.Equal(t, "hello", result.Text)
}

func TestDispatcher_FallsOverOnFailure(t *testing.T) {
	p1 := &fakeProvider{name: "A", fn: func(int) (*CompletionResult, error) {
		return nil, errors.New("503 service unavailable")
	}}
	p2 := &fakeProvider{name: "B", fn: func(int) (*CompletionResult, error) {
		return &CompletionResult{Text: "from B"}, nil
	}}
	d := NewDispatcher([]Provider{p1, p2}, descFor(2))

	result, used, err := d.Generate(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "B", used)
	assert.Equal(t, "from B", result.Text)
}

func TestDispatcher_AllProvidersExhausted(t *testing.T) {
	p1 := &fakeProvider{name: "A", fn: func(int) (*CompletionResult, error) {
		return nil, errors.New("internal server error")
	}}
	p2 := &fakeProvider{name: "B", fn: func(int) (*CompletionResult, error) {
		return nil, errors.New("invalid api key: unauthorized")
	}}
	d := NewDispatcher([]Provider{p1, p2}, descFor(2))

	_, _, err := d.Generate(context.Background(), &CompletionRequest{})
	require.Error(t, err)

	var exhausted *AllProvidersExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Failures, 2)
	assert.Equal(t, "A", exhausted.Failures[0].Provider)
	assert.Equal(t, "B", exhausted.Failures[1].Provider)
}

func TestDispatcher_EmptyProviderList(t *testing.T) {
	d := NewDispatcher(nil, nil)
	_, _, err := d.Generate(context.Background(), &CompletionRequest{})
	require.Error(t, err)
	var exhausted *AllProvidersExhaustedError
	require.ErrorAs(t, err, &exhausted)
}

func TestDispatcher_AuthFailureSkipsLocalRetryButMovesOn(t *testing.T) {
	p1 := &fakeProvider{name: "A", fn: func(int) (*CompletionResult, error) {
		return nil, errors.New("401 unauthorized")
	}}
	p2 := &fakeProvider{name: "B", fn: func(int) (*CompletionResult, error) {
		return &CompletionResult{Text: "ok"}, nil
	}}
	descs := descFor(2)
	descs[0].RetryBudget = 3

	d := NewDispatcher([]Provider{p1, p2}, descs)
	result, used, err := d.Generate(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "B", used)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, int32(1), p1.calls, "auth failures must not be retried locally")
}

func TestDispatcher_RetriesTransientErrorWithinRetryBudget(t *testing.T) {
	p1 := &fakeProvider{name: "A", fn: func(idx int) (*CompletionResult, error) {
		if idx < 2 {
			return nil, errors.New("timeout")
		}
		return &CompletionResult{Text: "recovered"}, nil
	}}
	descs := descFor(1)
	descs[0].RetryBudget = 2

	d := NewDispatcher([]Provider{p1}, descs)
	result, used, err := d.Generate(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "A", used)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, int32(3), p1.calls)
}

func TestDispatcher_RateLimitArmsBackoffForSubsequentCalls(t *testing.T) {
	p1 := &fakeProvider{name: "A", fn: func(int) (*CompletionResult, error) {
		return nil, errors.New("429 too many requests")
	}}
	p2 := &fakeProvider{name: "B", fn: func(int) (*CompletionResult, error) {
		return &CompletionResult{Text: "ok"}, nil
	}}
	d := NewDispatcher([]Provider{p1, p2}, descFor(2))

	_, used, err := d.Generate(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "B", used)

	// Second call within the cooldown window should skip A without calling it.
	_, used2, err := d.Generate(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "B", used2)
	assert.Equal(t, int32(1), p1.calls, "provider A should be skipped while backing off")
}

func TestDispatcher_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	p1 := &fakeProvider{name: "A", fn: func(int) (*CompletionResult, error) {
		return nil, errors.New("connection reset by peer")
	}}
	p2 := &fakeProvider{name: "B", fn: func(int) (*CompletionResult, error) {
		return &CompletionResult{Text: "ok"}, nil
	}}
	d := NewDispatcher([]Provider{p1, p2}, descFor(2))

	for i := 0; i < circuitBreakerThreshold; i++ {
		_, used, err := d.Generate(context.Background(), &CompletionRequest{})
		require.NoError(t, err)
		assert.Equal(t, "B", used)
	}
	callsBeforeCircuitOpen := p1.calls

	// No rate-limit hint was ever seen, but the consecutive-failure circuit
	// should now be open: A is skipped without being called again.
	_, used, err := d.Generate(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "B", used)
	assert.Equal(t, callsBeforeCircuitOpen, p1.calls, "provider A should be skipped once its circuit is open")
}

func TestDispatcher_Reload(t *testing.T) {
	p1 := &fakeProvider{name: "A", fn: func(int) (*CompletionResult, error) {
		return &CompletionResult{Text: "old"}, nil
	}}
	d := NewDispatcher([]Provider{p1}, descFor(1))

	p2 := &fakeProvider{name: "B", fn: func(int) (*CompletionResult, error) {
		return &CompletionResult{Text: "new"}, nil
	}}
	d.Reload([]Provider{p2}, descFor(1))

	result, used, err := d.Generate(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "B", used)
	assert.Equal(t, "new", result.Text)
}
