package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCompleter struct {
	calls int
}

func (c *countingCompleter) Complete(ctx context.Context, req Request) (string, error) {
	c.calls++
	return "ok", nil
}

func (c *countingCompleter) GetModel() string { return "counting" }

func TestRateLimitedCompleter_WaitHonoursContext(t *testing.T) {
	inner := &countingCompleter{}
	c := NewRateLimitedCompleter(inner, 0.001, 1)

	_, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, Request{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, "counting", c.GetModel())
}

func TestRateLimitedCompleter_Unlimited(t *testing.T) {
	inner := &countingCompleter{}
	c := NewRateLimitedCompleter(inner, 0, 0)
	for i := 0; i < 50; i++ {
		_, err := c.Complete(context.Background(), Request{})
		require.NoError(t, err)
	}
	assert.Equal(t, 50, inner.calls)
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CircuitBreakerConfig{Name: "test", MaxFailures: 2, Timeout: time.Hour})
	boom := errors.New("boom")

	out, err := cb.Execute(context.Background(), func() (string, error) { return "fine", nil })
	require.NoError(t, err)
	assert.Equal(t, "fine", out)

	for i := 0; i < 2; i++ {
		_, err = cb.Execute(context.Background(), func() (string, error) { return "", boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", cb.State())

	_, err = cb.Execute(context.Background(), func() (string, error) { return "never", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := NewCircuitBreaker("cancel")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := cb.Execute(ctx, func() (string, error) { called = true; return "", nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, "closed", cb.State())
}
