package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(max int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(max, cooldown)
	cb.now = clk.now
	return cb, clk
}

func fail(context.Context) error { return errFail }
func ok(context.Context) error   { return nil }

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errFail)
	}
	assert.Equal(t, StateOpen, cb.CurrentState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	ctx := context.Background()
	cb, clk := newTestBreaker(2, time.Second)
	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.CurrentState())

	clk.advance(time.Second)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	ctx := context.Background()
	cb, clk := newTestBreaker(2, time.Second)
	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)

	clk.advance(time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errFail)
	assert.Equal(t, StateOpen, cb.CurrentState())

	// cooldown restarts from the failed probe
	clk.advance(500 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	ctx := context.Background()
	cb, clk := newTestBreaker(1, time.Second)
	cb.Execute(ctx, fail)
	clk.advance(time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		// a concurrent caller during the probe is rejected
		assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestBreaker(3, time.Second)

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	cb.Execute(ctx, ok)
	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_CancelledContextNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cb, _ := newTestBreaker(1, time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	ctx := context.Background()
	cb, clk := newTestBreaker(1, time.Second)
	var seen []State
	cb.OnStateChange = func(_, to State) { seen = append(seen, to) }

	cb.Execute(ctx, fail)
	clk.advance(time.Second)
	cb.Execute(ctx, ok)

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, seen)
}
