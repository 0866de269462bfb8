package errors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a circuit breaker with max 3 failures
	cb := NewCircuitBreaker("search", WithMaxFailures(3), WithResetTimeout(time.Minute))

	// When: recording 3 failures
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("503") })
	}

	// Then: circuit is open and calls are rejected without running
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("search",
		WithMaxFailures(2),
		WithResetTimeout(10*time.Second),
		WithClock(clock.Now),
	)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	// When: the reset timeout elapses
	clock.Advance(11 * time.Second)

	// Then: one probe is allowed; a failed probe reopens the circuit
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	// And: a successful probe closes it
	clock.Advance(11 * time.Second)
	got, err := CircuitExecute(cb, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker("search", WithMaxFailures(3))

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Failures())
}

func TestCircuitBreaker_NeutralErrorsDoNotCount(t *testing.T) {
	// Given: a breaker that ignores context errors
	cb := NewCircuitBreaker("search", WithMaxFailures(1), WithNeutralErrors(IsContextError))

	// When: the caller's deadline cuts a call short
	err := cb.Execute(func() error {
		return fmt.Errorf("request: %w", context.DeadlineExceeded)
	})

	// Then: the error passes through and the circuit stays closed
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())

	err = cb.Execute(func() error { return errors.New("engine down") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
