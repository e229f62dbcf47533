package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dcshock/pipectl/config"
)

func TestExponentialBackoffPolicy_DelayIncreases(t *testing.T) {
	policy := ExponentialBackoffPolicy{Initial: 10 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 10*time.Millisecond, policy.Delay(0))
	assert.Equal(t, 20*time.Millisecond, policy.Delay(1))
	assert.Equal(t, 40*time.Millisecond, policy.Delay(2))
}

func TestExponentialBackoffPolicy_Cap(t *testing.T) {
	policy := ExponentialBackoffPolicy{Initial: time.Second, Multiplier: 3, Cap: 5 * time.Second}

	assert.Equal(t, time.Second, policy.Delay(0))
	assert.Equal(t, 3*time.Second, policy.Delay(1))
	assert.Equal(t, 5*time.Second, policy.Delay(2))
	assert.Equal(t, 5*time.Second, policy.Delay(50))

	capped := ExponentialBackoffPolicy{Initial: time.Minute, Cap: time.Second}
	assert.Equal(t, time.Second, capped.Delay(0))
}

func TestExponentialBackoffPolicy_Allow(t *testing.T) {
	policy := ExponentialBackoffPolicy{MaxAttempts: 2}
	transient := errors.New("timeout talking to upstream")

	assert.True(t, policy.Allow(0, transient))
	assert.True(t, policy.Allow(1, transient))
	assert.False(t, policy.Allow(2, transient))
	assert.False(t, policy.Allow(0, fmt.Errorf("wrapped: %w", PermanentErr(transient))))
	assert.False(t, policy.Allow(0, context.Canceled))

	assert.False(t, ExponentialBackoffPolicy{}.Allow(0, transient))

	onlyMarked := ExponentialBackoffPolicy{MaxAttempts: 1, ShouldRetry: func(err error) bool {
		return errors.Is(err, context.DeadlineExceeded)
	}}
	assert.True(t, onlyMarked.Allow(0, context.DeadlineExceeded))
	assert.False(t, onlyMarked.Allow(0, transient))
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := config.Pipeline{
		MaxRetryAttempts: 3,
		RetryBackoff:     config.Duration(2 * time.Second),
		RetryBackoffCap:  config.Duration(time.Minute),
	}
	assert.Zero(t, RetryPolicyFromConfig(p).MaxAttempts)

	p.RetryFailedModules = true
	policy := RetryPolicyFromConfig(p)
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, 2*time.Second, policy.Initial)
	assert.Equal(t, time.Minute, policy.Cap)
	assert.Equal(t, 2.0, policy.Multiplier)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
