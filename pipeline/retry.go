package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/dcshock/pipectl/config"
)

// ExponentialBackoffPolicy configures how a failed stage is re-attempted.
// MaxAttempts counts extra attempts after the first; zero disables retries.
// The delay before retry n (0-based) is Initial * Multiplier^n, capped at Cap
// when Cap > 0. If ShouldRetry is nil, every error except a Permanent one or
// a cancelled context is retried.
type ExponentialBackoffPolicy struct {
	Initial     time.Duration
	Multiplier  float64
	Cap         time.Duration
	MaxAttempts int
	ShouldRetry func(err error) bool
}

// RetryPolicyFromConfig builds the policy from the pipeline section.
func RetryPolicyFromConfig(p config.Pipeline) ExponentialBackoffPolicy {
	policy := ExponentialBackoffPolicy{
		Initial:    p.RetryBackoff.Duration(),
		Multiplier: 2,
		Cap:        p.RetryBackoffCap.Duration(),
	}
	if p.RetryFailedModules {
		policy.MaxAttempts = p.MaxRetryAttempts
	}
	return policy
}

// Delay returns the wait before retry n (0-based).
func (p ExponentialBackoffPolicy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.Initial)
	for i := 0; i < n; i++ {
		d *= mult
		if p.Cap > 0 && d >= float64(p.Cap) {
			return p.Cap
		}
	}
	if p.Cap > 0 && time.Duration(d) > p.Cap {
		return p.Cap
	}
	return time.Duration(d)
}

// Allow reports whether retry n (0-based) may follow a failure with err.
func (p ExponentialBackoffPolicy) Allow(n int, err error) bool {
	if n >= p.MaxAttempts {
		return false
	}
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	return !IsPermanent(err) && !errors.Is(err, context.Canceled)
}

// Permanent marks err as not worth retrying (e.g. bad input). The stage still
// fails; it just is not re-attempted.
type Permanent struct{ Err error }

func (e *Permanent) Error() string { return e.Err.Error() }
func (e *Permanent) Unwrap() error { return e.Err }
func PermanentErr(err error) error { return &Permanent{Err: err} }
func IsPermanent(err error) bool   { return errors.As(err, new(*Permanent)) }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
