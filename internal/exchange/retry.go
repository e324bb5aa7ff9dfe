package exchange

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxAttempts = 100
	defaultBaseDelay   = 3 * time.Second
)

// RetryPolicy bounds the attempts made for a single remote call. It is passed
// per call; there is no process-wide retry state.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number to get the wait before
	// the next attempt.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the policy used against the public API: up to
// 100 attempts with waits of 3s, 6s, 9s and so on.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// BackOff builds the backoff.BackOff for one call governed by the policy.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	p = p.normalized()
	b := backoff.WithMaxRetries(&LinearBackOff{Interval: p.BaseDelay, Max: p.MaxDelay}, uint64(p.MaxAttempts-1))
	return backoff.WithContext(b, ctx)
}

// LinearBackOff waits Interval, 2*Interval, 3*Interval, ... between attempts.
// It never returns backoff.Stop on its own; wrap it with backoff.WithMaxRetries
// to bound it.
type LinearBackOff struct {
	Interval time.Duration
	Max      time.Duration

	attempt int64
}

// NextBackOff returns the next backoff interval
func (lb *LinearBackOff) NextBackOff() time.Duration {
	lb.attempt++
	next := time.Duration(lb.attempt) * lb.Interval
	if lb.Max > 0 && next > lb.Max {
		next = lb.Max
	}
	return next
}

// Reset resets the backoff to its initial state
func (lb *LinearBackOff) Reset() {
	lb.attempt = 0
}

var _ backoff.BackOff = (*LinearBackOff)(nil)
