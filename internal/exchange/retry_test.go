package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestLinearBackOff(t *testing.T) {
	b := &LinearBackOff{Interval: 3 * time.Second}

	assert.Equal(t, 3*time.Second, b.NextBackOff())
	assert.Equal(t, 6*time.Second, b.NextBackOff())
	assert.Equal(t, 9*time.Second, b.NextBackOff())

	b.Reset()
	assert.Equal(t, 3*time.Second, b.NextBackOff())
}

func TestLinearBackOff_Max(t *testing.T) {
	b := &LinearBackOff{Interval: time.Second, Max: 2 * time.Second}

	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 100, p.MaxAttempts)
	assert.Equal(t, 3*time.Second, p.BaseDelay)
}

func TestRetryPolicy_BackOffBoundsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond}

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return errors.New("transient")
	}, policy.BackOff(context.Background()))

	assert.Error(t, err)
	assert.Equal(t, 4, attempts)
}

func TestRetryPolicy_ZeroAttemptsMeansOne(t *testing.T) {
	attempts := 0
	_ = backoff.Retry(func() error {
		attempts++
		return errors.New("transient")
	}, RetryPolicy{}.BackOff(context.Background()))

	assert.Equal(t, 1, attempts)
}
