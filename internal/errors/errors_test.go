package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name              string
		err               error
		expectedType      ErrorType
		expectedRetryable bool
	}{
		{
			name:              "network connection refused",
			err:               fmt.Errorf("dial tcp: connection refused"),
			expectedType:      ErrorTypeNetwork,
			expectedRetryable: true,
		},
		{
			name:              "timeout",
			err:               fmt.Errorf("request timeout"),
			expectedType:      ErrorTypeTimeout,
			expectedRetryable: true,
		},
		{
			name:              "deadline exceeded",
			err:               fmt.Errorf("get trades: %w", context.DeadlineExceeded),
			expectedType:      ErrorTypeTimeout,
			expectedRetryable: true,
		},
		{
			name:              "canceled",
			err:               fmt.Errorf("get trades: %w", context.Canceled),
			expectedType:      ErrorTypeCanceled,
			expectedRetryable: false,
		},
		{
			name:              "malformed",
			err:               fmt.Errorf("decode: %w", ErrMalformedResponse),
			expectedType:      ErrorTypeMalformed,
			expectedRetryable: true,
		},
		{
			name:              "no data",
			err:               fmt.Errorf("trades XBTUSD: %w", ErrNoDataForPair),
			expectedType:      ErrorTypeNoData,
			expectedRetryable: false,
		},
		{
			name:              "already classified",
			err:               New(ErrorTypeHTTPStatus, "get", errors.New("status 503")),
			expectedType:      ErrorTypeHTTPStatus,
			expectedRetryable: true,
		},
		{
			name:              "unknown",
			err:               fmt.Errorf("something went wrong"),
			expectedType:      ErrorTypeUnknown,
			expectedRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedType, Classify(tt.err))
			assert.Equal(t, tt.expectedRetryable, IsRetryable(tt.err))
		})
	}

	assert.Equal(t, ErrorType(""), Classify(nil))
}

func TestNetworkErrorDetection(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"connection refused", fmt.Errorf("connection refused"), true},
		{"dns resolution failed", fmt.Errorf("no such host: example.com"), true},
		{"network unreachable", fmt.Errorf("network unreachable"), true},
		{"not a network error", fmt.Errorf("validation failed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isNetworkError(tt.err))
		})
	}
}

func TestClassifiedError(t *testing.T) {
	base := errors.New("status 502")
	err := New(ErrorTypeHTTPStatus, "GET /0/public/Trades", base)

	assert.Equal(t, "[http_status] GET /0/public/Trades: status 502", err.Error())
	assert.ErrorIs(t, err, base)
	assert.ErrorIs(t, err, &ClassifiedError{Type: ErrorTypeHTTPStatus})
	assert.NotErrorIs(t, err, &ClassifiedError{Type: ErrorTypeAPI})
	assert.True(t, err.Retryable)

	wrapped := fmt.Errorf("page 3: %w", err)
	assert.True(t, IsRetryable(wrapped))
}

func TestFetchError(t *testing.T) {
	last := New(ErrorTypeAPI, "trades", errors.New("EService:Unavailable"))

	t.Run("exhausted", func(t *testing.T) {
		err := &FetchError{Pair: "XBTUSD", Since: 1.5, Attempts: 3, Exhausted: true, Err: last}

		assert.ErrorIs(t, err, ErrRetryExhausted)
		assert.ErrorIs(t, err, last)
		assert.Equal(t, ErrorTypeRetryExhausted, Classify(fmt.Errorf("download: %w", err)))
		assert.Contains(t, err.Error(), "gave up after 3 attempts")
	})

	t.Run("not exhausted", func(t *testing.T) {
		err := &FetchError{Pair: "XBTUSD", Since: 1.5, Attempts: 1, Err: context.Canceled}

		assert.NotErrorIs(t, err, ErrRetryExhausted)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWrapError(t *testing.T) {
	require.NoError(t, WrapError(nil, "storage", "append", "failed"))

	err := WrapError(ErrUnsortedTrades, "storage", "append", "rejected batch")
	assert.EqualError(t, err, "rejected batch in storage.append: trades are not ordered by time")
	assert.ErrorIs(t, err, ErrUnsortedTrades)
}

func TestIsRetryable_ExhaustedFetch(t *testing.T) {
	err := &FetchError{Pair: "XBTUSD", Attempts: 2, Exhausted: true, Err: New(ErrorTypeNetwork, "get", errors.New("connection reset"))}
	assert.False(t, IsRetryable(err))
}
