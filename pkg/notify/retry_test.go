package notify

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/rebill/pkg/httputil"
)

func TestNewRetryPolicy_Defaults(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{})

	assert.Equal(t, DefaultRetryConfig(), policy.config)
	assert.Equal(t, 4, policy.MaxAttempts())
}

func TestNewRetryPolicy_KeepsValidValues(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		MaxAttempts:       2,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 3,
	})

	assert.Equal(t, 2, policy.config.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, policy.config.InitialDelay)
	assert.Equal(t, time.Minute, policy.config.MaxDelay)
	assert.Equal(t, 3.0, policy.config.BackoffMultiplier)
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 3})

	tests := []struct {
		name     string
		attempts int
		err      error
		want     bool
	}{
		{"no error", 1, nil, false},
		{"transport error", 1, errors.New("connection refused"), true},
		{"attempts exhausted", 3, errors.New("connection refused"), false},
		{"server error", 2, &httputil.StatusError{StatusCode: http.StatusBadGateway}, true},
		{"throttled", 1, &httputil.StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"client error", 1, &httputil.StatusError{StatusCode: http.StatusBadRequest}, false},
		{"wrapped client error", 1, errors.Join(errors.New("x"), &httputil.StatusError{StatusCode: http.StatusGone}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.ShouldRetry(tt.attempts, tt.err))
		})
	}
}

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		InitialDelay:      time.Second,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
	})

	assert.Equal(t, time.Second, policy.NextRetryDelay(0))
	assert.Equal(t, time.Second, policy.NextRetryDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextRetryDelay(2))
	assert.Equal(t, 4*time.Second, policy.NextRetryDelay(3))
	assert.Equal(t, 5*time.Second, policy.NextRetryDelay(4))
	assert.Equal(t, 5*time.Second, policy.NextRetryDelay(10))
}
