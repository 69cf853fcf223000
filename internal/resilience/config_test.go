package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/okatech-org/mayfin-sub002/internal/config"
)

func TestRetryFromConfig(t *testing.T) {
	got := RetryFromConfig(config.RetryConfig{
		MaxAttempts:      4,
		InitialBackoffMs: 100,
		MaxBackoffMs:     2000,
		Multiplier:       3,
		JitterFraction:   0,
	})
	assert.Equal(t, 4, got.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, got.InitialBackoff)
	assert.Equal(t, 2*time.Second, got.MaxBackoff)
	assert.InDelta(t, 3.0, got.Multiplier, 1e-9)
	assert.Zero(t, got.JitterFraction)

	def := DefaultRetryConfig()
	got = RetryFromConfig(config.RetryConfig{JitterFraction: -1})
	assert.Equal(t, def.MaxAttempts, got.MaxAttempts)
	assert.Equal(t, def.InitialBackoff, got.InitialBackoff)
	assert.InDelta(t, def.JitterFraction, got.JitterFraction, 1e-9)
}

func TestCircuitFromConfig(t *testing.T) {
	got := CircuitFromConfig(config.CircuitConfig{FailureThreshold: 2, ResetTimeoutSecs: 10})
	assert.Equal(t, 2, got.FailureThreshold)
	assert.Equal(t, 10*time.Second, got.ResetTimeout)

	assert.Equal(t, DefaultCircuitBreakerConfig(), CircuitFromConfig(config.CircuitConfig{}))
}
