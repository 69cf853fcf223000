package resilience

import (
	"time"

	"github.com/okatech-org/mayfin-sub002/internal/config"
)

// RetryFromConfig overlays the non-zero settings of c on DefaultRetryConfig.
// A zero jitter fraction is honoured; a negative one keeps the default.
func RetryFromConfig(c config.RetryConfig) RetryConfig {
	out := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		out.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		out.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		out.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.Multiplier > 0 {
		out.Multiplier = c.Multiplier
	}
	if c.JitterFraction >= 0 {
		out.JitterFraction = c.JitterFraction
	}
	return out
}

// CircuitFromConfig overlays the non-zero settings of c on
// DefaultCircuitBreakerConfig.
func CircuitFromConfig(c config.CircuitConfig) CircuitBreakerConfig {
	out := DefaultCircuitBreakerConfig()
	if c.FailureThreshold > 0 {
		out.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		out.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return out
}
