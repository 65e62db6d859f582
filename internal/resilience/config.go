package resilience

import (
	"time"

	"github.com/sells-group/watchlist-screen/internal/config"
)

// RetryFromConfig builds a RetryConfig from the resilience section.
func RetryFromConfig(cfg config.ResilienceConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	return rc
}

// BreakerFromConfig builds a BreakerConfig from the resilience section.
func BreakerFromConfig(cfg config.ResilienceConfig) BreakerConfig {
	bc := DefaultBreakerConfig()
	if cfg.FailureThreshold > 0 {
		bc.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeoutSecs > 0 {
		bc.ResetTimeout = time.Duration(cfg.ResetTimeoutSecs) * time.Second
	}
	return bc
}
