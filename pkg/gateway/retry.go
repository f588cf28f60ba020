// retry.go provides optional retry for transient peer failures.
//
// The multicast core does not retry by default: a failed send is logged
// and dropped, and the message or ack it carried simply never arrives.
// Operators can opt into a bounded number of retries (SEND_RETRIES), each
// separated by exponential backoff with jitter.
package gateway

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// retryConfig controls retry behavior for transient peer errors.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// defaultRetryConfig is used when retries are enabled.
var defaultRetryConfig = retryConfig{
	maxRetries: 0,
	baseDelay:  100 * time.Millisecond,
	maxDelay:   2 * time.Second,
}

// isTransientPeerErr returns true if a retry could plausibly succeed:
//   - timeouts (net.Error.Timeout, context deadline)
//   - connection refused / reset, the peer is restarting
//   - 5xx responses and 429
func isTransientPeerErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 429
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// retryOp executes fn with exponential backoff + jitter for transient
// errors. It gives up early when ctx is cancelled.
func retryOp(ctx context.Context, cfg retryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransientPeerErr(lastErr) {
			return lastErr
		}
		if attempt < cfg.maxRetries {
			t := time.NewTimer(backoffDelay(cfg, attempt))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return lastErr
			}
		}
	}
	return lastErr
}

// backoffDelay computes delay = baseDelay * 2^attempt (capped at maxDelay)
// plus a random jitter in [0, baseDelay).
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay || delay <= 0 {
		delay = cfg.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(cfg.baseDelay)))
	return delay + jitter
}
