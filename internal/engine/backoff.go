package engine

import "time"

const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 5 * time.Minute
)

// backoffDelay returns the delay before retry number retryCount:
// 2^retryCount seconds, capped at five minutes.
func backoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 20 {
		return maxRetryDelay
	}
	delay := baseRetryDelay << retryCount
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
