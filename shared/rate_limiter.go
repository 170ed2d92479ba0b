package shared

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPRequestRateLimiter paces outbound requests so that at most one is
// admitted per minimumDelay across every goroutine sharing the limiter.
// Callers are delayed, never rejected.
type HTTPRequestRateLimiter struct {
	minimumDelay    time.Duration
	lastRequestTime time.Time
	mutex           sync.Mutex
	requestCount    int64
	abandoned       map[int64]struct{}
	now             func() time.Time
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewHTTPRequestRateLimiter creates a new rate limiter with the specified minimum delay
func NewHTTPRequestRateLimiter(minimumDelay time.Duration) *HTTPRequestRateLimiter {
	return &HTTPRequestRateLimiter{
		minimumDelay: minimumDelay,
		abandoned:    make(map[int64]struct{}),
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// Wait blocks until the caller may issue its request. The admission slot is
// reserved under the lock, so concurrent waiters are spaced minimumDelay apart
// even though they sleep outside of it. A waiter whose context ends first
// gives its slot back.
func (limiter *HTTPRequestRateLimiter) Wait(ctx context.Context) error {
	limiter.mutex.Lock()
	now := limiter.now()
	for key := range limiter.abandoned {
		if key < now.UnixNano() {
			delete(limiter.abandoned, key)
		}
	}
	slot := now
	if !limiter.lastRequestTime.IsZero() {
		if next := limiter.lastRequestTime.Add(limiter.minimumDelay); next.After(now) {
			slot = next
		}
	}
	limiter.lastRequestTime = slot
	limiter.requestCount++
	count := limiter.requestCount
	limiter.mutex.Unlock()

	remainingDelay := slot.Sub(now)
	if remainingDelay <= 0 {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"component":       "HTTPRequestRateLimiter",
		"minimum_delay":   limiter.minimumDelay,
		"remaining_delay": remainingDelay,
		"request_count":   count,
	}).Debug("Enforcing rate limit delay")

	if err := limiter.sleep(ctx, remainingDelay); err != nil {
		limiter.release(slot)
		return err
	}
	return nil
}

// release returns an unused slot. Only the tail of the queue can move back;
// an earlier abandoned slot is remembered until the slots after it are
// released too.
func (limiter *HTTPRequestRateLimiter) release(slot time.Time) {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()

	if limiter.requestCount > 0 {
		limiter.requestCount--
	}
	limiter.abandoned[slot.UnixNano()] = struct{}{}
	for {
		last := limiter.lastRequestTime.UnixNano()
		if _, ok := limiter.abandoned[last]; !ok {
			return
		}
		delete(limiter.abandoned, last)
		limiter.lastRequestTime = limiter.lastRequestTime.Add(-limiter.minimumDelay)
	}
}

// GetRequestCount returns the total number of requests processed
func (limiter *HTTPRequestRateLimiter) GetRequestCount() int64 {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	return limiter.requestCount
}

// GetLastRequestTime returns the admission time of the most recent request
func (limiter *HTTPRequestRateLimiter) GetLastRequestTime() time.Time {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	return limiter.lastRequestTime
}

// GetMinimumDelay returns the current spacing between admitted requests
func (limiter *HTTPRequestRateLimiter) GetMinimumDelay() time.Duration {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	return limiter.minimumDelay
}

// UpdateMinimumDelay updates the minimum delay between requests
func (limiter *HTTPRequestRateLimiter) UpdateMinimumDelay(newDelay time.Duration) {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()

	oldDelay := limiter.minimumDelay
	limiter.minimumDelay = newDelay

	logrus.WithFields(logrus.Fields{
		"component": "HTTPRequestRateLimiter",
		"old_delay": oldDelay,
		"new_delay": newDelay,
	}).Info("Updated rate limiter minimum delay")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
