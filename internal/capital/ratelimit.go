package capital

import (
	"context"
	"sync"
	"time"
)

// RequestClass selects which limit an outbound call is subject to.
type RequestClass int

const (
	// StandardRequest is any call other than login.
	StandardRequest RequestClass = iota
	// SessionRequest is a session-establishment call.
	SessionRequest
)

const (
	rateWindow        = time.Second
	sessionMinSpacing = time.Second
)

// RateLimiter enforces the broker limits: at most maxPerWindow standard calls per
// one-second window, and one second between a session call and the previous call.
// The mutex is held while sleeping so concurrent callers queue up behind each other.
type RateLimiter struct {
	mu           sync.Mutex
	clock        Clock
	maxPerWindow int

	requestCount    int
	windowStart     time.Time
	lastRequestTime time.Time
}

// NewRateLimiter creates a limiter allowing maxPerSecond standard calls per second.
func NewRateLimiter(maxPerSecond int, clock Clock) *RateLimiter {
	if maxPerSecond <= 0 {
		maxPerSecond = DefaultMaxRequestsPerSecond
	}
	if clock == nil {
		clock = realClock{}
	}
	return &RateLimiter{
		clock:        clock,
		maxPerWindow: maxPerSecond,
		windowStart:  clock.Now(),
	}
}

// Wait blocks until a call of the given class may be sent.
func (rl *RateLimiter) Wait(ctx context.Context, class RequestClass) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	switch class {
	case SessionRequest:
		if !rl.lastRequestTime.IsZero() {
			if since := now.Sub(rl.lastRequestTime); since < sessionMinSpacing {
				if err := rl.clock.Sleep(ctx, sessionMinSpacing-since); err != nil {
					return err
				}
			}
		}
	default:
		if now.Sub(rl.windowStart) >= rateWindow {
			rl.requestCount = 0
			rl.windowStart = now
		}
		if rl.requestCount >= rl.maxPerWindow {
			if err := rl.clock.Sleep(ctx, rateWindow-now.Sub(rl.windowStart)); err != nil {
				return err
			}
			rl.requestCount = 0
			rl.windowStart = rl.clock.Now()
		}
	}

	rl.lastRequestTime = rl.clock.Now()
	rl.requestCount++
	return nil
}

// Stats returns the current window counter and the time of the last call.
func (rl *RateLimiter) Stats() (count int, windowStart, lastRequest time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.requestCount, rl.windowStart, rl.lastRequestTime
}
