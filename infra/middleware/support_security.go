package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"support_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Set("Server", "")
		return c.Next()
	}
}

// RateLimiter is a fixed-window per-IP limiter for public endpoints.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string]*window
	limit    int
	period   time.Duration
	now      func() time.Time
}

type window struct {
	count     int
	expiresAt time.Time
}

func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string]*window),
		limit:    limit,
		period:   period,
		now:      time.Now,
	}
}

// RunCleanup drops expired windows every minute until ctx is done.
func (rl *RateLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, w := range rl.requests {
		if now.After(w.expiresAt) {
			delete(rl.requests, key)
		}
	}
}

// allow records a hit for key and returns the remaining budget.
func (rl *RateLimiter) allow(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.requests[key]
	if !ok || now.After(w.expiresAt) {
		w = &window{expiresAt: now.Add(rl.period)}
		rl.requests[key] = w
	}
	if w.count >= rl.limit {
		return false, 0, w.expiresAt
	}
	w.count++
	return true, rl.limit - w.count, w.expiresAt
}

func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ok, remaining, reset := rl.allow(c.IP())
		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}

// MaxBodySize limits request body size for specific endpoints
func MaxBodySize(maxBytes int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.Body()) > maxBytes {
			return apperr.Input("request body too large").WithDetail("max_size", maxBytes)
		}
		return c.Next()
	}
}
