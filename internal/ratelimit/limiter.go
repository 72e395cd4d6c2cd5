// Package ratelimit throttles outbound requests to the portal backend
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/config"
)

// Limiter combines a global token bucket with a minimum spacing per route
type Limiter struct {
	limiter      *rate.Limiter
	requestDelay time.Duration
	nextSlot     map[string]time.Time
	mu           sync.Mutex
}

// Config contains rate limiting configuration
type Config struct {
	// RequestsPerSecond limits the number of requests per second
	RequestsPerSecond float64

	// BurstSize allows brief bursts above the rate limit
	BurstSize int

	// MinDelay is the minimum spacing between requests to the same route
	MinDelay time.Duration
}

// DefaultConfig returns the limits used when nothing is configured
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10.0,
		BurstSize:         20,
		MinDelay:          0,
	}
}

// FromConfig maps the rate_limit config section onto a limiter Config
func FromConfig(cfg config.RateLimitConfig) Config {
	c := DefaultConfig()
	if cfg.RequestsPerSecond > 0 {
		c.RequestsPerSecond = cfg.RequestsPerSecond
	}
	if cfg.BurstSize > 0 {
		c.BurstSize = cfg.BurstSize
	}
	if cfg.MinDelay > 0 {
		c.MinDelay = cfg.MinDelay
	}
	return c
}

// NewLimiter creates a new rate limiter with the given configuration
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		requestDelay: cfg.MinDelay,
		nextSlot:     make(map[string]time.Time),
	}
}

// WaitFor blocks until both the global bucket and the per-route spacing
// allow a request to key (typically "METHOD /path"). Each caller reserves
// its slot under the lock and sleeps without it, so routes never wait on
// each other.
func (l *Limiter) WaitFor(ctx context.Context, key string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	if l.requestDelay <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	slot := now
	if next, ok := l.nextSlot[key]; ok && next.After(now) {
		slot = next
	}
	l.nextSlot[key] = slot.Add(l.requestDelay)
	l.mu.Unlock()

	if wait := slot.Sub(now); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
