package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/config"
)

func TestNewLimiter(t *testing.T) {
	cfg := DefaultConfig()
	limiter := NewLimiter(cfg)
	require.NotNil(t, limiter)
	assert.Equal(t, cfg.MinDelay, limiter.requestDelay)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RateLimitConfig{RequestsPerSecond: 3, BurstSize: 1, MinDelay: 250 * time.Millisecond})
	assert.Equal(t, 3.0, cfg.RequestsPerSecond)
	assert.Equal(t, 1, cfg.BurstSize)
	assert.Equal(t, 250*time.Millisecond, cfg.MinDelay)

	defaults := FromConfig(config.RateLimitConfig{})
	assert.Equal(t, DefaultConfig(), defaults)
}

func TestLimiter_GlobalBucket(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 2})
	ctx := context.Background()

	// burst
	start := time.Now()
	require.NoError(t, limiter.WaitFor(ctx, "GET /targets"))
	require.NoError(t, limiter.WaitFor(ctx, "GET /queue"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	// third request waits roughly 1/10s
	start = time.Now()
	require.NoError(t, limiter.WaitFor(ctx, "GET /targets"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_WaitFor(t *testing.T) {
	limiter := NewLimiter(Config{
		RequestsPerSecond: 100,
		BurstSize:         10,
		MinDelay:          50 * time.Millisecond,
	})
	ctx := context.Background()
	route := "GET /sso/auth/session/s1"

	start := time.Now()
	require.NoError(t, limiter.WaitFor(ctx, route))
	assert.Less(t, time.Since(start), 20*time.Millisecond)

	start = time.Now()
	require.NoError(t, limiter.WaitFor(ctx, route))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	start = time.Now()
	require.NoError(t, limiter.WaitFor(ctx, "POST /targets"))
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestLimiter_SpacingDoesNotBlockOtherRoutes(t *testing.T) {
	limiter := NewLimiter(Config{
		RequestsPerSecond: 1000,
		BurstSize:         10,
		MinDelay:          300 * time.Millisecond,
	})
	ctx := context.Background()
	route := "GET /targets"
	require.NoError(t, limiter.WaitFor(ctx, route))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, limiter.WaitFor(ctx, route))
	}()

	// let the goroutine start sleeping for its slot
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, limiter.WaitFor(ctx, "GET /queue"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	wg.Wait()
}

func TestLimiter_ConcurrentCallersGetDistinctSlots(t *testing.T) {
	limiter := NewLimiter(Config{
		RequestsPerSecond: 1000,
		BurstSize:         10,
		MinDelay:          40 * time.Millisecond,
	})
	ctx := context.Background()
	route := "POST /queue"

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, limiter.WaitFor(ctx, route))
		}()
	}
	wg.Wait()

	// slots at 0, 40ms and 80ms
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1000, BurstSize: 10, MinDelay: time.Minute})
	require.NoError(t, limiter.WaitFor(context.Background(), "GET /targets"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, limiter.WaitFor(ctx, "GET /targets"), context.DeadlineExceeded)

	bucket := NewLimiter(Config{RequestsPerSecond: 0.1, BurstSize: 1})
	cancelled, stop := context.WithCancel(context.Background())
	require.NoError(t, bucket.WaitFor(cancelled, "GET /targets"))
	stop()
	assert.Error(t, bucket.WaitFor(cancelled, "GET /targets"))
}
