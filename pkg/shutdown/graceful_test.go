package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_ReverseOrderOnce(t *testing.T) {
	h := NewHandler(nil)

	var order []int
	h.RegisterShutdownFunc(func() error { order = append(order, 1); return nil })
	h.RegisterShutdownFunc(func() error { order = append(order, 2); return errors.New("logged, not fatal") })
	h.RegisterShutdownFunc(func() error { order = append(order, 3); return nil })

	h.Shutdown()
	h.Shutdown()

	assert.Equal(t, []int{3, 2, 1}, order)
	assert.NoError(t, h.ShutdownWithTimeout(time.Millisecond))
	assert.Len(t, order, 3)
}

func TestShutdownWithTimeout(t *testing.T) {
	h := NewHandler(nil)
	h.RegisterShutdownFunc(func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	err := h.ShutdownWithTimeout(10 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown timeout")

	fast := NewHandler(nil)
	assert.NoError(t, fast.ShutdownWithTimeout(time.Second))
}

func TestContext_ShutdownCancels(t *testing.T) {
	h := NewHandler(nil)
	ctx, stop := h.Context(context.Background())
	defer stop()

	h.Shutdown()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by Shutdown")
	}
}

func TestContext_StopReleases(t *testing.T) {
	h := NewHandler(nil)
	ran := false
	h.RegisterShutdownFunc(func() error { ran = true; return nil })
	ctx, stop := h.Context(context.Background())

	stop()
	stop()

	assert.Error(t, ctx.Err())
	assert.False(t, ran, "stop must not run the shutdown functions")
}
