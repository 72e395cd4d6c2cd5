package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/logger"
)

// Handler runs cleanup functions once, on a signal, on context end or on
// an explicit Shutdown.
type Handler struct {
	shutdownFuncs []func() error
	mu            sync.Mutex
	once          sync.Once
	done          chan struct{}
	logger        *logger.Logger
	signals       []os.Signal
}

// NewHandler creates a new graceful shutdown handler
func NewHandler(log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		shutdownFuncs: make([]func() error, 0),
		done:          make(chan struct{}),
		logger:        log.WithComponent("shutdown"),
		signals:       []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (h *Handler) RegisterShutdownFunc(fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownFuncs = append(h.shutdownFuncs, fn)
}

// Context returns a child of parent that is cancelled when SIGINT or
// SIGTERM arrives; the registered functions run at that point. Call stop
// to release the signal handler once the work is done.
func (h *Handler) Context(parent context.Context) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	h.RegisterShutdownFunc(func() error {
		cancel()
		return nil
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, h.signals...)
	quit := make(chan struct{})

	go func() {
		select {
		case sig := <-sigChan:
			h.logger.Infow("Received signal, cancelling", "signal", sig.String())
			h.Shutdown()
		case <-quit:
		case <-ctx.Done():
		}
	}()

	var stopOnce sync.Once
	return ctx, func() {
		stopOnce.Do(func() {
			signal.Stop(sigChan)
			close(quit)
			cancel()
		})
	}
}

// Shutdown executes the registered functions in reverse order. Only the
// first call does anything.
func (h *Handler) Shutdown() {
	h.once.Do(func() {
		h.mu.Lock()
		funcs := append([]func() error(nil), h.shutdownFuncs...)
		h.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				h.logger.Errorw("Error during shutdown", "error", err)
			}
		}
		close(h.done)
	})
}

// ShutdownWithTimeout runs Shutdown and gives up waiting after timeout.
func (h *Handler) ShutdownWithTimeout(timeout time.Duration) error {
	go h.Shutdown()

	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}
