// Package browser opens the identity-provider page for SSO logins.
package browser

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/config"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/logger"
)

// Opener shows a URL to the person logging in. Close releases whatever
// Open started; it is safe to call more than once.
type Opener interface {
	Open(ctx context.Context, rawURL string) error
	Close() error
}

// New returns the opener selected by browser.mode.
func New(cfg config.BrowserConfig, out io.Writer, log *logger.Logger) (Opener, error) {
	switch cfg.Mode {
	case "", "print":
		return NewPrintOpener(out), nil
	case "chrome":
		return NewChromeOpener(cfg.ExecPath, log), nil
	default:
		return nil, fmt.Errorf("unsupported browser mode: %s", cfg.Mode)
	}
}

func validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid redirect url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("refusing to open non-http redirect url %q", rawURL)
	}
	return nil
}

// PrintOpener writes the URL for the user to open themselves.
type PrintOpener struct {
	out io.Writer
}

func NewPrintOpener(out io.Writer) *PrintOpener {
	return &PrintOpener{out: out}
}

func (p *PrintOpener) Open(ctx context.Context, rawURL string) error {
	if err := validate(rawURL); err != nil {
		return err
	}
	_, err := fmt.Fprintf(p.out, "Open this URL in your browser to continue signing in:\n\n  %s\n\n", rawURL)
	return err
}

func (p *PrintOpener) Close() error { return nil }

// ChromeOpener drives a visible Chrome window through chromedp. The window
// stays open until Close or until the context passed to Open ends.
type ChromeOpener struct {
	execPath string
	timeout  time.Duration
	logger   *logger.Logger

	mu      sync.Mutex
	cancels []context.CancelFunc
}

func NewChromeOpener(execPath string, log *logger.Logger) *ChromeOpener {
	if log == nil {
		log = logger.NewNop()
	}
	return &ChromeOpener{
		execPath: execPath,
		timeout:  30 * time.Second,
		logger:   log.WithComponent("browser"),
	}
}

func (c *ChromeOpener) Open(ctx context.Context, rawURL string) error {
	if err := validate(rawURL); err != nil {
		return err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", false),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("start-maximized", true),
	)
	if c.execPath != "" {
		opts = append(opts, chromedp.ExecPath(c.execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	c.mu.Lock()
	c.cancels = append(c.cancels, browserCancel, allocCancel)
	c.mu.Unlock()

	// Start the browser on browserCtx itself; a first Run on a timeout
	// context would close the window when the deadline fires.
	if err := chromedp.Run(browserCtx); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	navCtx, navCancel := context.WithTimeout(browserCtx, c.timeout)
	defer navCancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(rawURL)); err != nil {
		c.logger.Warnw("Failed to open SSO window", "error", err)
		_ = c.Close()
		return fmt.Errorf("failed to open browser: %w", err)
	}

	c.logger.Debugw("Opened SSO window", "host", hostOf(rawURL))
	return nil
}

func (c *ChromeOpener) Close() error {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
