// Package api is the HTTP client wrapper for the portal backend. It attaches
// the bearer credential of the active session, ends that session when the
// backend answers 401/403, and exposes typed methods per endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/config"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/logger"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/telemetry"
)

const sessionTokenHeader = "X-Session-Token"

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

// Credentials supplies the bearer token and is told to forget it when the
// backend rejects it. *session.Store satisfies it.
type Credentials interface {
	Token() string
	Clear(ctx context.Context) error
}

type Client struct {
	baseURL   *url.URL
	http      *http.Client
	limiter   *ratelimit.Limiter
	logger    *logger.Logger
	telemetry telemetry.Telemetry
	creds     Credentials
	userAgent string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithTelemetry(t telemetry.Telemetry) Option {
	return func(c *Client) { c.telemetry = t }
}

// WithCredentials binds the client to a session. Without it requests are
// sent anonymously, which is what the login endpoints need.
func WithCredentials(cr Credentials) Option {
	return func(c *Client) { c.creds = cr }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:   u,
		userAgent: "portalctl/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.NewClient(httpclient.DefaultConfig())
	}
	if c.limiter == nil {
		c.limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}
	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	if c.telemetry == nil {
		c.telemetry = telemetry.NewNoop()
	}
	c.logger = c.logger.WithComponent("api")
	return c, nil
}

// NewFromConfig builds a client from the api and rate_limit config sections.
func NewFromConfig(cfg *config.Config, log *logger.Logger, opts ...Option) (*Client, error) {
	base := []Option{
		WithHTTPClient(httpclient.NewClient(httpclient.FromAPIConfig(cfg.API))),
		WithLimiter(ratelimit.NewLimiter(ratelimit.FromConfig(cfg.RateLimit))),
		WithLogger(log),
	}
	if cfg.API.UserAgent != "" {
		base = append(base, WithUserAgent(cfg.API.UserAgent))
	}
	return New(cfg.API.BaseURL, append(base, opts...)...)
}

// WithSession returns a copy of c bound to other credentials. The copy
// shares the transport and limiter.
func (c *Client) WithSession(cr Credentials) *Client {
	cp := *c
	cp.creds = cr
	return &cp
}

func (c *Client) BaseURL() string { return c.baseURL.String() }

type request struct {
	method       string
	path         string
	query        url.Values
	body         interface{}
	sessionToken string
	anonymous    bool
}

func (c *Client) endpoint(path string, query url.Values) string {
	// path segments arrive already escaped
	u := c.baseURL.JoinPath(strings.TrimLeft(path, "/"))
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends r and decodes a 2xx JSON body into out (when non-nil).
func (c *Client) do(ctx context.Context, r request, out interface{}) error {
	var body io.Reader
	if r.body != nil {
		buf, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s: %w", r.method, r.path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(r.method, c.endpoint(r.path, r.query), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.sessionToken != "" {
		req.Header.Set(sessionTokenHeader, r.sessionToken)
	}

	bearer := ""
	if c.creds != nil && !r.anonymous {
		bearer = c.creds.Token()
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	if err := c.limiter.WaitFor(ctx, r.method+" "+r.path); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := httpclient.DoWithContext(ctx, c.http, req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.logger.Debugw("Backend request failed", "method", r.method, "path", r.path, "error", err)
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, r.method, r.path, err)
	}
	defer httpclient.CloseBody(resp)

	duration := time.Since(start)
	c.logger.LogHTTPRequest(ctx, r.method, r.path, resp.StatusCode, duration)
	c.telemetry.RecordAPIRequest(r.method, r.path, resp.StatusCode, duration)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			Status:  resp.StatusCode,
			Message: parseErrorMessage(raw),
			Method:  r.method,
			Path:    r.path,
		}
		if bearer != "" && apiErr.IsUnauthorized() {
			c.logger.Warnw("Backend rejected session, logging out", "status", resp.StatusCode, "path", r.path)
			if clearErr := c.creds.Clear(ctx); clearErr != nil {
				return errors.Join(apiErr, fmt.Errorf("failed to clear session: %w", clearErr))
			}
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode %s %s response: %w", r.method, r.path, err)
	}
	return nil
}
