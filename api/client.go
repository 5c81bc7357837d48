// Package api is a client for the TC2000 Fantasy REST backend. Client
// implements auth.Authenticator (GET /me) and auth.Issuer (POST /login) so it
// plugs straight into a session.Manager.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/paddock/internal/logctx"
	"github.com/google/uuid"
)

// DefaultTimeout bounds each request when no http.Client is supplied.
const DefaultTimeout = 15 * time.Second

// RequestIDHeader carries a per-request UUID for correlating backend logs.
const RequestIDHeader = "X-Request-ID"

// maxBody caps how much of a response body the client reads.
const maxBody = 8 << 20

var jsonMediaType = contenttype.NewMediaType("application/json")

// TokenSource supplies the bearer token for authenticated calls.
// *session.Manager satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Client talks to one backend.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource
	log    *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// WithTokenSource enables the bearer-authenticated endpoints.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: base url %q must be http or https", baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: DefaultTimeout},
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logctx.Wrap(c.log)
	return c, nil
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string { return c.base.String() }

// URL resolves path against the backend root.
func (c *Client) URL(path string) string {
	return c.base.String() + "/" + strings.TrimLeft(path, "/")
}

// HTTPClient returns the underlying http.Client.
func (c *Client) HTTPClient() *http.Client { return c.http }

type call struct {
	method string
	path   string
	// bearer is the explicit token; when empty and authed is set the token
	// source is consulted.
	bearer string
	authed bool
	in     any
	out    any
}

func (c *Client) do(ctx context.Context, cl call) error {
	var body io.Reader
	if cl.in != nil {
		b, err := json.Marshal(cl.in)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", cl.method, cl.path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.URL(cl.path), body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", cl.method, cl.path, err)
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token := cl.bearer
	if token == "" && cl.authed {
		if c.tokens == nil {
			return ErrNoTokenSource
		}
		if token, err = c.tokens.Token(ctx); err != nil {
			return err
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{RequestID: reqID, Method: cl.method, Path: cl.path})
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.DebugContext(ctx, "api.request.fail", slog.String("err", err.Error()))
		return fmt.Errorf("%s %s: %w", cl.method, cl.path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", cl.method, cl.path, err)
	}
	c.log.DebugContext(ctx, "api.request.done",
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: cl.method, Path: cl.path, StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			se.Message = eb.Error
		}
		return se
	}

	if cl.out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if ct := contenttype.NewMediaType(resp.Header.Get("Content-Type")); !ct.Matches(jsonMediaType) {
		return fmt.Errorf("%s %s: %w %q", cl.method, cl.path, ErrUnexpectedContentType, resp.Header.Get("Content-Type"))
	}
	if err := json.Unmarshal(raw, cl.out); err != nil {
		return fmt.Errorf("%s %s: decode body: %w", cl.method, cl.path, err)
	}
	return nil
}

// isTransport reports whether err came from below HTTP: dialing, TLS, a
// timeout or a cut connection.
func isTransport(err error) bool {
	var se *StatusError
	return !errors.As(err, &se)
}
