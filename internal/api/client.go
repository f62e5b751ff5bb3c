package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"
	"healthvoice/pkg/resilience"

	"go.uber.org/zap"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultRateLimit = 10
	breakerFailures  = 5
	breakerCooldown  = 30 * time.Second
	maxResponseBytes = 10 << 20
)

// TokenSource supplies the bearer credential for protected endpoints
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Observer receives per-request timings
type Observer interface {
	ObserveAPI(endpoint, status string, elapsed time.Duration)
}

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit int
}

// Client talks to the assistant backend over HTTP
type Client struct {
	baseURL  string
	client   *http.Client
	breaker  *resilience.CircuitBreaker
	limiter  *resilience.RateLimiter
	tokens   TokenSource
	observer Observer
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: resilience.NewCircuitBreaker(breakerFailures, breakerCooldown),
		limiter: resilience.NewRateLimiter(cfg.RateLimit, time.Second),
	}
}

// WithTokenSource returns a copy of the client that authenticates protected
// calls with src. The copy shares the breaker and the rate limiter.
func (c *Client) WithTokenSource(src TokenSource) *Client {
	clone := *c
	clone.tokens = src
	return &clone
}

// WithObserver returns a copy of the client reporting timings to o
func (c *Client) WithObserver(o Observer) *Client {
	clone := *c
	clone.observer = o
	return &clone
}

type request struct {
	method      string
	path        string
	route       string
	contentType string
	body        []byte
	auth        bool
}

func jsonRequest(method, path string, payload any, auth bool) (request, error) {
	req := request{method: method, path: path, auth: auth}
	if payload == nil {
		return req, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return req, fmt.Errorf("failed to marshal request: %w", err)
	}
	req.body = body
	req.contentType = "application/json"
	return req, nil
}

// do executes req and decodes the JSON response into out. A 401 on a
// protected call invalidates the token and is retried once with a fresh one.
func (c *Client) do(ctx context.Context, req request, out any) error {
	if req.auth && c.tokens == nil {
		return fmt.Errorf("%s requires a token source: %w", req.path, model.ErrRemoteService)
	}

	err := c.attempt(ctx, req, out)

	var apiErr *Error
	if req.auth && errors.As(err, &apiErr) && apiErr.Unauthorized() {
		logger.Info("Token rejected, re-authenticating", zap.String("endpoint", req.path))
		c.tokens.Invalidate()
		err = c.attempt(ctx, req, out)
	}

	return err
}

func (c *Client) attempt(ctx context.Context, req request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var token string
	if req.auth {
		t, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire token: %w", err)
		}
		token = t
	}

	err := c.breaker.Execute(func() error {
		return c.send(ctx, req, token, out)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%s: %w: %w", req.path, model.ErrRemoteService, err)
	}
	return err
}

func (c *Client) send(ctx context.Context, req request, token string, out any) error {
	route := req.route
	if route == "" {
		route = req.path
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		// a superseded or closed caller is not a backend failure
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.observe(route, "canceled", start)
			return resilience.Permanent(fmt.Errorf("%s: %w", req.path, ctxErr))
		}
		c.observe(route, "error", start)
		return fmt.Errorf("%s: %w: %w", req.path, model.ErrRemoteService, err)
	}
	defer resp.Body.Close()
	c.observe(route, strconv.Itoa(resp.StatusCode), start)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return resilience.Permanent(fmt.Errorf("%s: %w", req.path, ctxErr))
		}
		return fmt.Errorf("failed to read response: %w: %w", model.ErrRemoteService, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{
			Endpoint:   route,
			StatusCode: resp.StatusCode,
			Detail:     parseDetail(respBody),
		}
		logger.Debug("Backend request failed",
			zap.String("endpoint", req.path),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", apiErr.Detail))
		if resp.StatusCode < 500 {
			return resilience.Permanent(apiErr)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resilience.Permanent(fmt.Errorf("failed to unmarshal %s response: %w: %w", req.path, model.ErrRemoteService, err))
	}
	return nil
}

func (c *Client) observe(endpoint, status string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveAPI(endpoint, status, time.Since(start))
	}
}
