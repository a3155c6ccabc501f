// Copyright 2024 Gran Dzilam Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package upstream is the resilient JSON client for the generative AI provider.
// It bounds retries, enforces a per-attempt timeout and maps every failure to
// a small closed error taxonomy.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/gran-dzilam/internal/metrics"
	"github.com/your-org/gran-dzilam/internal/resilience"
)

const (
	// DefaultTimeout is the per-attempt timeout used when a Request leaves it unset
	DefaultTimeout = 60 * time.Second
	// DefaultMaxAttempts is the total number of attempts, first one included
	DefaultMaxAttempts = resilience.DefaultMaxAttempts
	// BaseRetryDelay is the wait before the first retry; it doubles per retry
	BaseRetryDelay = resilience.DefaultBaseDelay
	// maxResponseBytes bounds how much of a response body is read
	maxResponseBytes = 32 << 20
)

// Doer is the HTTP capability the client sends requests through. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes a single outbound call
type Request struct {
	URL         string
	APIKey      string
	Body        any
	Timeout     time.Duration
	MaxAttempts int
}

// Client sends JSON requests to the AI provider
type Client struct {
	doer           Doer
	logger         *zap.Logger
	metrics        *metrics.Metrics
	service        string
	backoff        resilience.BackoffConfig
	defaultTimeout time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records attempts and failures under the given service label
func WithMetrics(m *metrics.Metrics, service string) Option {
	return func(c *Client) {
		c.metrics = m
		c.service = service
	}
}

// WithSleep replaces the wait between attempts, mainly for tests
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.backoff.Sleep = sleep
	}
}

// WithDefaultTimeout sets the per-attempt timeout for requests that leave it unset
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.defaultTimeout = timeout
		}
	}
}

// NewClient creates a client sending through doer; nil uses http.DefaultClient
func NewClient(doer Doer, opts ...Option) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}

	c := &Client{
		doer:           doer,
		logger:         zap.NewNop(),
		service:        "upstream",
		backoff:        resilience.DefaultBackoffConfig(),
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Do posts req.Body as JSON and decodes a 2xx response into T.
//
// Attempts that time out, fail at the network level or answer 408/5xx are
// retried up to req.MaxAttempts with a 300ms doubling backoff; any other
// non-2xx status fails at once. Every failure is returned as *Error, except a
// cancelled ctx, whose error is returned unchanged. An expired ctx deadline is
// reported as a timeout.
func Do[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T

	payload, err := json.Marshal(req.Body)
	if err != nil {
		return out, &Error{
			Kind:    KindInvalidPromptOrFormat,
			Message: "request body is not JSON-serializable",
			Err:     err,
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	config := c.backoff
	config.MaxAttempts = req.MaxAttempts
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	config.RetryOnFunc = func(err error) bool {
		var upstreamErr *Error
		return errors.As(err, &upstreamErr) && upstreamErr.Retryable()
	}

	logger := c.logger.With(zap.String("service", c.service), zap.String("url", req.URL))
	start := time.Now()

	var status int
	var body []byte
	err = resilience.WithExponentialBackoff(ctx, logger, config, func(ctx context.Context, attempt int) error {
		c.metrics.RecordUpstreamAttempt(c.service, attempt)

		logger.Debug("Sending upstream request",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", config.MaxAttempts),
			zap.Duration("timeout", timeout),
			zap.Int("payload_bytes", len(payload)))

		s, b, err := c.attempt(ctx, req, payload, timeout)
		if err != nil {
			var upstreamErr *Error
			if errors.As(err, &upstreamErr) && upstreamErr.Retryable() {
				logger.Warn("Retryable upstream error encountered",
					zap.Int("attempt", attempt),
					zap.Int("status_code", upstreamErr.Status),
					zap.Error(err))
			}
			return err
		}

		status, body = s, b
		return nil
	})
	if err != nil {
		var upstreamErr *Error
		if !errors.As(err, &upstreamErr) && errors.Is(err, context.DeadlineExceeded) {
			err = timeoutError(fmt.Errorf("caller deadline exceeded: %w", err))
		}
		c.recordFailure(logger, err, time.Since(start))
		return out, err
	}

	if err := json.Unmarshal(body, &out); err != nil {
		decodeErr := &Error{
			Kind:    KindUpstream,
			Status:  status,
			Message: "upstream response is not valid JSON",
			Err:     err,
		}
		c.recordFailure(logger, decodeErr, time.Since(start))
		return out, decodeErr
	}

	c.metrics.RecordUpstreamResult(c.service, "", time.Since(start))
	logger.Debug("Upstream request completed",
		zap.Int("status_code", status),
		zap.Int("response_bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	return out, nil
}

type attemptResult struct {
	status int
	body   []byte
	err    error
}

// attempt performs one request raced against its own timer. The timer and the
// request context are released on every return path.
func (c *Client) attempt(ctx context.Context, req Request, payload []byte, timeout time.Duration) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, req.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, &Error{
			Kind:    KindUpstream,
			Status:  StatusNetwork,
			Message: "could not build upstream request",
			Err:     err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	// Buffered so the sender never blocks once the attempt has given up
	done := make(chan attemptResult, 1)
	go func() {
		resp, err := c.doer.Do(httpReq)
		if err != nil {
			done <- attemptResult{err: err}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		done <- attemptResult{status: resp.StatusCode, body: body, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return 0, nil, timeoutError(r.err)
			}
			return 0, nil, networkError(r.err)
		}
		if r.status < 200 || r.status > 299 {
			return r.status, nil, classify(r.status, r.body)
		}
		return r.status, r.body, nil

	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, timeoutError(fmt.Errorf("no response within %s: %w", timeout, attemptCtx.Err()))
	}
}

func (c *Client) recordFailure(logger *zap.Logger, err error, elapsed time.Duration) {
	var upstreamErr *Error
	if !errors.As(err, &upstreamErr) {
		logger.Info("Upstream request abandoned", zap.Error(err), zap.Duration("elapsed", elapsed))
		c.metrics.RecordUpstreamResult(c.service, "CANCELED", elapsed)
		return
	}

	logger.Error("Upstream request failed",
		zap.String("kind", string(upstreamErr.Kind)),
		zap.Int("status_code", upstreamErr.Status),
		zap.String("upstream_type", upstreamErr.Type),
		zap.String("upstream_code", upstreamErr.Code),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))
	c.metrics.RecordUpstreamResult(c.service, string(upstreamErr.Kind), elapsed)
}
