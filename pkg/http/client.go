// Package http provides a reusable HTTP client with resilience features
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"arbibot/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// APIError represents a non-2xx response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer authenticates a request before it is sent. Venues that sign the
// query string rewrite req.URL.RawQuery, header-based venues add headers.
type Signer interface {
	SignRequest(req *http.Request) error
}

// Options tunes the resilience pipeline. Zero values fall back to defaults.
type Options struct {
	Timeout           time.Duration
	MaxRetries        int
	RetryMinDelay     time.Duration
	RetryMaxDelay     time.Duration
	BreakerFailures   uint
	BreakerWindow     uint
	BreakerDelay      time.Duration
	RequestsPerSecond float64
	Burst             int
}

// DefaultOptions mirrors the venue-agnostic policy used by every REST adapter
func DefaultOptions() Options {
	return Options{
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		RetryMinDelay:   100 * time.Millisecond,
		RetryMaxDelay:   2 * time.Second,
		BreakerFailures: 5,
		BreakerWindow:   10,
		BreakerDelay:    10 * time.Second,
	}
}

// Client is a wrapper around http.Client with resilience
type Client struct {
	client   *http.Client
	baseURL  string
	signer   Signer
	limiter  *rate.Limiter
	pipeline failsafe.Executor[*http.Response]

	// OTel
	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new HTTP client with default resilience policies
func NewClient(baseURL string, timeout time.Duration, signer Signer) *Client {
	opts := DefaultOptions()
	opts.Timeout = timeout
	return NewClientWithOptions(baseURL, signer, opts)
}

// NewClientWithOptions creates a client with explicit retry, breaker and pacing settings
func NewClientWithOptions(baseURL string, signer Signer, opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryMinDelay <= 0 {
		opts.RetryMinDelay = def.RetryMinDelay
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = def.RetryMaxDelay
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = def.BreakerFailures
	}
	if opts.BreakerWindow < opts.BreakerFailures {
		opts.BreakerWindow = opts.BreakerFailures * 2
	}
	if opts.BreakerDelay <= 0 {
		opts.BreakerDelay = def.BreakerDelay
	}

	// Order placement must not be retried blindly: only idempotent reads and
	// throttled requests are replayed.
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				return true
			}
			return resp.StatusCode >= 500 && resp.Request != nil && resp.Request.Method == http.MethodGet
		}).
		WithBackoff(opts.RetryMinDelay, opts.RetryMaxDelay).
		WithMaxRetries(opts.MaxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(opts.BreakerFailures, opts.BreakerWindow).
		WithDelay(opts.BreakerDelay).
		Build()

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	tracer := telemetry.GetTracer("http-client")
	meter := telemetry.GetMeter("http-client")

	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		client:      &http.Client{Timeout: opts.Timeout},
		baseURL:     baseURL,
		signer:      signer,
		limiter:     limiter,
		pipeline:    failsafe.With[*http.Response](retryPolicy, breaker),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// BaseURL returns the configured endpoint root
func (c *Client) BaseURL() string { return c.baseURL }

// CloseIdleConnections releases pooled keep-alive connections
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.withQuery(ctx, http.MethodGet, path, params)
}

// PostQuery sends a POST whose parameters travel in the query string
func (c *Client) PostQuery(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.withQuery(ctx, http.MethodPost, path, params)
}

// Delete sends a DELETE request
func (c *Client) Delete(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.withQuery(ctx, http.MethodDelete, path, params)
}

// Post sends a POST request with a JSON body
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	build := func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}
	return c.do(ctx, http.MethodPost, path, build)
}

func (c *Client) withQuery(ctx context.Context, method, path string, params map[string]string) ([]byte, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.URL.RawQuery = q.Encode()
		return req, nil
	}
	return c.do(ctx, method, path, build)
}

// do runs build→sign→send inside the pipeline. Requests are rebuilt per
// attempt so timestamps and signatures stay fresh on retries.
func (c *Client) do(ctx context.Context, method, path string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", c.baseURL+path),
		),
	)
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	)

	resp, err := c.pipeline.WithContext(ctx).GetWithExecution(func(_ failsafe.Execution[*http.Response]) (*http.Response, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if c.signer != nil {
			if err := c.signer.SignRequest(req); err != nil {
				return nil, fmt.Errorf("failed to sign request: %w", err)
			}
		}
		return c.client.Do(req)
	})

	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
			attribute.String("error", "pipeline_failed"),
		))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
			attribute.Int("status", resp.StatusCode),
		))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return body, nil
}
