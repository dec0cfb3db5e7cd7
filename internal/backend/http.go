package backend

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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/proctor/internal/observe"
	"github.com/MrWong99/proctor/internal/resilience"
)

// REST paths relative to the base URL. The backend routes with trailing
// slashes.
const (
	PathSessionStart = "/audio/session/start/"
	PathSessionEnd   = "/audio/session/end/"
	PathFlags        = "/flags/"
)

// Operation names used in spans and metrics.
const (
	opStartSession = "start_session"
	opEndSession   = "end_session"
	opCreateFlag   = "create_flag"
)

// maxErrorBody bounds how much of a failed response body ends up in a reason.
const maxErrorBody = 512

// HTTPConfig configures an [HTTPClient].
type HTTPConfig struct {
	// BaseURL is the API root, e.g. "https://exam.example.com/api". Required.
	BaseURL string

	// Token is sent as a Bearer token when non-empty.
	Token string

	// Timeout bounds each call. Default: 10s.
	Timeout time.Duration

	// Breaker configures the circuit breaker shared by all calls.
	Breaker resilience.CircuitBreakerConfig

	// Client is the underlying HTTP client. Default: a new [http.Client].
	Client *http.Client

	// Metrics receives request counters. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// HTTPClient is the REST implementation of [Client].
type HTTPClient struct {
	base    string
	token   string
	timeout time.Duration
	http    *http.Client
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient validates cfg and returns a ready client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: base url %q must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &HTTPClient{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		timeout: cfg.Timeout,
		http:    cfg.Client,
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
		metrics: cfg.Metrics,
	}, nil
}

// Breaker exposes the client's circuit breaker for readiness checks.
func (c *HTTPClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// StartSession implements [Client]. A 2xx response without a session id is
// reported as a failure.
func (c *HTTPClient) StartSession(ctx context.Context, req SessionRequest) SessionResult {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if res := c.call(ctx, opStartSession, PathSessionStart, "", req, &resp); !res.OK {
		return SessionResult{Result: res}
	}
	if resp.SessionID == "" {
		return SessionResult{Result: Failed("response has no session_id")}
	}
	return SessionResult{Result: Succeeded(), SessionID: resp.SessionID}
}

// EndSession implements [Client]. The response body is ignored.
func (c *HTTPClient) EndSession(ctx context.Context, req EndSessionRequest) Result {
	return c.call(ctx, opEndSession, PathSessionEnd, "", req, nil)
}

// CreateFlag implements [Client]. req.ID is sent as X-Request-ID.
func (c *HTTPClient) CreateFlag(ctx context.Context, req FlagRequest) Result {
	return c.call(ctx, opCreateFlag, PathFlags, req.ID, req, nil)
}

// call runs one POST through the breaker with a span, metrics and timeout.
func (c *HTTPClient) call(ctx context.Context, op, path, requestID string, body, out any) Result {
	ctx, span := observe.StartSpan(ctx, "backend."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("backend.path", path)),
	)
	start := time.Now()

	err := c.breaker.Execute(ctx, op, func(ctx context.Context) error {
		return c.post(ctx, path, requestID, body, out)
	})

	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			status = "circuit_open"
		}
	}
	c.metrics.RecordBackendRequest(ctx, op, status, time.Since(start).Seconds())
	observe.EndSpan(span, err)

	if err != nil {
		observe.Logger(ctx).Debug("backend call failed", "op", op, "err", err)
		return FailedErr(err)
	}
	return Succeeded()
}

func (c *HTTPClient) post(ctx context.Context, path, requestID string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("backend: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("backend: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("backend: post %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}
