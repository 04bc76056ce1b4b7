package backend

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

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
)

// Endpoint maps an operation onto HTTP.
type Endpoint struct {
	Method string
	Path   string
	// Idempotent marks a write that is safe to repeat. Reads always are.
	Idempotent bool
}

// retryable reports whether a failed call may be sent again.
func (ep Endpoint) retryable() bool {
	switch ep.Method {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return ep.Idempotent
}

// DefaultEndpoints is the REST layout of the booking API. Paths may carry
// ${param} placeholders, filled from the call's params.
var DefaultEndpoints = map[string]Endpoint{
	OpLookupCustomer:   {http.MethodGet, "/api/v1/customers/lookup", true},
	OpRegisterCustomer: {http.MethodPost, "/api/v1/customers", false},
	OpListVehicles:     {http.MethodGet, "/api/v1/customers/${customer_id}/vehicles", true},
	OpListServices:     {http.MethodGet, "/api/v1/services", true},
	OpListSlots:        {http.MethodGet, "/api/v1/slots", true},
	OpCalculatePrice:   {http.MethodPost, "/api/v1/bookings/price", true},
	OpCreateBooking:    {http.MethodPost, "/api/v1/bookings", false},
}

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 10
	defaultBurst     = 5
	maxErrorBody     = 4096
)

// HTTPClient calls the booking API over HTTP.
type HTTPClient struct {
	baseURL   string
	token     string
	endpoints map[string]Endpoint
	http      *http.Client
	limiter   *rate.Limiter
	retry     flowerrors.RetryConfig
	logger    *slog.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithToken sends "Authorization: token <token>" on every request.
func WithToken(token string) HTTPOption {
	return func(c *HTTPClient) { c.token = token }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero or less disables
// the limiter.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(c *HTTPClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg flowerrors.RetryConfig) HTTPOption {
	return func(c *HTTPClient) { c.retry = cfg }
}

// WithEndpoints overrides individual operation endpoints.
func WithEndpoints(endpoints map[string]Endpoint) HTTPOption {
	return func(c *HTTPClient) {
		for op, ep := range endpoints {
			c.endpoints[op] = ep
		}
	}
}

// WithHTTPLogger sets the client logger.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewHTTPClient creates a client for the API at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		endpoints: make(map[string]Endpoint, len(DefaultEndpoints)),
		http:      &http.Client{Timeout: defaultTimeout},
		limiter:   rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		retry:     flowerrors.DefaultRetry,
		logger:    slog.Default(),
	}
	for op, ep := range DefaultEndpoints {
		c.endpoints[op] = ep
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do implements Backend. Transient failures of idempotent endpoints are
// retried per the client's retry policy; other writes are sent once. Every
// write carries an Idempotency-Key that is stable across retries. The error
// returned is always one of the collaborator types or the context's error.
func (c *HTTPClient) Do(ctx context.Context, op string, params Params) (Response, error) {
	ep, ok := c.endpoints[op]
	if !ok {
		return nil, &UnknownOperationError{Op: op}
	}

	var key string
	if ep.Method != http.MethodGet && ep.Method != http.MethodHead {
		key = uuid.NewString()
	}

	retry := c.retry
	if !ep.retryable() {
		retry = flowerrors.NoRetry
	}
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Warn("backend call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	res := flowerrors.WithRetryContext(ctx, retry, func(ctx context.Context) (Response, error) {
		return c.once(ctx, op, ep, params, key)
	})
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value, nil
}

func (c *HTTPClient) once(ctx context.Context, op string, ep Endpoint, params Params, key string) (Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := c.newRequest(ctx, ep, params)
	if err != nil {
		return nil, err
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &flowerrors.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, flowerrors.FromStatus(resp.StatusCode, op, errorMessage(body, resp.Status))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return Response{}, nil
		}
		return nil, &flowerrors.ServerError{StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	// Frappe-style envelopes carry the payload under "message".
	if inner, ok := out["message"].(map[string]any); ok && len(out) == 1 {
		out = inner
	}
	return out, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, ep Endpoint, params Params) (*http.Request, error) {
	path, params, err := expandPath(ep.Path, params)
	if err != nil {
		return nil, err
	}
	target := c.baseURL + path
	var body io.Reader
	if ep.Method == http.MethodGet || ep.Method == http.MethodDelete {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, fmt.Sprint(v))
		}
		if len(q) > 0 {
			target += "?" + q.Encode()
		}
	} else {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, &flowerrors.ValidationError{Message: "encode params: " + err.Error()}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, target, body)
	if err != nil {
		return nil, &flowerrors.ValidationError{Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	return req, nil
}

// errorMessage pulls "message" or "error" out of a JSON error body.
func errorMessage(body []byte, fallback string) string {
	var payload map[string]any
	if json.Unmarshal(body, &payload) == nil {
		for _, key := range []string{"message", "error", "exc"} {
			if s, ok := payload[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fallback
}
