// Package search provides a client for the Elasticsearch/OpenSearch _search API.
package search

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/metrics"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/telemetry"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
)

// Client implements HTTP interaction with an Elasticsearch or OpenSearch cluster.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	username   string
	password   string
	apiKey     string
	maxRetries int
	newBackOff func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithBasicAuth authenticates every request with a username and password.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) { c.username, c.password = username, password }
}

// WithAPIKey authenticates with an Elasticsearch API key. It wins over basic auth.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithMaxRetries sets how many times a retryable failure is retried. Default: 3.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithMetrics records request counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBackOff replaces the exponential retry schedule.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

// NewClient creates a new search client
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:     logger,
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusError is a non-2xx response.
type statusError struct {
	status int
	detail string
}

func (e *statusError) Error() string {
	if e.detail == "" {
		return fmt.Sprintf("unexpected status code from search backend: %d", e.status)
	}
	return fmt.Sprintf("search backend returned %d: %s", e.status, e.detail)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func (c *Client) setAuth(req *http.Request) {
	switch {
	case c.apiKey != "":
		req.Header.Set("Authorization", "ApiKey "+c.apiKey)
	case c.username != "":
		token := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
		req.Header.Set("Authorization", "Basic "+token)
	}
}

// doRequest performs one HTTP round trip, retrying on 429, 5xx and transport
// errors. signal labels the request in metrics.
func (c *Client) doRequest(ctx context.Context, signal, method, apiPath string, params url.Values, body []byte) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + apiPath
	if params != nil {
		u.RawQuery = params.Encode()
	}

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.setAuth(req)

		started := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.metrics.ObserveBackend(signal, 0, time.Since(started))
			if ctx.Err() != nil {
				return nil, backoff.Permanent(fmt.Errorf("search request failed: %w", err))
			}
			c.logger.Warn("Search request failed", "signal", signal, "attempt", attempt, "error", err)
			return nil, fmt.Errorf("search request failed: %w", err)
		}
		defer resp.Body.Close()
		c.metrics.ObserveBackend(signal, resp.StatusCode, time.Since(started))

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &statusError{status: resp.StatusCode, detail: errorDetail(data)}
			if retryable(resp.StatusCode) {
				c.logger.Warn("Retryable search response", "signal", signal, "attempt", attempt, "status", resp.StatusCode)
				return nil, serr
			}
			return nil, backoff.Permanent(serr)
		}
		return data, nil
	}

	data, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
	)
	if err != nil {
		return nil, models.BackendError(err, "%s query failed", signal)
	}
	return data, nil
}

// errorDetail extracts "type: reason" from an Elasticsearch error payload.
func errorDetail(data []byte) string {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Error) == 0 {
		s := strings.TrimSpace(string(data))
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	var detail ErrorCause
	if err := json.Unmarshal(payload.Error, &detail); err == nil && detail.Type != "" {
		if len(detail.RootCause) > 0 && detail.RootCause[0].Reason != "" {
			return fmt.Sprintf("%s: %s", detail.RootCause[0].Type, detail.RootCause[0].Reason)
		}
		return fmt.Sprintf("%s: %s", detail.Type, detail.Reason)
	}
	var msg string
	if err := json.Unmarshal(payload.Error, &msg); err == nil {
		return msg
	}
	return string(payload.Error)
}

// Search runs a query against an index pattern. Missing indices match nothing
// instead of failing.
func (c *Client) Search(ctx context.Context, signal, index string, req *Request) (*Response, error) {
	ctx, span := telemetry.Start(ctx, "search."+signal,
		attribute.String("search.index", index),
		attribute.Int("search.size", req.Size),
	)
	resp, err := c.search(ctx, signal, index, req)
	if resp != nil {
		span.SetAttributes(attribute.Int("search.hits", len(resp.Hits.Hits)))
	}
	telemetry.End(span, err)
	return resp, err
}

func (c *Client) search(ctx context.Context, signal, index string, req *Request) (*Response, error) {
	body, err := json.Marshal(req.Body())
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	params := url.Values{
		"ignore_unavailable": []string{"true"},
		"allow_no_indices":   []string{"true"},
	}
	data, err := c.doRequest(ctx, signal, http.MethodPost, "/"+index+"/_search", params, body)
	if err != nil {
		c.logger.Error("Failed to search", "signal", signal, "index", index, "error", err)
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var resp Response
	if err := dec.Decode(&resp); err != nil {
		return nil, models.BackendError(err, "malformed %s search response", signal)
	}
	if resp.TimedOut {
		c.logger.Warn("Search timed out on some shards", "signal", signal, "index", index)
	}
	if resp.Shards.Failed > 0 && resp.Shards.Successful == 0 {
		return nil, models.BackendError(errors.New(shardFailureReason(resp.Shards)), "%s search failed on all shards", signal)
	}
	return &resp, nil
}

func shardFailureReason(s Shards) string {
	for _, f := range s.Failures {
		if f.Reason.Reason != "" {
			return f.Reason.Type + ": " + f.Reason.Reason
		}
	}
	return fmt.Sprintf("%d shards failed", s.Failed)
}

// Info fetches cluster identification from the root endpoint.
func (c *Client) Info(ctx context.Context) (*ClusterInfo, error) {
	data, err := c.doRequest(ctx, "info", http.MethodGet, "/", nil, nil)
	if err != nil {
		return nil, err
	}
	var info ClusterInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, models.BackendError(err, "malformed cluster info")
	}
	return &info, nil
}

// Ping reports whether the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Info(ctx)
	return err
}
