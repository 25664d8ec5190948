// Package remote is the HTTP transport to the system of record.
package remote

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

	"github.com/cenkalti/backoff/v4"
	"github.com/tildaslashalef/shopsync/internal/config"
	"github.com/tildaslashalef/shopsync/internal/loggy"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const apiPrefix = "/api/v1"

type idempotencyKey struct{}

// WithIdempotencyKey attaches a key sent as Idempotency-Key on create requests made with ctx
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

func idempotencyKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}

// Client handles HTTP communication with the shop server
type Client struct {
	baseURL      string
	deviceName   string
	tenantID     string
	userID       string
	maxRetries   int
	retryInitial time.Duration
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *loggy.Logger
}

// NewClient creates a new HTTP client for server communication
func NewClient(cfg config.ServerConfig, logger *loggy.Logger) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	// The bearer token is attached by the transport so retries and pings carry it too
	var rt http.RoundTripper = transport
	if cfg.Token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
			Base:   transport,
		}
	}

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.URL, "/"),
		deviceName:   cfg.DeviceName,
		maxRetries:   cfg.MaxRetries,
		retryInitial: 500 * time.Millisecond,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: rt,
		},
		limiter: newLimiter(cfg.RequestsPerMinute, cfg.BurstLimit),
		logger:  logger,
	}
}

// newLimiter creates a rate limiter from requests per minute and burst
func newLimiter(rpm, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

// WithScope returns a client bound to one tenant and user. The copy shares the
// connection pool and the rate limiter with its parent.
func (c *Client) WithScope(tenantID, userID string) *Client {
	scoped := *c
	scoped.tenantID = tenantID
	scoped.userID = userID
	return &scoped
}

// TenantID returns the tenant the client is scoped to
func (c *Client) TenantID() string {
	return c.tenantID
}

func (c *Client) resourceURL(resource string, id string, query url.Values) (string, error) {
	if c.baseURL == "" || c.tenantID == "" {
		return "", ErrNotConfigured
	}

	u := fmt.Sprintf("%s%s/tenants/%s/%s", c.baseURL, apiPrefix, url.PathEscape(c.tenantID), resource)
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u, nil
}

// Create posts a new record and returns the server's representation, which carries the server id
func (c *Client) Create(ctx context.Context, resource string, data map[string]any) (map[string]any, error) {
	u, err := c.resourceURL(resource, "", nil)
	if err != nil {
		return nil, err
	}

	var out envelope[map[string]any]
	if err := c.do(ctx, http.MethodPost, u, data, &out); err != nil {
		return nil, err
	}
	return out.value(), nil
}

// Update replaces a record by id
func (c *Client) Update(ctx context.Context, resource, id string, data map[string]any) error {
	u, err := c.resourceURL(resource, id, nil)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, u, data, nil)
}

// Delete removes a record by id
func (c *Client) Delete(ctx context.Context, resource, id string) error {
	u, err := c.resourceURL(resource, id, nil)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, u, nil, nil)
}

// List fetches the collection of a resource, optionally only records changed since a time
func (c *Client) List(ctx context.Context, resource string, since *time.Time) ([]map[string]any, error) {
	query := url.Values{}
	if since != nil {
		query.Set("updated_since", since.UTC().Format(time.RFC3339))
	}

	u, err := c.resourceURL(resource, "", query)
	if err != nil {
		return nil, err
	}

	var out envelope[[]map[string]any]
	if err := c.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out.value(), nil
}

// Ping checks the server is reachable and the token is accepted
func (c *Client) Ping(ctx context.Context) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+apiPrefix+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	return nil
}

// envelope accepts both a bare JSON value and one wrapped as {"data": ...}
type envelope[T any] struct {
	Data T
}

func (e *envelope[T]) UnmarshalJSON(b []byte) error {
	var wrapped struct {
		Data *json.RawMessage `json:"data"`
	}
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &wrapped); err == nil && wrapped.Data != nil {
			return decodeJSON(*wrapped.Data, &e.Data)
		}
	}
	return decodeJSON(trimmed, &e.Data)
}

func (e *envelope[T]) value() T {
	return e.Data
}

func decodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

func (c *Client) newRequest(ctx context.Context, method, u string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "shopsync")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.deviceName != "" {
		req.Header.Set("X-Device-Name", c.deviceName)
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	if method == http.MethodPost {
		if key := idempotencyKeyFrom(ctx); key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
	}

	return req, nil
}

// do sends a request, retrying network failures, 429 and 5xx with exponential backoff
func (c *Client) do(ctx context.Context, method, u string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
	}

	attempt := 0
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		err := c.send(ctx, method, u, payload, out)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}

		c.logger.Debug("Retrying request", "method", method, "url", u, "attempt", attempt, "error", err)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = b
	if c.maxRetries >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(c.maxRetries))
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, u string, payload []byte, out any) error {
	req, err := c.newRequest(ctx, method, u, payload)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(respBody) > 0 {
			if err := json.Unmarshal(respBody, apiErr); err != nil {
				apiErr.Message = strings.TrimSpace(string(respBody))
			}
		}
		// The body's status_code may be missing or wrong
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
