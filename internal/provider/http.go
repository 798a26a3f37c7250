package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"manin/internal/ratelimit"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Option configures an HTTP-backed provider
type Option func(*httpClient)

// WithBaseURL points the provider at another host, e.g. an httptest server
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithLimiter shares a limiter, typically from a ratelimit.MultiLimiter
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *httpClient) { c.limiter = l }
}

// WithHTTPClient replaces the default 30s-timeout client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.client = hc }
}

// httpClient is the request plumbing shared by the REST providers
type httpClient struct {
	name      string
	baseURL   string
	client    *http.Client
	limiter   *ratelimit.Limiter
	rateLimit int
	headers   map[string]string
}

func newHTTPClient(name, baseURL string, perMinute int, opts []Option) *httpClient {
	c := &httpClient{
		name:      name,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		rateLimit: perMinute,
		headers:   map[string]string{"User-Agent": userAgent},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = ratelimit.NewLimiter(name, perMinute)
	}
	return c
}

// getJSON performs a rate-limited GET and decodes the body into out.
// 429 and 5xx are retryable; other non-200 statuses are not.
func (c *httpClient) getJSON(ctx context.Context, url string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &ProviderError{Provider: c.name, Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.SignalRateLimited()
		return &ProviderError{Provider: c.name, Err: fmt.Errorf("rate limited"), Retryable: true}
	}

	if resp.StatusCode != http.StatusOK {
		return &ProviderError{
			Provider:  c.name,
			Err:       fmt.Errorf("status %d", resp.StatusCode),
			Retryable: resp.StatusCode >= 500,
		}
	}

	c.limiter.ResetBackoff()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Provider: c.name, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
