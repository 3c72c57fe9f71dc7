// internal/common/http/client.go
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultUserAgent identifies the catalog to upstream sources.
const DefaultUserAgent = "loan-catalog/1.0 (+https://github.com/loan-catalog)"

// maxBodyBytes caps upstream responses.
const maxBodyBytes = 10 << 20

// Client is an outbound HTTP client that waits on a token bucket before
// every request so upstream sources are not hammered.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// NewClient returns a client without rate limiting.
func NewClient(timeout time.Duration) *Client {
	return NewLimitedClient(timeout, rate.Inf, 0)
}

// NewLimitedClient returns a client allowing perSecond requests with the
// given burst.
func NewLimitedClient(timeout time.Duration, perSecond rate.Limit, burst int) *Client {
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:   rate.NewLimiter(perSecond, burst),
		userAgent: DefaultUserAgent,
	}
}

// Wait blocks until the limiter allows another request.
func (c *Client) Wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.httpClient.Do(req)
}

// Get fetches url and returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.DoWithContext(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return body, nil
}
