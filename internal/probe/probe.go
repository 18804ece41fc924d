// Package probe checks network reachability of the post service before a
// scan cycle.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultURL is probed when no URL is configured.
const DefaultURL = "https://x.com"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Checker issues a HEAD request to a fixed URL.
type Checker struct {
	url     string
	client  HTTPClient
	timeout time.Duration
}

// New creates a Checker. An empty url selects DefaultURL.
func New(url string, client HTTPClient) *Checker {
	if url == "" {
		url = DefaultURL
	}
	return &Checker{url: url, client: client, timeout: 10 * time.Second}
}

// URL returns the probed URL.
func (c *Checker) URL() string {
	return c.url
}

// Check returns nil when the URL answered with any status below 500.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", c.url, err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe %s: status %d", c.url, resp.StatusCode)
	}
	return nil
}
