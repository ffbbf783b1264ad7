package webclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// BrowserUserAgent is sent where upstreams reject obvious bots
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const maxBodySize = 8 << 20

// Options configures a Client
type Options struct {
	// Timeout bounds a single attempt including reading the body
	Timeout time.Duration
	// Retries is the number of extra attempts on transient failures
	Retries uint64
	// PerHost caps concurrent requests to one host, 0 means unlimited
	PerHost int64
	// InitialInterval is the first backoff delay
	InitialInterval time.Duration
}

// Client is the outbound HTTP client shared by resolver, feed fetcher and scraper
type Client struct {
	http            *http.Client
	timeout         time.Duration
	retries         uint64
	initialInterval time.Duration
}

// Response is a fully read 2xx response
type Response struct {
	StatusCode int
	URL        string
	Body       []byte
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// RetryableStatus reports whether a status code is worth another attempt
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 12 * time.Second
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}

	var transport http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if opts.PerHost > 0 {
		transport = newHostLimitedTransport(transport, opts.PerHost)
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		timeout:         opts.Timeout,
		retries:         opts.Retries,
		initialInterval: opts.InitialInterval,
	}
}

// HTTP exposes the underlying client so parsers that do their own requests
// share the per-host limits
func (c *Client) HTTP() *http.Client {
	return c.http
}

func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Get fetches rawURL with the given headers. Network errors and retryable
// statuses are retried with exponential backoff, other statuses fail at once.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	var result *Response
	attempt := 0

	operation := func() error {
		attempt++
		resp, err := c.do(ctx, rawURL, headers)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && !RetryableStatus(statusErr.StatusCode) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		result = resp
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		log.WithFields(log.Fields{
			"url":     rawURL,
			"attempt": attempt,
			"wait":    wait,
			"error":   err,
		}).Debug("Retrying request")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.retries), ctx), notify); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", BrowserUserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		URL:        resp.Request.URL.String(),
		Body:       body,
	}, nil
}
