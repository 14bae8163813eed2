// Package printify is a client for the Printify print-on-demand API. It
// implements order placement and the product catalog source.
package printify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// DefaultBaseURL is the public Printify API endpoint.
const DefaultBaseURL = "https://api.printify.com"

const maxResponseBytes = 4 << 20

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	ShopID  string
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
	// MaxTries bounds attempts of idempotent reads.
	MaxTries uint
	// Transport overrides the base round tripper.
	Transport http.RoundTripper
}

// APIError is a non-2xx response from Printify.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("printify: status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to a single Printify shop.
type Client struct {
	http     *http.Client
	baseURL  *url.URL
	token    string
	shopID   string
	maxTries uint
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" || cfg.ShopID == "" {
		return nil, errors.New("printify token and shop id required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		baseURL:  u,
		token:    cfg.Token,
		shopID:   cfg.ShopID,
		maxTries: cfg.MaxTries,
	}, nil
}

func (c *Client) shopURL(path string, query url.Values) string {
	u := *c.baseURL
	u.Path += "/v1/shops/" + url.PathEscape(c.shopID) + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do performs a single request and returns the response body of a 2xx
// response.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, req.URL.Path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	return data, nil
}

// get performs an idempotent GET, retrying transport failures, rate limits
// and server errors with exponential backoff.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	lg := zctx.From(ctx)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, func() ([]byte, error) {
		data, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err == nil {
			return data, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			lg.Warn("Printify request failed, retrying", zap.Error(err), zap.Duration("next", next))
		}),
	)
}

// Ping checks the token and shop id with a read-only request.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, c.shopURL("/products.json", url.Values{"limit": {"1"}}))
	if err != nil {
		return errors.Wrap(err, "printify ping")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
