// Package marketdata fetches prices, company info, financial statements and
// news for US tickers from Yahoo Finance.
//
// Every call is synchronous from the caller's point of view, is not retried,
// and fails outward: an unknown ticker yields ErrNotFound, any other non-2xx
// response an *HTTPError. Requests are paced by a token bucket so that the
// concurrent multi-ticker download stays under Yahoo's throttling threshold.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// --- Sentinel errors ---

var (
	// ErrNotFound is returned when Yahoo does not know the ticker.
	ErrNotFound = errors.New("marketdata: ticker not found")
	// ErrInvalidTicker is returned for empty or malformed ticker input.
	ErrInvalidTicker = errors.New("marketdata: invalid ticker")
	// ErrNoCrumb is returned when the session crumb cannot be obtained.
	ErrNoCrumb = errors.New("marketdata: could not obtain session crumb")
)

// HTTPError wraps a non-2xx response.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s (%s): %s", e.StatusCode, e.Status, e.URL, e.Body)
}

// Unwrap maps a 404 to ErrNotFound so callers can use errors.Is.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// DefaultUserAgent is the user agent string used for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Default Yahoo endpoints.
const (
	DefaultQuery1URL = "https://query1.finance.yahoo.com"
	DefaultQuery2URL = "https://query2.finance.yahoo.com"
	DefaultCookieURL = "https://fc.yahoo.com"
	DefaultRSSURL    = "https://feeds.finance.yahoo.com/rss/2.0/headline"
)

// Client talks to the Yahoo Finance endpoints.
type Client struct {
	http        *http.Client
	limiter     *rate.Limiter
	logger      zerolog.Logger
	query1      string
	query2      string
	cookieURL   string
	rssURL      string
	concurrency int
	newsCount   int
	rssFallback bool

	mu    sync.Mutex
	crumb string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Its Jar is replaced when nil.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBaseURL points every endpoint at one host, for tests and proxies.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		u = strings.TrimRight(u, "/")
		c.query1, c.query2, c.cookieURL, c.rssURL = u, u, u+"/cookie", u+"/rss"
	}
}

// WithRateLimit sets the request pacing. rps <= 0 disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithConcurrency bounds the number of tickers downloaded at once.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithNewsCount sets how many news items the search API is asked for.
func WithNewsCount(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.newsCount = n
		}
	}
}

// WithRSSFallback enables the headline RSS feed when search returns nothing.
func WithRSSFallback(on bool) Option {
	return func(c *Client) { c.rssFallback = on }
}

// WithLogger sets the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New creates a Yahoo Finance client.
func New(opts ...Option) *Client {
	c := &Client{
		http:        &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(4), 1),
		logger:      zerolog.Nop(),
		query1:      DefaultQuery1URL,
		query2:      DefaultQuery2URL,
		cookieURL:   DefaultCookieURL,
		rssURL:      DefaultRSSURL,
		concurrency: 4,
		newsCount:   20,
		rssFallback: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, _ := cookiejar.New(nil)
		c.http.Jar = jar
	}
	return c
}

// NormalizeTicker trims and uppercases a ticker and rejects empty or
// obviously malformed input.
func NormalizeTicker(ticker string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTicker)
	}
	for _, r := range t {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '^', r == '=':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
		}
	}
	return t, nil
}

// --- HTTP helpers ---

// get performs a paced GET and returns the body. The caller closes it.
func (c *Client) get(ctx context.Context, url string, accept string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	c.logger.Debug().Str("url", url).Msg("GET")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        url,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return resp.Body, nil
}

// getJSON performs a GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	body, err := c.get(ctx, url, "application/json")
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// sessionCrumb returns the crumb required by the quoteSummary and
// timeseries endpoints, fetching it once per client. Yahoo hands out the
// session cookie from fc.yahoo.com even on an error status.
func (c *Client) sessionCrumb(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.crumb != "" {
		return c.crumb, nil
	}

	if body, err := c.get(ctx, c.cookieURL, "text/html"); err == nil {
		body.Close()
	} else {
		var he *HTTPError
		if !errors.As(err, &he) {
			return "", fmt.Errorf("%w: %v", ErrNoCrumb, err)
		}
	}

	body, err := c.get(ctx, c.query1+"/v1/test/getcrumb", "text/plain")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCrumb, err)
	}
	defer body.Close()
	raw, err := io.ReadAll(io.LimitReader(body, 256))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCrumb, err)
	}
	crumb := strings.TrimSpace(string(raw))
	if crumb == "" || strings.ContainsAny(crumb, "<{ ") {
		return "", fmt.Errorf("%w: unexpected body %q", ErrNoCrumb, crumb)
	}
	c.crumb = crumb
	c.logger.Debug().Msg("obtained yahoo session crumb")
	return crumb, nil
}

// yfError is the error object embedded in Yahoo JSON responses.
type yfError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *yfError) err(ticker string) error {
	if e == nil {
		return nil
	}
	if strings.EqualFold(e.Code, "Not Found") {
		return fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}
	return fmt.Errorf("yahoo API error for %s: %s %s", ticker, e.Code, e.Description)
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
