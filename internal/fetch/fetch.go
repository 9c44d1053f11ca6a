// Package fetch provides the HTTP client shared by discovery, the YouTube
// resolver and the thumbnail backfill.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
)

// Defaults applied when Options leaves a field empty.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultUserAgent    = "FeedTrak/1.0 (+https://github.com/bryan-buckman/feedtrak)"
	DefaultMaxBodyBytes = 10 << 20
	// DefaultPerDomain limits parallel requests to any single domain
	DefaultPerDomain = 2
)

// Options configures a Client.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	PerDomain    int
	// DomainDelay is the minimum delay between requests to the same domain.
	DomainDelay time.Duration
}

// Response is a fully read HTTP response.
type Response struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// HTMLReader returns the body transcoded to UTF-8 according to the
// Content-Type header and any <meta charset> in the document.
func (r *Response) HTMLReader() (io.Reader, error) {
	return charset.NewReader(bytes.NewReader(r.Body), r.ContentType)
}

// Client performs rate-limited GET requests.
type Client struct {
	http          *http.Client
	opts          Options
	domainLimiter *domainLimiter
}

// NewClient creates a client, filling unset options with defaults.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.PerDomain <= 0 {
		opts.PerDomain = DefaultPerDomain
	}
	return &Client{
		http:          &http.Client{Timeout: opts.Timeout},
		opts:          opts,
		domainLimiter: newDomainLimiter(opts.PerDomain, opts.DomainDelay),
	}
}

// UserAgent returns the default User-Agent sent by the client.
func (c *Client) UserAgent() string {
	return c.opts.UserAgent
}

// Get fetches rawURL. Headers in header override the client defaults.
// Network failures are returned as *TransportError and non-2xx statuses as
// *HTTPStatusError.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	// Apply per-domain rate limiting
	domain := extractDomain(rawURL)
	if err := c.domainLimiter.acquire(ctx, domain); err != nil {
		return nil, fmt.Errorf("rate limit cancelled for %s: %w", rawURL, err)
	}
	defer c.domainLimiter.release(domain)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.8")
	for k, vs := range header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}

	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        body,
	}, nil
}

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu          sync.Mutex
	perDomain   int
	delay       time.Duration
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
}

func newDomainLimiter(perDomain int, delay time.Duration) *domainLimiter {
	return &domainLimiter{
		perDomain:   perDomain,
		delay:       delay,
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
	}
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum delay between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, dl.perDomain)
		dl.semaphores[domain] = sem
	}
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	dl.mu.Lock()
	lastReq := dl.lastRequest[domain]
	dl.mu.Unlock()

	if !lastReq.IsZero() && dl.delay > 0 {
		if elapsed := time.Since(lastReq); elapsed < dl.delay {
			select {
			case <-time.After(dl.delay - elapsed):
			case <-ctx.Done():
				// Release the semaphore on cancel
				<-sem
				return ctx.Err()
			}
		}
	}
	return nil
}

// release returns a slot for the domain and records the request time.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[domain] = time.Now()
	if sem, ok := dl.semaphores[domain]; ok {
		<-sem
	}
}

// extractDomain gets the host from a URL.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
