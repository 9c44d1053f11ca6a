// Package youtube resolves YouTube channel, handle and custom URLs to the
// channel's RSS feed URL.
package youtube

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/bryan-buckman/feedtrak/internal/fetch"
)

const (
	DefaultBaseURL     = "https://www.youtube.com"
	DefaultNoCookieURL = "https://www.youtube-nocookie.com"
	DefaultTimeout     = 10 * time.Second

	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	consentCookie    = "CONSENT=YES+cb; SOCS=CAESHAgBEhJnd3NfMjAyMjA5MjktMF9SQzEaAnJvIAEaBgiAkvKZBg"
)

// DefaultMirrors are read-only Invidious instances queried for handle lookups.
var DefaultMirrors = []string{
	"https://inv.nadeko.net",
	"https://yewtu.be",
	"https://invidious.snopyta.org",
	"https://vid.puffyan.us",
}

var (
	channelPathRe = regexp.MustCompile(`/channel/(UC[A-Za-z0-9_-]+)`)
	handlePathRe  = regexp.MustCompile(`/@([A-Za-z0-9._-]+)`)
	customPathRe  = regexp.MustCompile(`/c/([^/?#]+)`)
	userPathRe    = regexp.MustCompile(`/user/([^/?#]+)`)

	channelIDRe         = regexp.MustCompile(`"channelId"\s*:\s*"(UC[A-Za-z0-9_-]{22})"`)
	externalChannelIDRe = regexp.MustCompile(`"externalChannelId"\s*:\s*"(UC[A-Za-z0-9_-]{22})"`)
	channelURLRe        = regexp.MustCompile(`/channel/(UC[A-Za-z0-9_-]{22})`)
	initialDataRe       = regexp.MustCompile(`(?s)var ytInitialData\s*=\s*(\{.*?\});\s*</script>`)
	bareChannelIDRe     = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)
)

// Fetcher performs GET requests. *fetch.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*fetch.Response, error)
}

// Result is a resolved feed URL. Guessed marks the legacy ?user= form,
// which is returned when a handle could not be resolved and may not exist.
type Result struct {
	FeedURL string
	Guessed bool
}

// Options configures a Resolver.
type Options struct {
	BaseURL     string
	NoCookieURL string
	Mirrors     []string
	// Timeout bounds each auxiliary request.
	Timeout time.Duration
	Cache   ChannelCache
}

// Resolver turns YouTube URLs into channel RSS feed URLs. Each strategy is
// independent; a failure in one falls through to the next.
type Resolver struct {
	client Fetcher
	opts   Options
	log    *zap.Logger
}

// NewResolver creates a resolver. Zero options take the public YouTube
// endpoints and DefaultMirrors.
func NewResolver(client Fetcher, opts Options, log *zap.Logger) *Resolver {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.NoCookieURL == "" {
		opts.NoCookieURL = DefaultNoCookieURL
	}
	if opts.Mirrors == nil {
		opts.Mirrors = DefaultMirrors
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	opts.NoCookieURL = strings.TrimRight(opts.NoCookieURL, "/")
	return &Resolver{client: client, opts: opts, log: log.Named("youtube")}
}

// IsYouTubeURL reports whether rawURL's host is youtube.com, one of its
// subdomains, youtu.be or youtube-nocookie.com.
func IsYouTubeURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	for _, domain := range []string{"youtube.com", "youtube-nocookie.com"} {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return host == "youtu.be" || host == "www.youtu.be"
}

// FeedURL builds the RSS URL for a channel ID.
func (r *Resolver) FeedURL(channelID string) string {
	return r.opts.BaseURL + "/feeds/videos.xml?channel_id=" + url.QueryEscape(channelID)
}

// Resolve maps a YouTube URL to its RSS feed URL. ok is false when no
// strategy produced one; callers treat that as "no feed", not as an error.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Result, bool) {
	if strings.Contains(rawURL, "feeds/videos.xml") {
		return Result{FeedURL: rawURL}, true
	}
	if m := channelPathRe.FindStringSubmatch(rawURL); m != nil {
		return Result{FeedURL: r.FeedURL(m[1])}, true
	}
	if m := handlePathRe.FindStringSubmatch(rawURL); m != nil {
		handle := m[1]
		if id := r.resolveHandle(ctx, handle); id != "" {
			return Result{FeedURL: r.FeedURL(id)}, true
		}
		r.log.Info("handle unresolved, falling back to legacy user feed", zap.String("handle", handle))
		return Result{
			FeedURL: r.opts.BaseURL + "/feeds/videos.xml?user=" + url.QueryEscape(handle),
			Guessed: true,
		}, true
	}
	if m := customPathRe.FindStringSubmatch(rawURL); m != nil {
		name := m[1]
		if id := r.cached("c/" + name); id != "" {
			return Result{FeedURL: r.FeedURL(id)}, true
		}
		if id := r.scrapePage(ctx, r.opts.BaseURL+"/c/"+url.PathEscape(name)); id != "" {
			r.remember("c/"+name, id)
			return Result{FeedURL: r.FeedURL(id)}, true
		}
		return Result{}, false
	}
	if m := userPathRe.FindStringSubmatch(rawURL); m != nil {
		return Result{FeedURL: r.opts.BaseURL + "/feeds/videos.xml?user=" + url.QueryEscape(m[1])}, true
	}
	return Result{}, false
}

func (r *Resolver) resolveHandle(ctx context.Context, handle string) string {
	key := "@" + strings.ToLower(handle)
	if id := r.cached(key); id != "" {
		return id
	}

	strategies := []struct {
		name string
		run  func() string
	}{
		{"mirror", func() string { return r.queryMirrors(ctx, handle) }},
		{"channel page", func() string { return r.scrapePage(ctx, r.opts.BaseURL+"/@"+handle+"?hl=en") }},
		{"nocookie page", func() string { return r.scrapePage(ctx, r.opts.NoCookieURL+"/@"+handle) }},
		{"videos page", func() string { return r.scrapePage(ctx, r.opts.BaseURL+"/@"+handle+"/videos") }},
	}
	for _, s := range strategies {
		if ctx.Err() != nil {
			return ""
		}
		if id := s.run(); id != "" {
			r.log.Debug("resolved handle", zap.String("handle", handle), zap.String("strategy", s.name), zap.String("channel_id", id))
			r.remember(key, id)
			return id
		}
	}
	return ""
}

// queryMirrors asks each mirror API for the channel in turn.
func (r *Resolver) queryMirrors(ctx context.Context, handle string) string {
	for _, mirror := range r.opts.Mirrors {
		endpoint := strings.TrimRight(mirror, "/") + "/api/v1/channels/@" + url.PathEscape(handle)
		resp, err := r.get(ctx, endpoint, http.Header{"Accept": {"application/json"}})
		if err != nil {
			r.log.Debug("mirror lookup failed", zap.String("mirror", mirror), zap.Error(err))
			continue
		}
		doc, err := ParseJSON(resp.Body)
		if err != nil {
			r.log.Debug("mirror returned invalid json", zap.String("mirror", mirror), zap.Error(err))
			continue
		}
		if id := doc.Get("authorId"); id != nil && id.Kind == String && bareChannelIDRe.MatchString(id.Str) {
			return id.Str
		}
	}
	return ""
}

// scrapePage fetches a channel page with browser headers and a consent
// cookie. If YouTube still serves the consent interstitial, it retries
// once without cookies.
func (r *Resolver) scrapePage(ctx context.Context, pageURL string) string {
	resp, err := r.get(ctx, pageURL, browserHeaders(true))
	if err != nil {
		r.log.Debug("channel page fetch failed", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	if isConsentPage(resp) {
		resp, err = r.get(ctx, pageURL, browserHeaders(false))
		if err != nil {
			r.log.Debug("channel page retry failed", zap.String("url", pageURL), zap.Error(err))
			return ""
		}
	}
	return ExtractChannelID(resp.Body)
}

func (r *Resolver) get(ctx context.Context, rawURL string, header http.Header) (*fetch.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	return r.client.Get(ctx, rawURL, header)
}

func (r *Resolver) cached(key string) string {
	if r.opts.Cache == nil {
		return ""
	}
	id, _ := r.opts.Cache.Lookup(key)
	return id
}

func (r *Resolver) remember(key, id string) {
	if r.opts.Cache == nil {
		return
	}
	if err := r.opts.Cache.Store(key, id); err != nil {
		r.log.Warn("channel cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func browserHeaders(withCookie bool) http.Header {
	h := http.Header{
		"User-Agent":      {browserUserAgent},
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.9"},
	}
	if withCookie {
		h.Set("Cookie", consentCookie)
	}
	return h
}

func isConsentPage(resp *fetch.Response) bool {
	if strings.Contains(resp.URL, "consent.youtube.com") {
		return true
	}
	return bytes.Contains(resp.Body, []byte("consent.youtube.com")) && !bytes.Contains(resp.Body, []byte("ytInitialData"))
}

// ExtractChannelID looks for a channel ID in a YouTube page, trying in
// order: the inline "channelId" key, "externalChannelId", the canonical
// link, the og:url meta tag, and finally a key search through ytInitialData.
func ExtractChannelID(body []byte) string {
	if m := channelIDRe.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	if m := externalChannelIDRe.FindSubmatch(body); m != nil {
		return string(m[1])
	}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		for _, v := range []string{
			doc.Find(`link[rel="canonical"]`).First().AttrOr("href", ""),
			doc.Find(`meta[property="og:url"]`).First().AttrOr("content", ""),
		} {
			if m := channelURLRe.FindStringSubmatch(v); m != nil {
				return m[1]
			}
		}
	}

	if m := initialDataRe.FindSubmatch(body); m != nil {
		data, err := ParseJSON(m[1])
		if err != nil {
			return ""
		}
		for _, key := range []string{"channelId", "externalId", "browseId"} {
			if id, ok := data.FindStringFunc(key, bareChannelIDRe.MatchString); ok {
				return id
			}
		}
	}
	return ""
}
