package rss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/bryan-buckman/feedtrak/internal/fetch"
	"github.com/bryan-buckman/feedtrak/internal/youtube"
)

// Discovery failure reasons.
const (
	ReasonFetchError  = "fetch_error"
	ReasonNoFeedFound = "no_feed_found"
	ReasonParseError  = "parse_error"
)

// DiscoveryError reports why a URL did not yield a feed. Err carries the
// underlying fetch error for ReasonFetchError.
type DiscoveryError struct {
	Reason string
	URL    string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discover %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("discover %s: %s", e.URL, e.Reason)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Fetcher performs GET requests. *fetch.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*fetch.Response, error)
}

// ChannelResolver maps YouTube URLs to feed URLs. *youtube.Resolver
// satisfies it.
type ChannelResolver interface {
	Resolve(ctx context.Context, rawURL string) (youtube.Result, bool)
}

// Discovery turns an arbitrary URL into a normalized feed.
type Discovery struct {
	client     Fetcher
	youtube    ChannelResolver
	normalizer *Normalizer
	log        *zap.Logger
}

// NewDiscovery creates a discovery service. resolver may be nil, in which
// case YouTube URLs are fetched like any other page.
func NewDiscovery(client Fetcher, resolver ChannelResolver, log *zap.Logger) *Discovery {
	return &Discovery{
		client:     client,
		youtube:    resolver,
		normalizer: NewNormalizer(),
		log:        log.Named("discovery"),
	}
}

// Discover fetches rawURL and returns the feed it is, or the feed it links
// to. entryLimit > 0 keeps only the first entryLimit entries. Failures are
// always *DiscoveryError.
func (d *Discovery) Discover(ctx context.Context, rawURL string, entryLimit int) (*Feed, error) {
	feed, err := d.discover(ctx, rawURL)
	if err != nil {
		d.log.Debug("discovery failed", zap.String("url", rawURL), zap.Error(err))
		return nil, err
	}
	feed.Truncate(entryLimit)
	return feed, nil
}

func (d *Discovery) discover(ctx context.Context, rawURL string) (*Feed, error) {
	if d.youtube != nil && youtube.IsYouTubeURL(rawURL) {
		return d.discoverYouTube(ctx, rawURL)
	}

	resp, err := d.client.Get(ctx, rawURL, nil)
	if err != nil {
		return nil, &DiscoveryError{Reason: ReasonFetchError, URL: rawURL, Err: err}
	}

	if isFeedContentType(resp.ContentType) {
		return d.parse(resp.Body, rawURL)
	}

	r, err := resp.HTMLReader()
	if err != nil {
		r = bytes.NewReader(resp.Body)
	}
	link, err := FindFeedLink(r, rawURL)
	if err != nil {
		return nil, &DiscoveryError{Reason: ReasonParseError, URL: rawURL, Err: err}
	}
	if link == "" {
		// Some servers send feeds as text/plain or octet-stream.
		switch gofeed.DetectFeedType(bytes.NewReader(resp.Body)) {
		case gofeed.FeedTypeRSS, gofeed.FeedTypeAtom:
			return d.parse(resp.Body, rawURL)
		}
		return nil, &DiscoveryError{Reason: ReasonNoFeedFound, URL: rawURL}
	}

	d.log.Debug("following feed link", zap.String("page", rawURL), zap.String("feed", link))
	return d.fetchFeed(ctx, link)
}

// fetchFeed fetches a URL expected to be a feed. HTML is not followed again.
func (d *Discovery) fetchFeed(ctx context.Context, feedURL string) (*Feed, error) {
	resp, err := d.client.Get(ctx, feedURL, nil)
	if err != nil {
		return nil, &DiscoveryError{Reason: ReasonFetchError, URL: feedURL, Err: err}
	}
	return d.parse(resp.Body, feedURL)
}

func (d *Discovery) discoverYouTube(ctx context.Context, rawURL string) (*Feed, error) {
	res, ok := d.youtube.Resolve(ctx, rawURL)
	if !ok {
		return nil, &DiscoveryError{Reason: ReasonNoFeedFound, URL: rawURL}
	}
	feed, err := d.fetchFeed(ctx, res.FeedURL)
	if err != nil && res.Guessed {
		// The legacy user feed is a guess; its absence means nothing was found.
		d.log.Info("guessed youtube feed unavailable", zap.String("url", rawURL), zap.String("feed", res.FeedURL), zap.Error(err))
		return nil, &DiscoveryError{Reason: ReasonNoFeedFound, URL: rawURL}
	}
	return feed, err
}

func (d *Discovery) parse(body []byte, sourceURL string) (*Feed, error) {
	feed := d.normalizer.Parse(body, sourceURL)
	if feed == nil {
		return nil, &DiscoveryError{Reason: ReasonParseError, URL: sourceURL}
	}
	return feed, nil
}

func isFeedContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "application/rss+xml", "application/atom+xml", "application/xml", "text/xml":
		return true
	}
	return false
}

// IsReason reports whether err is a DiscoveryError with the given reason.
func IsReason(err error, reason string) bool {
	var de *DiscoveryError
	return errors.As(err, &de) && de.Reason == reason
}
