package rss

import (
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var feedLinkTypes = map[string]bool{
	"application/rss+xml":  true,
	"application/atom+xml": true,
}

// FindFeedLink returns the first <link rel="alternate"> advertising an RSS
// or Atom feed, resolved against pageURL. Returns "" when the page has none.
func FindFeedLink(r io.Reader, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}

	var href string
	doc.Find("link[rel][href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !hasToken(s.AttrOr("rel", ""), "alternate") {
			return true
		}
		typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
		if !feedLinkTypes[typ] {
			return true
		}
		href = strings.TrimSpace(s.AttrOr("href", ""))
		return href == ""
	})
	if href == "" {
		return "", nil
	}
	return resolveAgainstHost(href, pageURL), nil
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(strings.ToLower(list)) {
		if f == token {
			return true
		}
	}
	return false
}

// resolveAgainstHost makes href absolute using only the scheme and host of
// pageURL: "/feed" and "feed" both land at the site root.
func resolveAgainstHost(href, pageURL string) string {
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return href
	}
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return href
	}
	switch {
	case strings.HasPrefix(href, "//"):
		return base.Scheme + ":" + href
	case strings.HasPrefix(href, "/"):
		return base.Scheme + "://" + base.Host + href
	default:
		return base.Scheme + "://" + base.Host + "/" + href
	}
}
