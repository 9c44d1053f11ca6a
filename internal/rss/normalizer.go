package rss

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/bryan-buckman/feedtrak/internal/model"
)

// Normalizer parses RSS 2.0 and Atom documents into canonical feeds.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a normalizer that stamps undated entries with the
// current time.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Parse normalizes a feed document. It returns nil for malformed XML and for
// anything that is not RSS 2.0 or Atom (RDF, JSON Feed, HTML).
//
// Entries without a date get the ingestion time minus their document index
// in seconds, so undated entries keep document order relative to each other.
func (n *Normalizer) Parse(data []byte, sourceURL string) *Feed {
	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeRSS, gofeed.FeedTypeAtom:
	default:
		return nil
	}

	// gofeed parsers keep per-document state, so one per call.
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	var feedType string
	switch parsed.FeedType {
	case "rss":
		if parsed.FeedVersion == "1.0" || parsed.FeedVersion == "0.9" {
			return nil
		}
		feedType = model.FeedTypeRSS
	case "atom":
		feedType = model.FeedTypeAtom
	default:
		return nil
	}
	isRSS := feedType == model.FeedTypeRSS

	feed := &Feed{
		Title:       strings.TrimSpace(parsed.Title),
		Description: strings.TrimSpace(parsed.Description),
		SiteURL:     strings.TrimSpace(parsed.Link),
		FeedURL:     sourceURL,
		Type:        feedType,
	}
	if feed.SiteURL == "" {
		feed.SiteURL = siteLink(parsed, sourceURL)
	}
	if parsed.Image != nil {
		feed.IconURL = strings.TrimSpace(parsed.Image.URL)
	}

	ingested := n.now()
	for i, item := range parsed.Items {
		if item == nil {
			continue
		}
		feed.Entries = append(feed.Entries, n.entry(item, isRSS, sourceURL, ingested.Add(-time.Duration(i)*time.Second)))
	}
	return feed
}

func (n *Normalizer) entry(item *gofeed.Item, isRSS bool, sourceURL string, fallback time.Time) Entry {
	// RSS prefers description, Atom prefers content.
	content := firstNonEmpty(item.Content, item.Description)
	if isRSS {
		content = firstNonEmpty(item.Description, item.Content)
	}

	link := strings.TrimSpace(item.Link)
	if link == "" && len(item.Links) > 0 {
		link = strings.TrimSpace(item.Links[0])
	}
	link = resolveReference(link, sourceURL)

	e := Entry{
		GUID:         strings.TrimSpace(item.GUID),
		Title:        strings.TrimSpace(item.Title),
		Content:      content,
		Excerpt:      Excerpt(content, ExcerptLength),
		URL:          link,
		ThumbnailURL: ExtractThumbnail(item, isRSS),
		PublishedAt:  fallback,
	}
	if e.GUID == "" {
		e.GUID = link
	}
	if e.GUID == "" {
		sum := sha1.Sum([]byte(e.Title + "\n" + content))
		e.GUID = "sha1:" + hex.EncodeToString(sum[:])
	}
	if item.Author != nil {
		e.Author = item.Author.Name
		if e.Author == "" {
			e.Author = item.Author.Email
		}
	}
	switch {
	case item.PublishedParsed != nil:
		e.PublishedAt, e.Dated = item.PublishedParsed.UTC(), true
	case item.UpdatedParsed != nil:
		e.PublishedAt, e.Dated = item.UpdatedParsed.UTC(), true
	}
	return e
}

// siteLink picks a fallback site URL from the feed's links, skipping the
// self link. It returns "" when only the feed's own address is listed.
func siteLink(parsed *gofeed.Feed, sourceURL string) string {
	self := strings.TrimSpace(parsed.FeedLink)
	for _, l := range parsed.Links {
		l = strings.TrimSpace(l)
		if l == "" || l == self || l == sourceURL {
			continue
		}
		return l
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// resolveReference resolves a possibly relative link against the feed URL.
func resolveReference(link, base string) string {
	if link == "" || base == "" {
		return link
	}
	u, err := url.Parse(link)
	if err != nil || u.IsAbs() {
		return link
	}
	b, err := url.Parse(base)
	if err != nil {
		return link
	}
	return b.ResolveReference(u).String()
}
