// Package rss discovers feeds from arbitrary URLs and normalizes RSS and
// Atom documents into one canonical shape.
package rss

import (
	"time"

	"github.com/bryan-buckman/feedtrak/internal/model"
)

// Feed is a parsed feed in canonical form.
type Feed struct {
	Title       string
	Description string
	SiteURL     string
	FeedURL     string
	Type        string // model.FeedTypeRSS or model.FeedTypeAtom
	IconURL     string
	Entries     []Entry
}

// Entry is a parsed feed item in canonical form.
type Entry struct {
	GUID         string
	Title        string
	Content      string
	Excerpt      string
	URL          string
	ThumbnailURL string
	Author       string
	PublishedAt  time.Time
	// Dated is false when the source gave no usable date and PublishedAt
	// was derived from the ingestion time.
	Dated bool
}

// Model converts the feed to its storage representation.
func (f *Feed) Model() *model.Feed {
	return &model.Feed{
		SiteURL:     f.SiteURL,
		Title:       f.Title,
		Description: f.Description,
		FeedURL:     f.FeedURL,
		Type:        f.Type,
		IconURL:     f.IconURL,
	}
}

// Model converts the entry to its storage representation.
func (e *Entry) Model(feedID int64) *model.Entry {
	return &model.Entry{
		FeedID:       feedID,
		GUID:         e.GUID,
		Title:        e.Title,
		Content:      e.Content,
		Excerpt:      e.Excerpt,
		URL:          e.URL,
		ThumbnailURL: e.ThumbnailURL,
		Author:       e.Author,
		PublishedAt:  e.PublishedAt,
	}
}

// Truncate keeps the first n entries in document order. n <= 0 keeps all.
func (f *Feed) Truncate(n int) {
	if n > 0 && len(f.Entries) > n {
		f.Entries = f.Entries[:n]
	}
}
