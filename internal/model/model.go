// Package model defines shared data structures.
package model

import "time"

// Feed types recognised by the normalizer.
const (
	FeedTypeRSS  = "rss"
	FeedTypeAtom = "atom"
)

// Feed is a process-wide feed shared by every subscriber. FeedURL is unique.
type Feed struct {
	ID            int64     `json:"id"`
	SiteURL       string    `json:"site_url"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	FeedURL       string    `json:"feed_url"`
	Type          string    `json:"type"`
	IconURL       string    `json:"icon_url,omitempty"`
	LastFetchedAt time.Time `json:"last_fetched_at"` // zero if never fetched
}

// Entry represents a single article from a feed, unique per (FeedID, GUID).
type Entry struct {
	ID           int64     `json:"id"`
	FeedID       int64     `json:"feed_id"`
	GUID         string    `json:"guid"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Excerpt      string    `json:"excerpt"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Author       string    `json:"author,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserEntry is an entry together with one user's read and saved state.
type UserEntry struct {
	Entry
	FeedTitle string `json:"feed_title"`
	IsRead    bool   `json:"is_read"`
	IsSaved   bool   `json:"is_saved"`
}

// Category is a user-owned label for grouping subscriptions.
type Category struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"-"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

// Subscription links a user to a feed.
type Subscription struct {
	ID         int64
	UserID     int64
	FeedID     int64
	CategoryID *int64 // nil means uncategorized
	Active     bool
}

// SubscribedFeed is a feed together with the subscriber's category and
// unread count.
type SubscribedFeed struct {
	Feed
	CategoryID   *int64 `json:"category_id"`
	CategoryName string `json:"category_name,omitempty"`
	UnreadCount  int    `json:"unread_count"`
}

// ReadState is the per-user read flag of an entry. A missing row means unread.
type ReadState struct {
	UserID  int64
	EntryID int64
	IsRead  bool
	ReadAt  *time.Time
}

// SavedItem is a per-user bookmark on an entry.
type SavedItem struct {
	UserID    int64
	EntryID   int64
	CreatedAt time.Time
}

// DashboardStats summarises a user's reading state.
type DashboardStats struct {
	UnreadCount int `json:"unread_count"`
	SavedCount  int `json:"saved_count"`
	FeedCount   int `json:"feed_count"`
}

// Preference key constants.
const (
	PreferenceTheme          = "theme"
	PreferenceEntriesPerPage = "entries_per_page"
	PreferenceShowThumbnails = "show_thumbnails"
)
