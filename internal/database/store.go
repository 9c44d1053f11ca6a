// Package database provides storage backends for feedtrak.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/bryan-buckman/feedtrak/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// EntryFilter narrows ListEntries. Zero values select every entry of the
// user's active subscriptions.
type EntryFilter struct {
	FeedID int64
	Unread bool
	Saved  bool
}

// Store defines the interface for database operations.
// The SQLite and PostgreSQL backends share one implementation that differs
// only in dialect. All create operations are create-if-absent: a
// unique-constraint collision resolves to the existing row.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Feed operations
	GetFeedByID(ctx context.Context, feedID int64) (*model.Feed, error)
	GetFeedByURL(ctx context.Context, feedURL string) (*model.Feed, error)
	CreateFeedIfAbsent(ctx context.Context, feed *model.Feed) (*model.Feed, bool, error)
	UpdateFeedLastFetched(ctx context.Context, feedID int64, t time.Time) error
	GetActiveFeeds(ctx context.Context) ([]model.Feed, error)

	// Entry operations
	CreateEntryIfAbsent(ctx context.Context, entry *model.Entry) (bool, error)
	GetEntryByID(ctx context.Context, entryID int64) (*model.Entry, error)
	LatestEntryIDs(ctx context.Context, feedID int64, limit int) ([]int64, error)
	CountEntries(ctx context.Context, feedID int64) (int, error)
	GetEntriesMissingThumbnail(ctx context.Context, limit int) ([]model.Entry, error)
	SetEntryThumbnail(ctx context.Context, entryID int64, thumbnailURL string) error
	ListEntries(ctx context.Context, userID int64, filter EntryFilter, limit, offset int) ([]model.UserEntry, error)

	// Subscription operations
	SubscribeIfAbsent(ctx context.Context, userID, feedID int64, categoryID *int64) (bool, error)
	GetSubscription(ctx context.Context, userID, feedID int64) (*model.Subscription, error)
	Unsubscribe(ctx context.Context, userID, feedID int64) error
	SetSubscriptionCategory(ctx context.Context, userID, feedID int64, categoryID *int64) error
	GetSubscribedFeeds(ctx context.Context, userID int64) ([]model.SubscribedFeed, error)
	GetStaleFeeds(ctx context.Context, userID int64, fetchedBefore time.Time) ([]model.Feed, error)
	IsSubscribedToURL(ctx context.Context, userID int64, rawURL string) (bool, error)

	// Read state operations
	SeedUnread(ctx context.Context, userID int64, entryIDs []int64) (int, error)
	SetReadState(ctx context.Context, userID, entryID int64, read bool, at time.Time) error
	GetReadState(ctx context.Context, userID, entryID int64) (*model.ReadState, error)
	MarkFeedRead(ctx context.Context, userID, feedID int64, at time.Time) error
	MarkAllRead(ctx context.Context, userID int64, at time.Time) error
	CountUnread(ctx context.Context, userID int64) (int, error)

	// Saved item operations
	SaveEntry(ctx context.Context, userID, entryID int64) (bool, error)
	UnsaveEntry(ctx context.Context, userID, entryID int64) error
	CountSaved(ctx context.Context, userID int64) (int, error)

	// Category operations
	GetCategories(ctx context.Context, userID int64) ([]model.Category, error)
	GetCategoryByID(ctx context.Context, userID, categoryID int64) (*model.Category, error)
	CreateCategory(ctx context.Context, userID int64, name string) (*model.Category, error)
	RenameCategory(ctx context.Context, userID, categoryID int64, name string) error
	DeleteCategory(ctx context.Context, userID, categoryID int64) error

	// Preference operations
	GetPreference(ctx context.Context, userID int64, key string) (string, error)
	SetPreference(ctx context.Context, userID int64, key, value string) error
}
