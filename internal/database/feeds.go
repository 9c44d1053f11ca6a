package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/bryan-buckman/feedtrak/internal/model"
)

// --- Feed Methods ---

var feedColumns = []string{
	"f.id", "f.site_url", "f.title", "f.description",
	"f.feed_url", "f.type", "f.icon_url", "f.last_fetched_at",
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeed(s scanner, extra ...any) (*model.Feed, error) {
	var f model.Feed
	var lastFetched sql.NullTime
	dest := append([]any{
		&f.ID, &f.SiteURL, &f.Title, &f.Description,
		&f.FeedURL, &f.Type, &f.IconURL, &lastFetched,
	}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	if lastFetched.Valid {
		f.LastFetchedAt = lastFetched.Time
	}
	return &f, nil
}

func (db *DB) feeds(ctx context.Context, b sq.SelectBuilder) ([]model.Feed, error) {
	rows, err := db.query(ctx, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

func (db *DB) feed(ctx context.Context, where sq.Eq) (*model.Feed, error) {
	row, err := db.queryRow(ctx, db.sb.Select(feedColumns...).From("feeds f").Where(where))
	if err != nil {
		return nil, err
	}
	f, err := scanFeed(row)
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

// GetFeedByID returns a single feed by ID.
func (db *DB) GetFeedByID(ctx context.Context, feedID int64) (*model.Feed, error) {
	return db.feed(ctx, sq.Eq{"f.id": feedID})
}

// GetFeedByURL returns the feed whose canonical feed URL matches.
func (db *DB) GetFeedByURL(ctx context.Context, feedURL string) (*model.Feed, error) {
	return db.feed(ctx, sq.Eq{"f.feed_url": feedURL})
}

// CreateFeedIfAbsent inserts the feed unless its feed URL is already known.
// The stored row is returned either way; an existing row is never modified.
func (db *DB) CreateFeedIfAbsent(ctx context.Context, feed *model.Feed) (*model.Feed, bool, error) {
	feedType := feed.Type
	if feedType == "" {
		feedType = model.FeedTypeRSS
	}
	n, err := db.exec(ctx, db.sb.Insert("feeds").
		Columns("site_url", "title", "description", "feed_url", "type", "icon_url").
		Values(feed.SiteURL, feed.Title, feed.Description, feed.FeedURL, feedType, feed.IconURL).
		Suffix("ON CONFLICT (feed_url) DO NOTHING"))
	if err != nil {
		return nil, false, fmt.Errorf("insert feed: %w", err)
	}
	stored, err := db.GetFeedByURL(ctx, feed.FeedURL)
	if err != nil {
		return nil, false, fmt.Errorf("load feed: %w", err)
	}
	return stored, n > 0, nil
}

// UpdateFeedLastFetched sets the last fetch time for a feed.
func (db *DB) UpdateFeedLastFetched(ctx context.Context, feedID int64, t time.Time) error {
	_, err := db.exec(ctx, db.sb.Update("feeds").
		Set("last_fetched_at", utc(t)).
		Where(sq.Eq{"id": feedID}))
	return err
}

// GetActiveFeeds returns every feed with at least one active subscription.
func (db *DB) GetActiveFeeds(ctx context.Context) ([]model.Feed, error) {
	return db.feeds(ctx, db.sb.Select(feedColumns...).Distinct().
		From("feeds f").
		Join("subscriptions s ON s.feed_id = f.id").
		Where(sq.Eq{"s.active": true}).
		OrderBy("f.id"))
}
