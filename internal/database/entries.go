package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/bryan-buckman/feedtrak/internal/model"
)

// --- Entry Methods ---

var entryColumns = []string{
	"e.id", "e.feed_id", "e.guid", "e.title", "e.content", "e.excerpt",
	"e.url", "e.thumbnail_url", "e.author", "e.published_at", "e.created_at",
}

func scanEntry(s scanner, extra ...any) (*model.Entry, error) {
	var e model.Entry
	var thumb sql.NullString
	var publishedAt, createdAt sql.NullTime
	dest := append([]any{
		&e.ID, &e.FeedID, &e.GUID, &e.Title, &e.Content, &e.Excerpt,
		&e.URL, &thumb, &e.Author, &publishedAt, &createdAt,
	}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	e.ThumbnailURL = thumb.String
	if publishedAt.Valid {
		e.PublishedAt = publishedAt.Time
	}
	if createdAt.Valid {
		e.CreatedAt = createdAt.Time
	}
	return &e, nil
}

// CreateEntryIfAbsent inserts an entry unless (feed_id, guid) already exists.
// Returns true if a new row was written.
func (db *DB) CreateEntryIfAbsent(ctx context.Context, entry *model.Entry) (bool, error) {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	n, err := db.exec(ctx, db.sb.Insert("entries").
		Columns("feed_id", "guid", "title", "content", "excerpt", "url",
			"thumbnail_url", "author", "published_at", "created_at").
		Values(entry.FeedID, entry.GUID, entry.Title, entry.Content, entry.Excerpt, entry.URL,
			nullString(entry.ThumbnailURL), entry.Author, utc(entry.PublishedAt), utc(createdAt)).
		Suffix("ON CONFLICT (feed_id, guid) DO NOTHING"))
	if err != nil {
		return false, fmt.Errorf("insert entry: %w", err)
	}
	return n > 0, nil
}

// GetEntryByID returns a single entry.
func (db *DB) GetEntryByID(ctx context.Context, entryID int64) (*model.Entry, error) {
	row, err := db.queryRow(ctx, db.sb.Select(entryColumns...).From("entries e").Where(sq.Eq{"e.id": entryID}))
	if err != nil {
		return nil, err
	}
	e, err := scanEntry(row)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// LatestEntryIDs returns the IDs of a feed's most recently published entries.
func (db *DB) LatestEntryIDs(ctx context.Context, feedID int64, limit int) ([]int64, error) {
	return db.int64s(ctx, db.sb.Select("id").From("entries").
		Where(sq.Eq{"feed_id": feedID}).
		OrderBy("published_at DESC", "id ASC").
		Limit(uint64(limit)))
}

// CountEntries returns how many entries are stored for a feed.
func (db *DB) CountEntries(ctx context.Context, feedID int64) (int, error) {
	return db.count(ctx, db.sb.Select("COUNT(*)").From("entries").Where(sq.Eq{"feed_id": feedID}))
}

// GetEntriesMissingThumbnail returns entries with a URL whose thumbnail has
// never been looked up, newest first.
func (db *DB) GetEntriesMissingThumbnail(ctx context.Context, limit int) ([]model.Entry, error) {
	rows, err := db.query(ctx, db.sb.Select(entryColumns...).From("entries e").
		Where(sq.NotEq{"e.url": ""}).
		Where(sq.Eq{"e.thumbnail_url": nil}).
		OrderBy("e.created_at DESC", "e.id DESC").
		Limit(uint64(limit)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// SetEntryThumbnail stores a thumbnail URL. An empty URL records that the
// lookup ran and found nothing, so the entry is not picked up again.
func (db *DB) SetEntryThumbnail(ctx context.Context, entryID int64, thumbnailURL string) error {
	_, err := db.exec(ctx, db.sb.Update("entries").
		Set("thumbnail_url", thumbnailURL).
		Where(sq.Eq{"id": entryID}))
	return err
}

// ListEntries returns a page of entries visible to the user, newest first.
// Saved listings are ordered by when the bookmark was made and include
// entries of feeds the user no longer follows.
func (db *DB) ListEntries(ctx context.Context, userID int64, filter EntryFilter, limit, offset int) ([]model.UserEntry, error) {
	cols := append(append([]string{}, entryColumns...),
		"f.title", "COALESCE(r.is_read, FALSE)", "sv.id IS NOT NULL")
	b := db.sb.Select(cols...).
		From("entries e").
		Join("feeds f ON f.id = e.feed_id")

	if filter.Saved {
		b = b.Join("saved_items sv ON sv.entry_id = e.id AND sv.user_id = ?", userID).
			LeftJoin("read_states r ON r.entry_id = e.id AND r.user_id = ?", userID).
			OrderBy("sv.created_at DESC", "e.id DESC")
	} else {
		b = b.Join("subscriptions s ON s.feed_id = e.feed_id AND s.user_id = ?", userID).
			LeftJoin("read_states r ON r.entry_id = e.id AND r.user_id = ?", userID).
			LeftJoin("saved_items sv ON sv.entry_id = e.id AND sv.user_id = ?", userID).
			Where(sq.Eq{"s.active": true}).
			OrderBy("e.published_at DESC", "e.id DESC")
	}
	if filter.FeedID != 0 {
		b = b.Where(sq.Eq{"e.feed_id": filter.FeedID})
	}
	if filter.Unread {
		b = b.Where(sq.Or{sq.Eq{"r.id": nil}, sq.Eq{"r.is_read": false}})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	if offset > 0 {
		b = b.Offset(uint64(offset))
	}

	rows, err := db.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	entries := []model.UserEntry{}
	for rows.Next() {
		var ue model.UserEntry
		e, err := scanEntry(rows, &ue.FeedTitle, &ue.IsRead, &ue.IsSaved)
		if err != nil {
			return nil, err
		}
		ue.Entry = *e
		entries = append(entries, ue)
	}
	return entries, rows.Err()
}
