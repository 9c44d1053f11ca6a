package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/bryan-buckman/feedtrak/internal/model"
)

// --- Subscription Methods ---

// SubscribeIfAbsent links a user to a feed. Returns true if the subscription is new.
func (db *DB) SubscribeIfAbsent(ctx context.Context, userID, feedID int64, categoryID *int64) (bool, error) {
	n, err := db.exec(ctx, db.sb.Insert("subscriptions").
		Columns("user_id", "feed_id", "category_id", "active").
		Values(userID, feedID, categoryID, true).
		Suffix("ON CONFLICT (user_id, feed_id) DO NOTHING"))
	if err != nil {
		return false, fmt.Errorf("insert subscription: %w", err)
	}
	return n > 0, nil
}

// GetSubscription returns the user's subscription to a feed.
func (db *DB) GetSubscription(ctx context.Context, userID, feedID int64) (*model.Subscription, error) {
	row, err := db.queryRow(ctx, db.sb.Select("id", "user_id", "feed_id", "category_id", "active").
		From("subscriptions").
		Where(sq.Eq{"user_id": userID, "feed_id": feedID}))
	if err != nil {
		return nil, err
	}
	var s model.Subscription
	var categoryID sql.NullInt64
	if err := row.Scan(&s.ID, &s.UserID, &s.FeedID, &categoryID, &s.Active); err != nil {
		return nil, notFound(err)
	}
	if categoryID.Valid {
		s.CategoryID = &categoryID.Int64
	}
	return &s, nil
}

// Unsubscribe removes a user's subscription. The feed itself is shared and kept.
func (db *DB) Unsubscribe(ctx context.Context, userID, feedID int64) error {
	n, err := db.exec(ctx, db.sb.Delete("subscriptions").Where(sq.Eq{"user_id": userID, "feed_id": feedID}))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSubscriptionCategory moves a subscription into a category, or out of
// every category when categoryID is nil.
func (db *DB) SetSubscriptionCategory(ctx context.Context, userID, feedID int64, categoryID *int64) error {
	n, err := db.exec(ctx, db.sb.Update("subscriptions").
		Set("category_id", categoryID).
		Where(sq.Eq{"user_id": userID, "feed_id": feedID}))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// feedUnreadColumn counts the subscriber's unread entries of f, correlated
// on the subscriptions row s.
const feedUnreadColumn = `(SELECT COUNT(*) FROM entries ue
	LEFT JOIN read_states ur ON ur.entry_id = ue.id AND ur.user_id = s.user_id
	WHERE ue.feed_id = f.id AND (ur.id IS NULL OR ur.is_read = FALSE))`

// GetSubscribedFeeds returns the user's feeds with their category names and
// unread counts.
func (db *DB) GetSubscribedFeeds(ctx context.Context, userID int64) ([]model.SubscribedFeed, error) {
	cols := append(append([]string{}, feedColumns...), "s.category_id", "COALESCE(c.name, '')", feedUnreadColumn)
	rows, err := db.query(ctx, db.sb.Select(cols...).
		From("feeds f").
		Join("subscriptions s ON s.feed_id = f.id").
		LeftJoin("categories c ON c.id = s.category_id").
		Where(sq.Eq{"s.user_id": userID}).
		OrderBy("COALESCE(c.sort_order, 0)", "f.title", "f.id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var feeds []model.SubscribedFeed
	for rows.Next() {
		var categoryID sql.NullInt64
		var categoryName string
		var unread int
		f, err := scanFeed(rows, &categoryID, &categoryName, &unread)
		if err != nil {
			return nil, err
		}
		sf := model.SubscribedFeed{Feed: *f, CategoryName: categoryName, UnreadCount: unread}
		if categoryID.Valid {
			id := categoryID.Int64
			sf.CategoryID = &id
		}
		feeds = append(feeds, sf)
	}
	return feeds, rows.Err()
}

// GetStaleFeeds returns the user's active feeds not fetched since fetchedBefore.
func (db *DB) GetStaleFeeds(ctx context.Context, userID int64, fetchedBefore time.Time) ([]model.Feed, error) {
	return db.feeds(ctx, db.sb.Select(feedColumns...).
		From("feeds f").
		Join("subscriptions s ON s.feed_id = f.id").
		Where(sq.Eq{"s.user_id": userID, "s.active": true}).
		Where(sq.Or{
			sq.Eq{"f.last_fetched_at": nil},
			sq.Lt{"f.last_fetched_at": utc(fetchedBefore)},
		}).
		OrderBy("f.id"))
}

// IsSubscribedToURL reports whether the user follows a feed whose feed URL
// or site URL equals rawURL.
func (db *DB) IsSubscribedToURL(ctx context.Context, userID int64, rawURL string) (bool, error) {
	n, err := db.count(ctx, db.sb.Select("COUNT(*)").
		From("feeds f").
		Join("subscriptions s ON s.feed_id = f.id").
		Where(sq.Eq{"s.user_id": userID}).
		Where(sq.Or{sq.Eq{"f.feed_url": rawURL}, sq.Eq{"f.site_url": rawURL}}))
	return n > 0, err
}

// --- Read State Methods ---

// SeedUnread records explicit unread rows for the given entries. Existing
// read state is left alone. Returns the number of rows written.
func (db *DB) SeedUnread(ctx context.Context, userID int64, entryIDs []int64) (int, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	query, _, err := db.sb.Insert("read_states").
		Columns("user_id", "entry_id", "is_read").
		Values(userID, int64(0), false).
		Suffix("ON CONFLICT (user_id, entry_id) DO NOTHING").
		ToSql()
	if err != nil {
		return 0, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	seeded := 0
	for _, id := range entryIDs {
		res, err := stmt.ExecContext(ctx, userID, id, false)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			seeded++
		}
	}
	return seeded, tx.Commit()
}

func (db *DB) upsertReadStateQuery() (string, error) {
	query, _, err := db.sb.Insert("read_states").
		Columns("user_id", "entry_id", "is_read", "read_at").
		Values(int64(0), int64(0), false, nil).
		Suffix("ON CONFLICT (user_id, entry_id) DO UPDATE SET is_read = excluded.is_read, read_at = excluded.read_at").
		ToSql()
	return query, err
}

// SetReadState marks an entry read or unread for a user.
func (db *DB) SetReadState(ctx context.Context, userID, entryID int64, read bool, at time.Time) error {
	query, err := db.upsertReadStateQuery()
	if err != nil {
		return err
	}
	var readAt any
	if read {
		readAt = utc(at)
	}
	_, err = db.conn.ExecContext(ctx, query, userID, entryID, read, readAt)
	return err
}

// GetReadState returns the stored read state, or ErrNotFound if the entry
// has never been touched by the user.
func (db *DB) GetReadState(ctx context.Context, userID, entryID int64) (*model.ReadState, error) {
	row, err := db.queryRow(ctx, db.sb.Select("user_id", "entry_id", "is_read", "read_at").
		From("read_states").
		Where(sq.Eq{"user_id": userID, "entry_id": entryID}))
	if err != nil {
		return nil, err
	}
	var rs model.ReadState
	var readAt sql.NullTime
	if err := row.Scan(&rs.UserID, &rs.EntryID, &rs.IsRead, &readAt); err != nil {
		return nil, notFound(err)
	}
	if readAt.Valid {
		rs.ReadAt = &readAt.Time
	}
	return &rs, nil
}

// MarkFeedRead marks every entry of a feed read for the user.
func (db *DB) MarkFeedRead(ctx context.Context, userID, feedID int64, at time.Time) error {
	ids, err := db.int64s(ctx, db.sb.Select("id").From("entries").Where(sq.Eq{"feed_id": feedID}))
	if err != nil {
		return err
	}
	return db.markRead(ctx, userID, ids, at)
}

// MarkAllRead marks every entry of every subscribed feed read for the user.
func (db *DB) MarkAllRead(ctx context.Context, userID int64, at time.Time) error {
	ids, err := db.int64s(ctx, db.sb.Select("e.id").
		From("entries e").
		Join("subscriptions s ON s.feed_id = e.feed_id").
		Where(sq.Eq{"s.user_id": userID}))
	if err != nil {
		return err
	}
	return db.markRead(ctx, userID, ids, at)
}

func (db *DB) markRead(ctx context.Context, userID int64, entryIDs []int64, at time.Time) error {
	if len(entryIDs) == 0 {
		return nil
	}
	query, err := db.upsertReadStateQuery()
	if err != nil {
		return err
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	readAt := utc(at)
	for _, id := range entryIDs {
		if _, err := stmt.ExecContext(ctx, userID, id, true, readAt); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// CountUnread counts entries of the user's active subscriptions that have
// no read state or an explicit unread one.
func (db *DB) CountUnread(ctx context.Context, userID int64) (int, error) {
	return db.count(ctx, db.sb.Select("COUNT(*)").
		From("entries e").
		Join("subscriptions s ON s.feed_id = e.feed_id").
		LeftJoin("read_states r ON r.entry_id = e.id AND r.user_id = ?", userID).
		Where(sq.Eq{"s.user_id": userID, "s.active": true}).
		Where(sq.Or{sq.Eq{"r.id": nil}, sq.Eq{"r.is_read": false}}))
}

// --- Saved Item Methods ---

// SaveEntry bookmarks an entry. Returns true if it was not saved before.
func (db *DB) SaveEntry(ctx context.Context, userID, entryID int64) (bool, error) {
	n, err := db.exec(ctx, db.sb.Insert("saved_items").
		Columns("user_id", "entry_id", "created_at").
		Values(userID, entryID, utc(time.Now())).
		Suffix("ON CONFLICT (user_id, entry_id) DO NOTHING"))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UnsaveEntry removes a bookmark. Removing a missing bookmark is not an error.
func (db *DB) UnsaveEntry(ctx context.Context, userID, entryID int64) error {
	_, err := db.exec(ctx, db.sb.Delete("saved_items").Where(sq.Eq{"user_id": userID, "entry_id": entryID}))
	return err
}

// CountSaved returns the number of bookmarks a user holds.
func (db *DB) CountSaved(ctx context.Context, userID int64) (int, error) {
	return db.count(ctx, db.sb.Select("COUNT(*)").From("saved_items").Where(sq.Eq{"user_id": userID}))
}

// --- Category Methods ---

var categoryColumns = []string{"id", "user_id", "name", "sort_order"}

func scanCategory(s scanner) (*model.Category, error) {
	var c model.Category
	if err := s.Scan(&c.ID, &c.UserID, &c.Name, &c.SortOrder); err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) category(ctx context.Context, where sq.Eq) (*model.Category, error) {
	row, err := db.queryRow(ctx, db.sb.Select(categoryColumns...).From("categories").Where(where))
	if err != nil {
		return nil, err
	}
	c, err := scanCategory(row)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// GetCategories returns the user's categories in display order.
func (db *DB) GetCategories(ctx context.Context, userID int64) ([]model.Category, error) {
	rows, err := db.query(ctx, db.sb.Select(categoryColumns...).
		From("categories").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("sort_order", "name"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var categories []model.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, *c)
	}
	return categories, rows.Err()
}

// GetCategoryByID returns one of the user's categories.
func (db *DB) GetCategoryByID(ctx context.Context, userID, categoryID int64) (*model.Category, error) {
	return db.category(ctx, sq.Eq{"id": categoryID, "user_id": userID})
}

// CreateCategory appends a category after the user's existing ones. A name
// the user already owns resolves to the existing category.
func (db *DB) CreateCategory(ctx context.Context, userID int64, name string) (*model.Category, error) {
	maxOrder, err := db.count(ctx, db.sb.Select("COALESCE(MAX(sort_order), 0)").
		From("categories").
		Where(sq.Eq{"user_id": userID}))
	if err != nil {
		return nil, err
	}
	if _, err := db.exec(ctx, db.sb.Insert("categories").
		Columns("user_id", "name", "sort_order").
		Values(userID, name, maxOrder+1).
		Suffix("ON CONFLICT (user_id, name) DO NOTHING")); err != nil {
		return nil, fmt.Errorf("insert category: %w", err)
	}
	return db.category(ctx, sq.Eq{"user_id": userID, "name": name})
}

// RenameCategory changes a category's name.
func (db *DB) RenameCategory(ctx context.Context, userID, categoryID int64, name string) error {
	n, err := db.exec(ctx, db.sb.Update("categories").
		Set("name", name).
		Where(sq.Eq{"id": categoryID, "user_id": userID}))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCategory removes a category. Its subscriptions become uncategorized.
func (db *DB) DeleteCategory(ctx context.Context, userID, categoryID int64) error {
	detach, detachArgs, err := db.sb.Update("subscriptions").
		Set("category_id", nil).
		Where(sq.Eq{"user_id": userID, "category_id": categoryID}).
		ToSql()
	if err != nil {
		return err
	}
	del, delArgs, err := db.sb.Delete("categories").
		Where(sq.Eq{"id": categoryID, "user_id": userID}).
		ToSql()
	if err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, detach, detachArgs...); err != nil {
		tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, del, delArgs...)
	if err != nil {
		tx.Rollback()
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	return tx.Commit()
}

// --- Preference Methods ---

// GetPreference returns a user preference, or ErrNotFound if unset.
func (db *DB) GetPreference(ctx context.Context, userID int64, key string) (string, error) {
	row, err := db.queryRow(ctx, db.sb.Select("value").
		From("preferences").
		Where(sq.Eq{"user_id": userID, "pref_key": key}))
	if err != nil {
		return "", err
	}
	var value string
	if err := row.Scan(&value); err != nil {
		return "", notFound(err)
	}
	return value, nil
}

// SetPreference creates or replaces a user preference.
func (db *DB) SetPreference(ctx context.Context, userID int64, key, value string) error {
	_, err := db.exec(ctx, db.sb.Insert("preferences").
		Columns("user_id", "pref_key", "value").
		Values(userID, key, value).
		Suffix("ON CONFLICT (user_id, pref_key) DO UPDATE SET value = excluded.value"))
	return err
}
