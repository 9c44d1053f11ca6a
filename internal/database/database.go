// Package database provides SQLite and PostgreSQL storage for feedtrak.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// DB wraps a SQL connection. The same query code serves both backends;
// only the placeholder format and schema differ.
type DB struct {
	conn     *sql.DB
	sb       sq.StatementBuilderType
	postgres bool
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// Open picks a backend by driver name ("sqlite" or "postgres").
func Open(driver, path, dsn string) (*DB, error) {
	switch driver {
	case "", "sqlite":
		return New(path)
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serialises writers; busy_timeout covers external readers.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}
	db := &DB{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
	if err := db.migrate(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	if db.postgres {
		return "PostgreSQL"
	}
	return "SQLite"
}

// SupportsHighConcurrency returns true for PostgreSQL.
func (db *DB) SupportsHighConcurrency() bool {
	return db.postgres
}

func (db *DB) migrate(schema string) error {
	_, err := db.conn.Exec(schema)
	return err
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site_url TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		feed_url TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL DEFAULT 'rss',
		icon_url TEXT NOT NULL DEFAULT '',
		last_fetched_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		guid TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		excerpt TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT,
		author TEXT NOT NULL DEFAULT '',
		published_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE(feed_id, guid)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_feed_published ON entries(feed_id, published_at);
	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		sort_order INTEGER NOT NULL DEFAULT 0,
		UNIQUE(user_id, name)
	);
	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		category_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
		active INTEGER NOT NULL DEFAULT 1,
		UNIQUE(user_id, feed_id)
	);
	CREATE TABLE IF NOT EXISTS read_states (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		entry_id INTEGER NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
		is_read INTEGER NOT NULL DEFAULT 0,
		read_at DATETIME,
		UNIQUE(user_id, entry_id)
	);
	CREATE TABLE IF NOT EXISTS saved_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		entry_id INTEGER NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL,
		UNIQUE(user_id, entry_id)
	);
	CREATE TABLE IF NOT EXISTS preferences (
		user_id INTEGER NOT NULL,
		pref_key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (user_id, pref_key)
	);
	`

// --- Helpers ---

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// exec runs a built statement and returns the affected row count.
func (db *DB) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return db.conn.QueryRowContext(ctx, query, args...), nil
}

func (db *DB) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return db.conn.QueryContext(ctx, query, args...)
}

func (db *DB) count(ctx context.Context, b sq.SelectBuilder) (int, error) {
	row, err := db.queryRow(ctx, b)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (db *DB) int64s(ctx context.Context, b sq.SelectBuilder) ([]int64, error) {
	rows, err := db.query(ctx, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
