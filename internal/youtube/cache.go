package youtube

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	bolt "go.etcd.io/bbolt"
)

var channelsBucket = []byte("channels")

// DefaultCacheTTL bounds how long a handle→channel mapping is trusted.
// Handles can be released and claimed by another channel.
const DefaultCacheTTL = 30 * 24 * time.Hour

// ChannelCache remembers resolved channel IDs by handle or custom name.
type ChannelCache interface {
	Lookup(key string) (string, bool)
	Store(key, channelID string) error
}

type cachedChannel struct {
	ChannelID  string    `json:"channel_id"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// BoltCache is a ChannelCache backed by a bbolt file.
type BoltCache struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// OpenBoltCache opens or creates the cache file at path.
func OpenBoltCache(path string, ttl time.Duration) (*BoltCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening channel cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(channelsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &BoltCache{db: db, ttl: ttl, now: time.Now}, nil
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}

// Lookup returns a cached channel ID that has not expired.
func (c *BoltCache) Lookup(key string) (string, bool) {
	var entry cachedChannel
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(channelsBucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("channel %q not cached", key)
		}
		return jsoniter.Unmarshal(data, &entry)
	})
	if err != nil || entry.ChannelID == "" {
		return "", false
	}
	if c.now().Sub(entry.ResolvedAt) > c.ttl {
		return "", false
	}
	return entry.ChannelID, true
}

// Store records a resolved channel ID.
func (c *BoltCache) Store(key, channelID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := jsoniter.Marshal(cachedChannel{ChannelID: channelID, ResolvedAt: c.now()})
		if err != nil {
			return err
		}
		return tx.Bucket(channelsBucket).Put([]byte(key), data)
	})
}
