package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var snapshotBucket = []byte("usage_snapshots")

// CachedSnapshot is a stored snapshot with its fetch time.
type CachedSnapshot struct {
	Snapshot  *Snapshot `json:"snapshot"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Cache persists the last successful snapshot per profile so usage can
// still be rendered, marked stale, when a provider is unreachable.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if needed) the snapshot cache at path.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open usage cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, errBucket := tx.CreateBucketIfNotExists(snapshotBucket)
		return errBucket
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Put stores the snapshot as the last known state for its profile.
func (c *Cache) Put(profileID string, snapshot *Snapshot) error {
	entry := CachedSnapshot{Snapshot: snapshot, FetchedAt: time.Now()}
	data, err := json.Marshal(&entry)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(profileID), data)
	})
}

// Get returns the cached snapshot for a profile, or nil when none exists.
func (c *Cache) Get(profileID string) (*CachedSnapshot, error) {
	var entry *CachedSnapshot
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(snapshotBucket).Get([]byte(profileID))
		if data == nil {
			return nil
		}
		entry = &CachedSnapshot{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
