// Package cache implements the read-through JSON Cache, §4.K: a
// persistent key/value store gated by TTL and content-hash, with
// concurrent-miss collapsing. Grounded on
// ipiton-alert-history-service/pkg/history/cache's L2Cache shape
// (get/set/delete/stats), swapping its Redis backend for an embedded
// go.etcd.io/bbolt store since the core has no network cache tier.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"

	"contentd/internal/errs"
)

var (
	bucketPayload  = []byte("json_cache")
	bucketMetadata = []byte("cache_metadata")
)

// entryMeta is stored alongside the payload so get() can evaluate TTL
// and content-hash staleness without deserializing the payload.
type entryMeta struct {
	CachedAt    int64  `json:"cached_at"`
	TTLSeconds  int    `json:"ttl_seconds"`
	ContentHash string `json:"content_hash"`
}

// Cache is the read-through JSON cache handle. New wraps an already
// open *bbolt.DB, so the same library can back more than one
// persistent KV instance, §4.K; Open opens the bbolt file itself.
type Cache struct {
	db    *bbolt.DB
	now   func() time.Time
	group singleflight.Group
}

// Stats summarizes cache population; returned by Stats().
type Stats struct {
	Entries int
	Bytes   int64
}

// Open creates or opens a bbolt file at path and ensures both buckets
// exist.
func Open(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errs.StorageErr(err, true, "open cache store "+path)
	}
	c := New(db)
	if err := c.ensureBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an already-open bbolt handle.
func New(db *bbolt.DB) *Cache {
	return &Cache{db: db, now: time.Now}
}

func (c *Cache) ensureBuckets() error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPayload); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMetadata); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return errs.StorageErr(err, false, "create cache buckets")
	}
	return nil
}

// Close closes the underlying store.
func (c *Cache) Close() error { return c.db.Close() }

// Key builds the canonical "{entity_type}:{content_id}" cache key,
// §4.K.
func Key(entityType, contentID string) string {
	return entityType + ":" + contentID
}

// Get returns the cached payload for key, or (nil, false, nil) on a
// miss — including an expired entry, which is deleted before
// returning. expectedHash gates a stale hit per the self-healing
// invariant: a stored entry whose content_hash no longer matches the
// parent row is treated as absent.
func (c *Cache) Get(ctx context.Context, key string, expectedHash string) (json.RawMessage, bool, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.getOnce(key, expectedHash)
	})
	if err != nil {
		return nil, false, err
	}
	payload, ok := v.(json.RawMessage)
	if !ok || payload == nil {
		return nil, false, nil
	}
	return payload, true, nil
}

func (c *Cache) getOnce(key, expectedHash string) (json.RawMessage, error) {
	var payload []byte
	var meta entryMeta
	var found bool

	err := c.db.View(func(tx *bbolt.Tx) error {
		metaRaw := tx.Bucket(bucketMetadata).Get([]byte(key))
		if metaRaw == nil {
			return nil
		}
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return err
		}
		p := tx.Bucket(bucketPayload).Get([]byte(key))
		if p == nil {
			return nil
		}
		payload = append([]byte(nil), p...)
		found = true
		return nil
	})
	if err != nil {
		return nil, errs.StorageErr(err, true, "read cache entry "+key)
	}
	if !found {
		return nil, nil
	}

	age := c.now().Unix() - meta.CachedAt
	if age > int64(meta.TTLSeconds) {
		_ = c.Delete(context.Background(), key)
		return nil, nil
	}
	if expectedHash != "" && meta.ContentHash != expectedHash {
		_ = c.Delete(context.Background(), key)
		return nil, nil
	}
	return json.RawMessage(payload), nil
}

// Set writes payload and its metadata atomically in one KV
// transaction, §4.K.
func (c *Cache) Set(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration, contentHash string) error {
	meta := entryMeta{CachedAt: c.now().Unix(), TTLSeconds: int(ttl.Seconds()), ContentHash: contentHash}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return errs.StorageErr(err, false, "marshal cache metadata")
	}

	err = c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketPayload).Put([]byte(key), payload); err != nil {
			return err
		}
		return tx.Bucket(bucketMetadata).Put([]byte(key), metaRaw)
	})
	if err != nil {
		return errs.StorageErr(err, false, "write cache entry "+key)
	}
	return nil
}

// Delete removes key from both buckets. Satisfies
// storage.CacheInvalidator.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketPayload).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(bucketMetadata).Delete([]byte(key))
	})
	if err != nil {
		return errs.StorageErr(err, false, "delete cache entry "+key)
	}
	return nil
}

// DeletePrefix removes every key with the given prefix — used to drop
// an entire entity type's cache entries after a shape change, §4.F/§4.K.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		for _, bucketName := range [][]byte{bucketPayload, bucketMetadata} {
			b := tx.Bucket(bucketName)
			cur := b.Cursor()
			var toDelete [][]byte
			for k, _ := cur.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, _ = cur.Next() {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
			for _, k := range toDelete {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return errs.StorageErr(err, false, "delete cache prefix "+prefix)
	}
	return nil
}

func hasPrefix(k []byte, prefix string) bool {
	if len(k) < len(prefix) {
		return false
	}
	return string(k[:len(prefix)]) == prefix
}

// Clear empties both buckets.
func (c *Cache) Clear(ctx context.Context) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketPayload); err != nil {
			return err
		}
		if err := tx.DeleteBucket(bucketMetadata); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(bucketPayload); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketMetadata)
		return err
	})
	if err != nil {
		return errs.StorageErr(err, false, "clear cache")
	}
	return nil
}

// Stats reports entry count and approximate on-disk payload bytes.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPayload)
		return b.ForEach(func(k, v []byte) error {
			s.Entries++
			s.Bytes += int64(len(v))
			return nil
		})
	})
	if err != nil {
		return Stats{}, errs.StorageErr(err, true, "read cache stats")
	}
	return s, nil
}
