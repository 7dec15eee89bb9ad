package imagecache

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/mhbvr/gallery/bufpool"
)

const cacheBucket = "image_cache"

// BoltCache keeps encoded images in a bbolt file.
type BoltCache struct {
	db *bolt.DB
}

// NewBolt opens or creates the cache file at path.
func NewBolt(path string) (*BoltCache, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open image cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cacheBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltCache{db: db}, nil
}

func (c *BoltCache) GetImageData(key Key, buf *bufpool.Buffer) (bool, error) {
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(cacheBucket)).Get(key.bytes())
		if value == nil {
			buf.Reset()
			return nil
		}
		// Values are only valid for the life of the transaction
		found = fill(buf, value)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read %s from image cache: %w", key, err)
	}
	return found, nil
}

func (c *BoltCache) PutImageData(key Key, data []byte) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(cacheBucket))

		variant := key.variant()
		var stale [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.Seek(variant); k != nil && bytes.HasPrefix(k, variant); k, _ = cursor.Next() {
			// Only the version suffix may follow the variant prefix
			if len(k) == len(variant)+8 {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}

		return bucket.Put(key.bytes(), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s to image cache: %w", key, err)
	}
	return nil
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}
