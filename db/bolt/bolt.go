package bolt

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/mhbvr/gallery"
	gerrors "github.com/mhbvr/gallery/errors"
)

const (
	metaBucket = "meta"
	itemBucket = "items"
)

// BoltDB implements DBWriter and DBReader using a single bbolt file for everything
type BoltDB struct {
	db *bolt.DB
}

// New opens (creating if needed) a BoltDB for reading and writing
func New(dbPath string) (*BoltDB, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(metaBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(itemBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltDB{
		db: db,
	}, nil
}

// NewReader opens an existing BoltDB in read-only mode
func NewReader(dbPath string) (*BoltDB, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	return &BoltDB{
		db: db,
	}, nil
}

func (w *BoltDB) Close() error {
	return w.db.Close()
}

func (w *BoltDB) generateKey(albumID, itemID uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], albumID)
	binary.BigEndian.PutUint64(key[8:], itemID)
	return key
}

func (w *BoltDB) parseKey(key []byte) (albumID, itemID uint64) {
	if len(key) != 16 {
		return 0, 0
	}
	albumID = binary.BigEndian.Uint64(key[:8])
	itemID = binary.BigEndian.Uint64(key[8:])
	return albumID, itemID
}

func (w *BoltDB) putItem(tx *bolt.Tx, rec gallery.MediaRecord, data []byte) error {
	key := w.generateKey(rec.AlbumID, rec.ItemID)
	metaBucket := tx.Bucket([]byte(metaBucket))
	itemBucket := tx.Bucket([]byte(itemBucket))

	var prev *gallery.MediaRecord
	if old := metaBucket.Get(key); old != nil {
		var err error
		if prev, err = gallery.UnmarshalRecord(old); err != nil {
			return err
		}
	}
	rec.NextVersion(prev, len(data))

	meta, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := metaBucket.Put(key, meta); err != nil {
		return fmt.Errorf("failed to update meta bucket for album_id=%d, item_id=%d: %w", rec.AlbumID, rec.ItemID, err)
	}
	if err := itemBucket.Put(key, data); err != nil {
		return fmt.Errorf("failed to update item bucket for album_id=%d, item_id=%d: %w", rec.AlbumID, rec.ItemID, err)
	}
	return nil
}

func (w *BoltDB) AddItem(rec gallery.MediaRecord, data []byte) error {
	return w.db.Update(func(tx *bolt.Tx) error {
		return w.putItem(tx, rec, data)
	})
}

func (w *BoltDB) AddItemsBatch(items []gallery.ItemData) error {
	return w.db.Update(func(tx *bolt.Tx) error {
		for _, item := range items {
			if err := w.putItem(tx, item.Record, item.Data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *BoltDB) GetAllAlbumIDs() ([]uint64, error) {
	var albumIDs []uint64

	err := w.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(metaBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", metaBucket)
		}

		// Keys are sorted, so equal album IDs are adjacent
		cursor := bucket.Cursor()
		for key, _ := cursor.First(); key != nil; key, _ = cursor.Next() {
			albumID, _ := w.parseKey(key)
			if n := len(albumIDs); n == 0 || albumIDs[n-1] != albumID {
				albumIDs = append(albumIDs, albumID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return albumIDs, nil
}

func (w *BoltDB) GetItemIDs(albumID uint64) ([]uint64, error) {
	var itemIDs []uint64

	err := w.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(metaBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", metaBucket)
		}

		cursor := bucket.Cursor()
		for key, _ := cursor.Seek(w.generateKey(albumID, 0)); key != nil; key, _ = cursor.Next() {
			keyAlbumID, itemID := w.parseKey(key)
			if keyAlbumID != albumID {
				break
			}
			itemIDs = append(itemIDs, itemID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return itemIDs, nil
}

func (w *BoltDB) GetItemRecord(albumID, itemID uint64) (*gallery.MediaRecord, error) {
	var rec *gallery.MediaRecord

	err := w.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(metaBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", metaBucket)
		}

		value := bucket.Get(w.generateKey(albumID, itemID))
		if value == nil {
			return gerrors.NewNotFound(fmt.Sprintf("item with album_id=%d, item_id=%d not found in database", albumID, itemID))
		}

		var err error
		rec, err = gallery.UnmarshalRecord(value)
		return err
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (w *BoltDB) GetItemData(albumID, itemID uint64) ([]byte, error) {
	var data []byte

	err := w.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(itemBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", itemBucket)
		}

		value := bucket.Get(w.generateKey(albumID, itemID))
		if value == nil {
			return gerrors.NewNotFound(fmt.Sprintf("item with album_id=%d, item_id=%d not found in database", albumID, itemID))
		}

		// Values are only valid for the life of the transaction
		data = make([]byte, len(value))
		copy(data, value)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}
