package filetree

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ncw/directio"
	bolt "go.etcd.io/bbolt"

	"github.com/mhbvr/gallery"
	gerrors "github.com/mhbvr/gallery/errors"
)

const (
	metaBucket = "media_items"
	metaFile   = "meta"
	dataDir    = "data"
)

// FileTreeDB implements DBWriter and DBReader using bbolt for metadata and
// the filesystem for item data
type FileTreeDB struct {
	metaPath string
	dataPath string
	db       *bolt.DB
}

// New creates a new FileTreeDB for writing
func New(dbDir string) (*FileTreeDB, error) {
	metaPath := filepath.Join(dbDir, metaFile)
	dataPath := filepath.Join(dbDir, dataDir)

	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(metaPath, 0644, &bolt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &FileTreeDB{
		metaPath: metaPath,
		dataPath: dataPath,
		db:       db,
	}, nil
}

// NewReader creates a new FileTreeDB for reading (read-only mode)
func NewReader(dbDir string) (*FileTreeDB, error) {
	metaPath := filepath.Join(dbDir, metaFile)
	dataPath := filepath.Join(dbDir, dataDir)

	db, err := bolt.Open(metaPath, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	return &FileTreeDB{
		metaPath: metaPath,
		dataPath: dataPath,
		db:       db,
	}, nil
}

func (w *FileTreeDB) Close() error {
	return w.db.Close()
}

func (w *FileTreeDB) generateKey(albumID, itemID uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], albumID)
	binary.BigEndian.PutUint64(key[8:], itemID)
	return key
}

func (w *FileTreeDB) parseKey(key []byte) (albumID, itemID uint64) {
	if len(key) != 16 {
		return 0, 0
	}
	albumID = binary.BigEndian.Uint64(key[:8])
	itemID = binary.BigEndian.Uint64(key[8:])
	return albumID, itemID
}

func (w *FileTreeDB) generateFilename(albumID, itemID uint64) string {
	key := w.generateKey(albumID, itemID)
	hash := sha256.Sum256(key)
	return fmt.Sprintf("%x", hash)
}

func (w *FileTreeDB) getItemPath(albumID, itemID uint64) string {
	filename := w.generateFilename(albumID, itemID)
	xx := filename[:2]
	dir := filepath.Join(w.dataPath, xx)
	return filepath.Join(dir, filename)
}

func (w *FileTreeDB) writeFile(rec *gallery.MediaRecord, data []byte) error {
	itemPath := w.getItemPath(rec.AlbumID, rec.ItemID)

	if err := os.MkdirAll(filepath.Dir(itemPath), 0755); err != nil {
		return fmt.Errorf("failed to create item directory: %w", err)
	}

	if err := os.WriteFile(itemPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write item file: %w", err)
	}
	return nil
}

func (w *FileTreeDB) putMeta(bucket *bolt.Bucket, rec gallery.MediaRecord, dataLen int) error {
	key := w.generateKey(rec.AlbumID, rec.ItemID)

	var prev *gallery.MediaRecord
	if old := bucket.Get(key); old != nil {
		var err error
		if prev, err = gallery.UnmarshalRecord(old); err != nil {
			return err
		}
	}
	rec.NextVersion(prev, dataLen)

	meta, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := bucket.Put(key, meta); err != nil {
		return fmt.Errorf("failed to update meta for album_id=%d, item_id=%d: %w", rec.AlbumID, rec.ItemID, err)
	}
	return nil
}

func (w *FileTreeDB) AddItem(rec gallery.MediaRecord, data []byte) error {
	return w.AddItemsBatch([]gallery.ItemData{{Record: rec, Data: data}})
}

func (w *FileTreeDB) AddItemsBatch(items []gallery.ItemData) error {
	// Files go first so that readers never see metadata without data
	for i := range items {
		if err := w.writeFile(&items[i].Record, items[i].Data); err != nil {
			return err
		}
	}

	err := w.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(metaBucket))
		for _, item := range items {
			if err := w.putMeta(bucket, item.Record, len(item.Data)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update meta database: %w", err)
	}

	return nil
}

func (w *FileTreeDB) GetAllAlbumIDs() ([]uint64, error) {
	var albumIDs []uint64

	err := w.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(metaBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", metaBucket)
		}

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

func (w *FileTreeDB) GetItemIDs(albumID uint64) ([]uint64, error) {
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

func (w *FileTreeDB) GetItemRecord(albumID, itemID uint64) (*gallery.MediaRecord, error) {
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

func (w *FileTreeDB) GetItemData(albumID, itemID uint64) ([]byte, error) {
	if _, err := w.GetItemRecord(albumID, itemID); err != nil {
		return nil, err
	}

	itemPath := w.getItemPath(albumID, itemID)

	// Open file with O_DIRECT flag
	file, err := directio.OpenFile(itemPath, os.O_RDONLY, 0644)
	if err != nil {
		// Some filesystems (tmpfs) refuse O_DIRECT
		data, rerr := os.ReadFile(itemPath)
		if rerr != nil {
			return nil, fmt.Errorf("failed to read item file %s: %w", itemPath, rerr)
		}
		return data, nil
	}
	defer file.Close()

	// Get file size
	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat item file %s: %w", itemPath, err)
	}

	// Allocate aligned block for reading
	block := directio.AlignedBlock(directio.BlockSize)
	itemData := make([]byte, 0, fileInfo.Size())

	// Read file in chunks
	for {
		n, err := io.ReadFull(file, block)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read item file %s: %w", itemPath, err)
		}
		if n > 0 {
			itemData = append(itemData, block[:n]...)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
	}

	return itemData, nil
}
