package pebble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/mhbvr/gallery"
	gerrors "github.com/mhbvr/gallery/errors"
)

const (
	metaPrefix = "meta:"
	itemPrefix = "item:"

	// First key past every meta key (';' follows ':')
	metaUpperBound = "meta;"
)

// PebbleDB implements DBWriter and DBReader interfaces using Pebble key-value storage
type PebbleDB struct {
	db *pebble.DB
	// Serializes read-modify-write of item versions
	writeMu sync.Mutex
}

// New creates a new PebbleDB for writing
func New(dbPath string) (*PebbleDB, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	return &PebbleDB{
		db: db,
	}, nil
}

// NewReader creates a new PebbleDB for reading (read-only mode)
func NewReader(dbPath string) (*PebbleDB, error) {
	opts := &pebble.Options{
		ReadOnly: true,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	return &PebbleDB{
		db: db,
	}, nil
}

func (p *PebbleDB) Close() error {
	return p.db.Close()
}

func (p *PebbleDB) generateKey(albumID, itemID uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], albumID)
	binary.BigEndian.PutUint64(key[8:], itemID)
	return key
}

func (p *PebbleDB) parseKey(key []byte) (albumID, itemID uint64) {
	if len(key) != 16 {
		return 0, 0
	}
	albumID = binary.BigEndian.Uint64(key[:8])
	itemID = binary.BigEndian.Uint64(key[8:])
	return albumID, itemID
}

func (p *PebbleDB) prefixed(prefix string, key []byte) []byte {
	prefixedKey := make([]byte, len(prefix)+len(key))
	copy(prefixedKey, prefix)
	copy(prefixedKey[len(prefix):], key)
	return prefixedKey
}

func (p *PebbleDB) metaKey(albumID, itemID uint64) []byte {
	return p.prefixed(metaPrefix, p.generateKey(albumID, itemID))
}

func (p *PebbleDB) itemKey(albumID, itemID uint64) []byte {
	return p.prefixed(itemPrefix, p.generateKey(albumID, itemID))
}

// albumBounds returns the meta key range holding all items of an album
func (p *PebbleDB) albumBounds(albumID uint64) (lower, upper []byte) {
	album := make([]byte, 8)
	binary.BigEndian.PutUint64(album, albumID)
	lower = p.prefixed(metaPrefix, album)
	upper = append(p.prefixed(metaPrefix, album), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00)
	return lower, upper
}

func (p *PebbleDB) getRecord(albumID, itemID uint64) (*gallery.MediaRecord, error) {
	data, closer, err := p.db.Get(p.metaKey(albumID, itemID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, gerrors.NewNotFound(fmt.Sprintf("item with album_id=%d, item_id=%d not found in database", albumID, itemID))
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	defer closer.Close()

	return gallery.UnmarshalRecord(data)
}

// setItem adds the item to batch. pending holds versions already written
// earlier in the same batch.
func (p *PebbleDB) setItem(batch *pebble.Batch, pending map[gallery.Path]*gallery.MediaRecord, rec gallery.MediaRecord, data []byte) error {
	prev, ok := pending[rec.Path()]
	if !ok {
		var err error
		prev, err = p.getRecord(rec.AlbumID, rec.ItemID)
		if err != nil && !errors.Is(err, gerrors.ErrNotFound) {
			return err
		}
	}
	rec.NextVersion(prev, len(data))

	meta, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	// Add metadata entry
	if err := batch.Set(p.metaKey(rec.AlbumID, rec.ItemID), meta, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to set metadata for album_id=%d, item_id=%d: %w", rec.AlbumID, rec.ItemID, err)
	}

	// Add item data
	if err := batch.Set(p.itemKey(rec.AlbumID, rec.ItemID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to set item data for album_id=%d, item_id=%d: %w", rec.AlbumID, rec.ItemID, err)
	}

	pending[rec.Path()] = &rec
	return nil
}

func (p *PebbleDB) AddItem(rec gallery.MediaRecord, data []byte) error {
	return p.AddItemsBatch([]gallery.ItemData{{Record: rec, Data: data}})
}

func (p *PebbleDB) AddItemsBatch(items []gallery.ItemData) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	batch := p.db.NewBatch()
	defer batch.Close()

	pending := make(map[gallery.Path]*gallery.MediaRecord, len(items))
	for _, item := range items {
		if err := p.setItem(batch, pending, item.Record, item.Data); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	return nil
}

func (p *PebbleDB) GetAllAlbumIDs() ([]uint64, error) {
	var albumIDs []uint64

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(metaPrefix),
		UpperBound: []byte(metaUpperBound),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(metaPrefix)+16 {
			continue
		}
		albumID, _ := p.parseKey(key[len(metaPrefix):])
		if n := len(albumIDs); n == 0 || albumIDs[n-1] != albumID {
			albumIDs = append(albumIDs, albumID)
		}
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}

	return albumIDs, nil
}

func (p *PebbleDB) GetItemIDs(albumID uint64) ([]uint64, error) {
	var itemIDs []uint64

	lower, upper := p.albumBounds(albumID)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(metaPrefix)+16 {
			continue
		}
		_, itemID := p.parseKey(key[len(metaPrefix):])
		itemIDs = append(itemIDs, itemID)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}

	return itemIDs, nil
}

func (p *PebbleDB) GetItemRecord(albumID, itemID uint64) (*gallery.MediaRecord, error) {
	return p.getRecord(albumID, itemID)
}

func (p *PebbleDB) GetItemData(albumID, itemID uint64) ([]byte, error) {
	data, closer, err := p.db.Get(p.itemKey(albumID, itemID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, gerrors.NewNotFound(fmt.Sprintf("item with album_id=%d, item_id=%d not found in database", albumID, itemID))
		}
		return nil, fmt.Errorf("failed to get item data: %w", err)
	}
	defer closer.Close()

	// Copy the data since it's only valid until closer.Close()
	itemData := make([]byte, len(data))
	copy(itemData, data)

	return itemData, nil
}
