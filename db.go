package gallery

import (
	"encoding/json"
	"fmt"
)

// DBWriter provides an abstract interface for writing media stores.
// Every write of an existing item bumps its version.
type DBWriter interface {
	// AddItem adds or replaces a single item
	AddItem(rec MediaRecord, data []byte) error

	// AddItemsBatch adds multiple items in a single transaction for better performance
	AddItemsBatch(items []ItemData) error

	// Close closes the database and releases resources
	Close() error
}

// DBReader provides an abstract interface for reading media stores.
type DBReader interface {
	// GetAllAlbumIDs returns all unique album IDs in the database
	GetAllAlbumIDs() ([]uint64, error)

	// GetItemIDs returns all item IDs of an album
	GetItemIDs(albumID uint64) ([]uint64, error)

	// GetItemRecord retrieves the metadata of an item
	GetItemRecord(albumID, itemID uint64) (*MediaRecord, error)

	// GetItemData retrieves the encoded image bytes of an item
	GetItemData(albumID, itemID uint64) ([]byte, error)

	// Close closes the database and releases resources
	Close() error
}

// DB is a store opened for both reading and writing.
type DB interface {
	DBReader
	DBWriter
}

// MediaRecord is the metadata kept for every item.
type MediaRecord struct {
	AlbumID     uint64   `json:"album_id"`
	ItemID      uint64   `json:"item_id"`
	Version     uint64   `json:"version"`
	Name        string   `json:"name"`
	MimeType    string   `json:"mime_type"`
	FilePath    string   `json:"file_path,omitempty"`
	DateTakenMs int64    `json:"date_taken_ms"`
	LatLong     LatLong  `json:"lat_long"`
	Tags        []string `json:"tags,omitempty"`
	Faces       []Face   `json:"faces,omitempty"`
	Rotation    int      `json:"rotation"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	Size        int64    `json:"size"`
}

// Path returns the item path of the record.
func (r *MediaRecord) Path() Path {
	return ItemPath(r.AlbumID, r.ItemID)
}

// ItemData represents an item with its metadata and binary data
type ItemData struct {
	Record MediaRecord
	Data   []byte
}

// Marshal encodes the record for storage.
func (r *MediaRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord decodes a record written by Marshal.
func UnmarshalRecord(data []byte) (*MediaRecord, error) {
	rec := &MediaRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode media record: %w", err)
	}
	return rec, nil
}

// NextVersion prepares rec to replace prev (nil when the item is new):
// the version is bumped and the size defaults to the data length.
func (r *MediaRecord) NextVersion(prev *MediaRecord, dataLen int) {
	r.Version = 1
	if prev != nil {
		r.Version = prev.Version + 1
	}
	if r.Size == 0 {
		r.Size = int64(dataLen)
	}
}
