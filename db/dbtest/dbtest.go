// Package dbtest holds the behaviour every gallery store backend must show.
package dbtest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhbvr/gallery"
	gerrors "github.com/mhbvr/gallery/errors"
)

// Opener returns a fresh empty store. Closing it is up to the caller.
type Opener func(t *testing.T) gallery.DB

// Record returns a minimal valid record for tests.
func Record(albumID, itemID uint64) gallery.MediaRecord {
	return gallery.MediaRecord{
		AlbumID:     albumID,
		ItemID:      itemID,
		Name:        "item.jpg",
		MimeType:    gallery.MimeTypeJPEG,
		DateTakenMs: int64(itemID) * 1000,
		Width:       4,
		Height:      3,
	}
}

// Run executes the shared suite against the stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("RoundTrip", func(t *testing.T) {
		db := open(t)
		defer db.Close()

		rec := Record(1, 2)
		rec.Tags = []string{"cat", "sofa"}
		rec.LatLong = gallery.LatLong{Lat: 48.85, Lng: 2.35}
		data := []byte("encoded image bytes")
		require.NoError(t, db.AddItem(rec, data))

		got, err := db.GetItemRecord(1, 2)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), got.Version)
		assert.Equal(t, int64(len(data)), got.Size)
		assert.Equal(t, rec.Tags, got.Tags)
		assert.Equal(t, rec.LatLong, got.LatLong)
		assert.Equal(t, gallery.ItemPath(1, 2), got.Path())

		gotData, err := db.GetItemData(1, 2)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, gotData))
	})

	t.Run("VersionBump", func(t *testing.T) {
		db := open(t)
		defer db.Close()

		require.NoError(t, db.AddItem(Record(3, 1), []byte("v1")))
		require.NoError(t, db.AddItem(Record(3, 1), []byte("second")))

		got, err := db.GetItemRecord(3, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Version)

		data, err := db.GetItemData(3, 1)
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))
	})

	t.Run("BatchVersions", func(t *testing.T) {
		db := open(t)
		defer db.Close()

		require.NoError(t, db.AddItemsBatch([]gallery.ItemData{
			{Record: Record(4, 1), Data: []byte("a")},
			{Record: Record(4, 1), Data: []byte("b")},
			{Record: Record(4, 2), Data: []byte("c")},
		}))

		got, err := db.GetItemRecord(4, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Version)

		got, err = db.GetItemRecord(4, 2)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), got.Version)
	})

	t.Run("Listing", func(t *testing.T) {
		db := open(t)
		defer db.Close()

		var items []gallery.ItemData
		for _, key := range [][2]uint64{{7, 3}, {2, 1}, {7, 1}, {2, 5}, {1 << 63, 9}} {
			items = append(items, gallery.ItemData{Record: Record(key[0], key[1]), Data: []byte{1}})
		}
		require.NoError(t, db.AddItemsBatch(items))

		albums, err := db.GetAllAlbumIDs()
		require.NoError(t, err)
		assert.Equal(t, []uint64{2, 7, 1 << 63}, albums)

		ids, err := db.GetItemIDs(7)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 3}, ids)

		ids, err = db.GetItemIDs(100)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("NotFound", func(t *testing.T) {
		db := open(t)
		defer db.Close()

		_, err := db.GetItemRecord(9, 9)
		assert.ErrorIs(t, err, gerrors.ErrNotFound)

		_, err = db.GetItemData(9, 9)
		assert.ErrorIs(t, err, gerrors.ErrNotFound)
	})
}
