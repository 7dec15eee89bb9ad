package bolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhbvr/gallery"
	"github.com/mhbvr/gallery/db/dbtest"
)

func TestBoltDB(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) gallery.DB {
		db, err := New(filepath.Join(t.TempDir(), "gallery.db"))
		require.NoError(t, err)
		return db
	})
}

func TestBoltReaderSeesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.db")
	w, err := New(path)
	require.NoError(t, err)
	require.NoError(t, w.AddItem(dbtest.Record(1, 1), []byte("data")))
	require.NoError(t, w.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	data, err := r.GetItemData(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}
