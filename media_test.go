package gallery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainItem struct {
	BaseItem
	rotation int
}

func (p plainItem) MimeType() string { return MimeTypeJPEG }
func (p plainItem) Width() int       { return 0 }
func (p plainItem) Height() int      { return 0 }
func (p plainItem) Rotation() int    { return p.rotation }

type rotatedItem struct {
	plainItem
}

func (r rotatedItem) FullImageRotation() int { return 270 }

func TestBaseItemDefaults(t *testing.T) {
	item := plainItem{BaseItem: NewBaseItem(ItemPath(1, 2), 5)}

	assert.Equal(t, Path("/local/item/1/2"), item.Path())
	assert.Equal(t, uint64(5), item.Version())
	assert.Equal(t, int64(0), item.DateInMs())
	assert.Equal(t, "", item.Name())
	assert.Equal(t, InvalidLatLong, item.LatLong())
	assert.False(t, item.LatLong().Valid())
	assert.Nil(t, item.Tags())
	assert.Nil(t, item.Faces())
	assert.Equal(t, int64(0), item.Size())
	assert.Equal(t, "", item.FilePath())
	assert.Equal(t, 0, item.Width())
	assert.Equal(t, 0, item.Height())
}

func TestFullImageRotation(t *testing.T) {
	tests := []struct {
		name string
		item Details
		want int
	}{
		{
			name: "defaults to rotation",
			item: plainItem{rotation: 90},
			want: 90,
		},
		{
			name: "zero by default",
			item: plainItem{},
			want: 0,
		},
		{
			name: "override",
			item: rotatedItem{plainItem{rotation: 90}},
			want: 270,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FullImageRotation(tt.item))
		})
	}
}

func TestRequestKind(t *testing.T) {
	for _, k := range []RequestKind{Thumbnail, MicroThumbnail, Decode} {
		assert.True(t, k.Valid())
		assert.NotPanics(t, k.MustValid)
		parsed, err := ParseRequestKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	assert.False(t, RequestKind(0).Valid())
	assert.Panics(t, RequestKind(4).MustValid)

	k, err := ParseRequestKind("micro")
	require.NoError(t, err)
	assert.Equal(t, MicroThumbnail, k)

	_, err = ParseRequestKind("poster")
	assert.Error(t, err)
}

func TestItemPath(t *testing.T) {
	album, item, err := ParseItemPath(ItemPath(12, 345))
	require.NoError(t, err)
	assert.Equal(t, uint64(12), album)
	assert.Equal(t, uint64(345), item)

	_, _, err = ParseItemPath("/local/album/1")
	assert.Error(t, err)
}

type fakeWriter struct {
	items []ItemData
	fail  bool
}

func (w *fakeWriter) AddItem(rec MediaRecord, data []byte) error {
	if w.fail {
		return errors.New("disk full")
	}
	w.items = append(w.items, ItemData{Record: rec, Data: data})
	return nil
}

func (w *fakeWriter) AddItemsBatch(items []ItemData) error {
	if w.fail {
		return errors.New("disk full")
	}
	w.items = append(w.items, items...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestNotifyingWriter(t *testing.T) {
	feed := NewChangeFeed()
	var signals int
	unsubscribe := feed.Subscribe(func() { signals++ })

	fw := &fakeWriter{}
	w := NewNotifyingWriter(fw, feed)

	require.NoError(t, w.AddItem(MediaRecord{AlbumID: 1, ItemID: 1}, []byte{1}))
	require.NoError(t, w.AddItemsBatch([]ItemData{{}, {}}))
	assert.Equal(t, 2, signals)
	assert.Len(t, fw.items, 3)

	fw.fail = true
	assert.Error(t, w.AddItem(MediaRecord{}, nil))
	assert.Equal(t, 2, signals, "failed writes must not signal")

	unsubscribe()
	unsubscribe()
	fw.fail = false
	require.NoError(t, w.AddItem(MediaRecord{}, nil))
	assert.Equal(t, 2, signals)
	assert.Equal(t, 0, feed.Subscribers())
}
