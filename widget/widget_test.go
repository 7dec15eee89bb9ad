package widget

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhbvr/gallery"
	"github.com/mhbvr/gallery/bufpool"
	"github.com/mhbvr/gallery/db/bolt"
	"github.com/mhbvr/gallery/job"
	"github.com/mhbvr/gallery/media"
	"github.com/mhbvr/gallery/reload"
	"github.com/mhbvr/gallery/sizepolicy"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changed map[string]int
	failed  map[string]int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{changed: make(map[string]int), failed: make(map[string]int)}
}

func (n *recordingNotifier) NotifyViewDataChanged(widgetID, viewID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed[widgetID+"/"+viewID]++
}

func (n *recordingNotifier) NotifyReloadFailed(widgetID string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed[widgetID]++
}

func (n *recordingNotifier) changes(widgetID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.changed[widgetID+"/"+ViewID]
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 0x20, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type fixture struct {
	db       *bolt.BoltDB
	writer   *gallery.NotifyingWriter
	feed     *gallery.ChangeFeed
	notifier *recordingNotifier
	media    *media.Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := bolt.New(filepath.Join(t.TempDir(), "gallery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	exec, err := job.NewExecutor(context.Background())
	require.NoError(t, err)
	t.Cleanup(exec.Close)

	pool, err := bufpool.New(bufpool.DefaultCapacity, bufpool.DefaultBufferSize)
	require.NoError(t, err)

	mf, err := media.NewFactory(exec, pool, sizepolicy.New(), db)
	require.NoError(t, err)

	feed := gallery.NewChangeFeed()
	return &fixture{
		db:       db,
		writer:   gallery.NewNotifyingWriter(db, feed),
		feed:     feed,
		notifier: newRecordingNotifier(),
		media:    mf,
	}
}

func (f *fixture) add(t *testing.T, albumID, itemID uint64, data []byte) {
	t.Helper()
	require.NoError(t, f.writer.AddItem(gallery.MediaRecord{
		AlbumID:  albumID,
		ItemID:   itemID,
		MimeType: gallery.MimeTypeJPEG,
	}, data))
}

func (f *fixture) widget(t *testing.T, cfg Config) *Factory {
	t.Helper()
	w, err := NewFactory(cfg, f.db, f.media, f.feed, f.notifier,
		WithReloadOptions(reload.WithDelay(10*time.Millisecond)))
	require.NoError(t, err)
	return w
}

func TestNewFactory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"library", Config{ID: "w1"}, false},
		{"album", Config{ID: "w2", Type: Album, AlbumID: 3}, false},
		{"missing id", Config{Type: Album}, true},
		{"unknown type", Config{ID: "w3", Type: Type(7)}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFactory(tc.cfg, f.db, f.media, f.feed, f.notifier)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{Library, Album} {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseType("desktop")
	assert.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for i := uint64(1); i <= 3; i++ {
		f.add(t, 1, i, jpegBytes(t))
	}

	w := f.widget(t, Config{ID: "w1", Type: Album, AlbumID: 1})
	assert.Equal(t, 2, w.ViewTypeCount())
	assert.True(t, w.HasStableIDs())
	assert.Equal(t, int64(2), w.ItemID(2))
	assert.Zero(t, w.Count())
	assert.Equal(t, Loading, w.ViewAt(0).Kind)
	assert.Error(t, w.OnDataSetChanged())

	w.OnCreate()
	assert.Equal(t, 1, f.notifier.changes("w1"))
	assert.Equal(t, 1, f.feed.Subscribers())

	require.NoError(t, w.OnDataSetChanged())
	assert.Equal(t, 3, w.Count())

	view := w.ViewAt(1)
	assert.Equal(t, Loading, view.Kind)
	assert.Nil(t, view.Bitmap)

	require.Eventually(t, func() bool {
		return w.ViewAt(1).Kind == Photo
	}, 10*time.Second, time.Millisecond)

	view = w.ViewAt(1)
	assert.Equal(t, "content://gallery/local/item/1/2", view.ContentURI)
	assert.Equal(t, gallery.MicroThumbnailTargetSize, view.Bitmap.Bounds().Dx())
	assert.GreaterOrEqual(t, f.notifier.changes("w1"), 2, "content dirty notifies the host")

	w.OnDestroy()
	assert.Zero(t, f.feed.Subscribers())
	assert.Zero(t, w.Count())
	assert.Equal(t, Loading, w.ViewAt(0).Kind)
}

func TestRepeatedCreateKeepsOneSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, 1, 1, jpegBytes(t))

	w := f.widget(t, Config{ID: "w1", Type: Album, AlbumID: 1})
	w.OnCreate()
	w.OnCreate()
	assert.Equal(t, 1, f.feed.Subscribers())
	assert.Equal(t, 1, f.notifier.changes("w1"))

	w.OnDestroy()
	assert.Zero(t, f.feed.Subscribers())

	// Created again after a destroy
	w.OnCreate()
	assert.Equal(t, 1, f.feed.Subscribers())
	w.OnDestroy()
	assert.Zero(t, f.feed.Subscribers())
}

func TestStoreChangeReloads(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, 1, 1, jpegBytes(t))

	w := f.widget(t, Config{ID: "lib"})
	w.OnCreate()
	defer w.OnDestroy()
	require.NoError(t, w.OnDataSetChanged())
	require.Equal(t, 1, w.Count())
	before := f.notifier.changes("lib")

	// A burst of writes
	for i := uint64(2); i <= 4; i++ {
		f.add(t, 2, i, jpegBytes(t))
	}

	require.Eventually(t, func() bool { return w.Count() == 4 }, 10*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return f.notifier.changes("lib") > before }, 10*time.Second, time.Millisecond)
	assert.Equal(t, reload.Idle, w.Coordinator().State())
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	r := NewRegistry()

	a := f.widget(t, Config{ID: "a"})
	b := f.widget(t, Config{ID: "b", Type: Album, AlbumID: 1})
	require.True(t, r.Add(b))
	require.True(t, r.Add(a))
	assert.False(t, r.Add(f.widget(t, Config{ID: "a"})))
	assert.Equal(t, []string{"a", "b"}, r.IDs())
	assert.Equal(t, 2, f.feed.Subscribers())

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	_, ok = r.Get("a")
	assert.False(t, ok)

	r.Close()
	assert.Empty(t, r.IDs())
	assert.Zero(t, f.feed.Subscribers())
}
