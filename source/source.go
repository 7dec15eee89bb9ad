// Package source enumerates stored media items for a widget and loads
// their bitmaps in the background.
package source

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/bluele/gcache"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/mhbvr/gallery"
	gerrors "github.com/mhbvr/gallery/errors"
	"github.com/mhbvr/gallery/job"
	"github.com/mhbvr/gallery/logging"
	"github.com/mhbvr/gallery/media"
)

const (
	// DefaultLibraryMax is the number of photos shown by a library widget.
	DefaultLibraryMax = 128
	// DefaultBitmapEntries is the size of the decoded bitmap LRU.
	DefaultBitmapEntries = 256

	contentScheme = "content://gallery"
)

// Scope selects the items a Source enumerates.
type Scope struct {
	album   uint64
	library bool
	max     int
}

// Album enumerates the items of one album in store order.
func Album(albumID uint64) Scope {
	return Scope{album: albumID}
}

// Library enumerates the newest max items of every album. A non-positive
// max means DefaultLibraryMax.
func Library(max int) Scope {
	if max <= 0 {
		max = DefaultLibraryMax
	}
	return Scope{library: true, max: max}
}

func (s Scope) String() string {
	if s.library {
		return fmt.Sprintf("library(%d)", s.max)
	}
	return fmt.Sprintf("album(%d)", s.album)
}

type Option func(*Source)

func WithLogger(logger *log.Entry) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// WithBitmapEntries sets the size of the decoded bitmap LRU. Non-positive
// sizes keep the default.
func WithBitmapEntries(n int) Option {
	return func(s *Source) {
		if n <= 0 {
			return
		}
		s.bitmapEntries = n
	}
}

// WithBreakerSettings replaces the circuit breaker guarding store queries.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(s *Source) {
		s.breakerSettings = st
	}
}

type entryKey struct {
	path    gallery.Path
	version uint64
}

type entry struct {
	key  entryKey
	item *media.LocalImage
}

// Source is a gallery.DataSource over the media store.
type Source struct {
	reader  gallery.DBReader
	factory *media.Factory
	scope   Scope

	logger          *log.Entry
	bitmapEntries   int
	breakerSettings gobreaker.Settings
	breaker         *gobreaker.CircuitBreaker
	bitmaps         gcache.Cache

	mu       sync.Mutex
	entries  []entry
	loading  map[entryKey]*job.Handle[image.Image]
	failed   map[entryKey]error
	listener gallery.ContentListener
	closed   bool
}

var _ gallery.DataSource = (*Source)(nil)

// New returns an empty source; call Reload to enumerate.
func New(reader gallery.DBReader, factory *media.Factory, scope Scope, opts ...Option) *Source {
	s := &Source{
		reader:        reader,
		factory:       factory,
		scope:         scope,
		logger:        logging.Discard(),
		bitmapEntries: DefaultBitmapEntries,
		breakerSettings: gobreaker.Settings{
			Name:        "store " + scope.String(),
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		},
		loading: make(map[entryKey]*job.Handle[image.Image]),
		failed:  make(map[entryKey]error),
	}
	for _, opt := range opts {
		opt(s)
	}

	logger := s.logger
	s.breakerSettings.OnStateChange = func(name string, from gobreaker.State, to gobreaker.State) {
		logger.WithField("breaker", name).Infof("Circuit breaker state change: %s -> %s", from, to)
	}
	s.breaker = gobreaker.NewCircuitBreaker(s.breakerSettings)
	s.bitmaps = gcache.New(s.bitmapEntries).LRU().Build()
	return s
}

// Scope returns what the source enumerates.
func (s *Source) Scope() Scope {
	return s.scope
}

// BreakerState returns the state of the store circuit breaker.
func (s *Source) BreakerState() gobreaker.State {
	return s.breaker.State()
}

// Reload re-enumerates the items. Bitmaps of items whose path and version
// did not change stay cached. On failure the previous entries are kept and
// an UpstreamUnavailable error is returned.
func (s *Source) Reload() error {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.query()
	})
	if err != nil {
		return gerrors.NewUpstreamUnavailable("cannot enumerate " + s.scope.String()).WithCause(err)
	}
	records := res.([]gallery.MediaRecord)

	entries := make([]entry, 0, len(records))
	present := make(map[entryKey]bool, len(records))
	for _, rec := range records {
		item := s.factory.NewItem(rec)
		key := entryKey{path: item.Path(), version: item.Version()}
		present[key] = true
		entries = append(entries, entry{key: key, item: item})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return gerrors.NewResourceUnavailable("source closed")
	}
	for key, h := range s.loading {
		if !present[key] {
			h.Cancel()
			delete(s.loading, key)
		}
	}
	for key := range s.failed {
		delete(s.failed, key)
	}
	s.entries = entries

	s.logger.WithField("entries", len(entries)).Debug("Source reloaded")
	return nil
}

func (s *Source) query() ([]gallery.MediaRecord, error) {
	if !s.scope.library {
		return s.albumRecords(s.scope.album)
	}

	albums, err := s.reader.GetAllAlbumIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to list albums: %w", err)
	}

	var all []gallery.MediaRecord
	for _, albumID := range albums {
		records, err := s.albumRecords(albumID)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].DateTakenMs > all[j].DateTakenMs
	})
	if len(all) > s.scope.max {
		all = all[:s.scope.max]
	}
	return all, nil
}

func (s *Source) albumRecords(albumID uint64) ([]gallery.MediaRecord, error) {
	ids, err := s.reader.GetItemIDs(albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items of album %d: %w", albumID, err)
	}

	records := make([]gallery.MediaRecord, 0, len(ids))
	for _, itemID := range ids {
		rec, err := s.reader.GetItemRecord(albumID, itemID)
		if gerrors.CodeOf(err) == gerrors.ErrCodeNotFound {
			// Removed since the listing
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read item %d/%d: %w", albumID, itemID, err)
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (s *Source) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Image returns the decoded bitmap at position. While it is not loaded yet
// Image returns false and starts loading it; the content listener fires
// once it is ready.
func (s *Source) Image(position int) (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || position < 0 || position >= len(s.entries) {
		return nil, false
	}
	e := s.entries[position]

	if v, err := s.bitmaps.Get(e.key); err == nil {
		return v.(image.Image), true
	}
	if _, ok := s.loading[e.key]; ok {
		return nil, false
	}
	if _, ok := s.failed[e.key]; ok {
		return nil, false
	}

	h := e.item.RequestImage(gallery.MicroThumbnail)
	s.loading[e.key] = h
	go s.collect(e.key, h)
	return nil, false
}

func (s *Source) collect(key entryKey, h *job.Handle[image.Image]) {
	img, err := h.Await(context.Background())

	s.mu.Lock()
	if s.loading[key] == h {
		delete(s.loading, key)
	}
	if s.closed || h.IsCancelled() {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.failed[key] = err
		s.mu.Unlock()
		s.logger.WithError(err).WithField(logging.FieldPath, string(key.path)).Warn("Failed to load bitmap")
		return
	}
	s.bitmaps.Set(key, img)
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.OnContentDirty()
	}
}

// ContentURI returns the URI of the item at position, or "" when out of
// range.
func (s *Source) ContentURI(position int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position < 0 || position >= len(s.entries) {
		return ""
	}
	return contentScheme + string(s.entries[position].key.path)
}

// Item returns the media item at position.
func (s *Source) Item(position int) (gallery.MediaItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position < 0 || position >= len(s.entries) {
		return nil, false
	}
	return s.entries[position].item, true
}

func (s *Source) SetContentListener(l gallery.ContentListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Close cancels outstanding loads and drops every bitmap.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for key, h := range s.loading {
		h.Cancel()
		delete(s.loading, key)
	}
	s.entries = nil
	s.listener = nil
	s.bitmaps.Purge()
	return nil
}
