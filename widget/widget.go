// Package widget renders the photo stack of a gallery widget: one view per
// item of its data source, with a loading view until the bitmap is ready.
package widget

import (
	"fmt"
	"image"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/mhbvr/gallery"
	"github.com/mhbvr/gallery/logging"
	"github.com/mhbvr/gallery/media"
	"github.com/mhbvr/gallery/reload"
	"github.com/mhbvr/gallery/source"
)

// ViewID names the stack view every widget renders into.
const ViewID = "stack"

// Type selects what a widget shows.
type Type int

const (
	// Library shows the newest photos of every album.
	Library Type = iota
	// Album shows the photos of one album.
	Album
)

func (t Type) String() string {
	switch t {
	case Library:
		return "library"
	case Album:
		return "album"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

func ParseType(s string) (Type, error) {
	switch s {
	case "library", "":
		return Library, nil
	case "album":
		return Album, nil
	default:
		return 0, fmt.Errorf("unknown widget type %q", s)
	}
}

type ViewKind int

const (
	Loading ViewKind = iota
	Photo
)

func (k ViewKind) String() string {
	if k == Photo {
		return "photo"
	}
	return "loading"
}

// View is one rendered stack entry. Bitmap and ContentURI are only set for
// photo views.
type View struct {
	Kind       ViewKind
	Bitmap     image.Image
	ContentURI string
}

// Config identifies a widget instance.
type Config struct {
	ID      string
	Type    Type
	AlbumID uint64
	// LibraryMax caps a library widget, 0 means source.DefaultLibraryMax.
	LibraryMax int
}

type Option func(*Factory)

func WithLogger(logger *log.Entry) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithReloadOptions configures the coordinator created by OnCreate.
func WithReloadOptions(opts ...reload.Option) Option {
	return func(f *Factory) {
		f.reloadOpts = append(f.reloadOpts, opts...)
	}
}

// WithSourceOptions configures the source created by OnCreate.
func WithSourceOptions(opts ...source.Option) Option {
	return func(f *Factory) {
		f.sourceOpts = append(f.sourceOpts, opts...)
	}
}

// Factory produces the views of one widget. It is created idle; OnCreate
// builds its source and starts following store changes, OnDestroy tears
// both down.
type Factory struct {
	cfg      Config
	reader   gallery.DBReader
	media    *media.Factory
	changes  gallery.ChangeSource
	notifier gallery.Notifier

	logger     *log.Entry
	reloadOpts []reload.Option
	sourceOpts []source.Option

	mu    sync.Mutex
	src   *source.Source
	coord *reload.Coordinator
}

var _ gallery.ContentListener = (*Factory)(nil)

func NewFactory(cfg Config, reader gallery.DBReader, mediaFactory *media.Factory, changes gallery.ChangeSource, notifier gallery.Notifier, opts ...Option) (*Factory, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("widget id is required")
	}
	if cfg.Type != Library && cfg.Type != Album {
		return nil, fmt.Errorf("unknown widget type %v", cfg.Type)
	}

	f := &Factory{
		cfg:      cfg,
		reader:   reader,
		media:    mediaFactory,
		changes:  changes,
		notifier: notifier,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.WithField(logging.FieldWidgetID, cfg.ID)
	return f, nil
}

func (f *Factory) Config() Config {
	return f.cfg
}

// OnCreate builds the data source and subscribes to store changes. The
// host is notified right away so that it asks for the data. Calling it
// again before OnDestroy does nothing.
func (f *Factory) OnCreate() {
	f.mu.Lock()
	if f.src != nil {
		// Already created
		f.mu.Unlock()
		return
	}

	var scope source.Scope
	if f.cfg.Type == Album {
		scope = source.Album(f.cfg.AlbumID)
	} else {
		scope = source.Library(f.cfg.LibraryMax)
	}

	srcOpts := append([]source.Option{source.WithLogger(f.logger)}, f.sourceOpts...)
	src := source.New(f.reader, f.media, scope, srcOpts...)
	src.SetContentListener(f)

	reloadOpts := append([]reload.Option{reload.WithLogger(f.logger)}, f.reloadOpts...)
	coord := reload.New(f.cfg.ID, ViewID, src, f.notifier, reloadOpts...)

	f.src = src
	f.coord = coord
	f.mu.Unlock()

	f.notifier.NotifyViewDataChanged(f.cfg.ID, ViewID)
	if f.changes != nil {
		coord.Attach(f.changes)
	}
	f.logger.WithField("scope", scope.String()).Info("Widget created")
}

// OnDestroy closes the source and stops following store changes.
func (f *Factory) OnDestroy() {
	f.mu.Lock()
	src, coord := f.src, f.coord
	f.src, f.coord = nil, nil
	f.mu.Unlock()

	if coord != nil {
		coord.Close()
	}
	if src != nil {
		src.Close()
	}
	f.logger.Info("Widget destroyed")
}

func (f *Factory) currentSource() *source.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.src
}

// Coordinator returns the reload coordinator, nil before OnCreate.
func (f *Factory) Coordinator() *reload.Coordinator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.coord
}

func (f *Factory) Count() int {
	src := f.currentSource()
	if src == nil {
		return 0
	}
	return src.Size()
}

// ItemID is the position itself.
func (f *Factory) ItemID(position int) int64 {
	return int64(position)
}

func (f *Factory) ViewTypeCount() int {
	return 2
}

func (f *Factory) HasStableIDs() bool {
	return true
}

func (f *Factory) LoadingView() View {
	return View{Kind: Loading}
}

// ViewAt returns the photo view at position, or the loading view while its
// bitmap is not decoded yet.
func (f *Factory) ViewAt(position int) View {
	src := f.currentSource()
	if src == nil {
		return f.LoadingView()
	}
	bitmap, ok := src.Image(position)
	if !ok {
		return f.LoadingView()
	}
	return View{
		Kind:       Photo,
		Bitmap:     bitmap,
		ContentURI: src.ContentURI(position),
	}
}

// OnDataSetChanged reloads the source. It is what the host calls after a
// view data changed notification.
func (f *Factory) OnDataSetChanged() error {
	f.mu.Lock()
	coord := f.coord
	f.mu.Unlock()
	if coord == nil {
		return fmt.Errorf("widget %s not created", f.cfg.ID)
	}
	return coord.ReloadNow()
}

// OnContentDirty is called by the source once a bitmap finished loading.
func (f *Factory) OnContentDirty() {
	f.notifier.NotifyViewDataChanged(f.cfg.ID, ViewID)
}
