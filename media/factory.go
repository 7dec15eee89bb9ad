// Package media implements gallery media items backed by the media store.
package media

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/mhbvr/gallery"
	"github.com/mhbvr/gallery/bufpool"
	"github.com/mhbvr/gallery/imagecache"
	"github.com/mhbvr/gallery/job"
	"github.com/mhbvr/gallery/logging"
	"github.com/mhbvr/gallery/sizepolicy"
)

type Option func(*Factory)

// Factory builds media items sharing one executor, buffer pool, size
// policy and encoded image cache.
type Factory struct {
	exec    *job.Executor
	pool    *bufpool.Pool
	policy  *sizepolicy.Policy
	reader  gallery.DBReader
	cache   imagecache.Cache
	decoder Decoder
	logger  *log.Entry
}

// NewFactory returns a factory reading item data from reader. Without
// WithCache every request decodes the original.
func NewFactory(exec *job.Executor, pool *bufpool.Pool, policy *sizepolicy.Policy, reader gallery.DBReader, opts ...Option) (*Factory, error) {
	if exec == nil || pool == nil || policy == nil || reader == nil {
		return nil, fmt.Errorf("executor, pool, policy and reader are required")
	}

	res := &Factory{
		exec:    exec,
		pool:    pool,
		policy:  policy,
		reader:  reader,
		decoder: StdDecoder{},
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(res)
	}
	return res, nil
}

func WithCache(c imagecache.Cache) Option {
	return func(f *Factory) {
		f.cache = c
	}
}

func WithDecoder(d Decoder) Option {
	return func(f *Factory) {
		f.decoder = d
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

// Policy returns the size policy shared by the items.
func (f *Factory) Policy() *sizepolicy.Policy {
	return f.policy
}

// NewItem wraps rec. It does not touch the store.
func (f *Factory) NewItem(rec gallery.MediaRecord) *LocalImage {
	return newLocalImage(f, rec)
}

// Load reads the record of the item from the store.
func (f *Factory) Load(albumID, itemID uint64) (*LocalImage, error) {
	rec, err := f.reader.GetItemRecord(albumID, itemID)
	if err != nil {
		return nil, err
	}
	return newLocalImage(f, *rec), nil
}
