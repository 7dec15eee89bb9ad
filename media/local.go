package media

import (
	"context"
	"fmt"
	"image"

	log "github.com/sirupsen/logrus"

	"github.com/mhbvr/gallery"
	gerrors "github.com/mhbvr/gallery/errors"
	"github.com/mhbvr/gallery/imagecache"
	"github.com/mhbvr/gallery/job"
	"github.com/mhbvr/gallery/logging"
)

// LocalImage is a photo kept in the media store.
type LocalImage struct {
	gallery.BaseItem

	rec     gallery.MediaRecord
	factory *Factory
	logger  *log.Entry
}

var _ gallery.MediaItem = (*LocalImage)(nil)

func (it *LocalImage) AlbumID() uint64             { return it.rec.AlbumID }
func (it *LocalImage) ItemID() uint64              { return it.rec.ItemID }
func (it *LocalImage) DateInMs() int64             { return it.rec.DateTakenMs }
func (it *LocalImage) Name() string                { return it.rec.Name }
func (it *LocalImage) Rotation() int               { return it.rec.Rotation }
func (it *LocalImage) Size() int64                 { return it.rec.Size }
func (it *LocalImage) MimeType() string            { return it.rec.MimeType }
func (it *LocalImage) FilePath() string            { return it.rec.FilePath }
func (it *LocalImage) Width() int                  { return it.rec.Width }
func (it *LocalImage) Height() int                 { return it.rec.Height }
func (it *LocalImage) Tags() []string              { return it.rec.Tags }
func (it *LocalImage) Faces() []gallery.Face       { return it.rec.Faces }
func (it *LocalImage) Record() gallery.MediaRecord { return it.rec }

func (it *LocalImage) LatLong() gallery.LatLong {
	return it.rec.LatLong
}

// RequestImage starts loading the kind variant of the item. The target
// size is taken from the size policy now, so an unknown kind panics here
// rather than inside the job.
func (it *LocalImage) RequestImage(kind gallery.RequestKind) *job.Handle[image.Image] {
	kind.MustValid()
	target := it.factory.policy.TargetSize(kind)
	return job.Submit(it.factory.exec, it.jobName(kind), func(ctx context.Context) (image.Image, error) {
		return it.loadSized(ctx, kind, target)
	})
}

// RequestDecodeImage is RequestImage with the caller's identity attached to
// the result.
func (it *LocalImage) RequestDecodeImage(kind gallery.RequestKind, identity string) *job.Handle[gallery.BitmapInfo] {
	kind.MustValid()
	target := it.factory.policy.TargetSize(kind)
	return job.Submit(it.factory.exec, it.jobName(kind), func(ctx context.Context) (gallery.BitmapInfo, error) {
		img, err := it.loadSized(ctx, kind, target)
		if err != nil {
			return gallery.BitmapInfo{}, err
		}
		return gallery.BitmapInfo{Identity: identity, Bitmap: img}, nil
	})
}

// RequestLargeImage decodes the full image once and hands out a region
// decoder over it.
func (it *LocalImage) RequestLargeImage() *job.Handle[gallery.RegionDecoder] {
	return job.Submit(it.factory.exec, "large "+string(it.Path()), func(ctx context.Context) (gallery.RegionDecoder, error) {
		img, err := it.decodeOriginal(ctx)
		if err != nil {
			return nil, err
		}
		return newRegionDecoder(Rotate(img, gallery.FullImageRotation(it))), nil
	})
}

func (it *LocalImage) jobName(kind gallery.RequestKind) string {
	return kind.String() + " " + string(it.Path())
}

func (it *LocalImage) cacheKey(kind gallery.RequestKind, target int) imagecache.Key {
	return imagecache.Key{Path: it.Path(), Version: it.Version(), Kind: kind, TargetSize: target}
}

func (it *LocalImage) loadSized(ctx context.Context, kind gallery.RequestKind, target int) (image.Image, error) {
	key := it.cacheKey(kind, target)

	if it.factory.cache != nil {
		img, err := it.fromCache(ctx, key)
		if err != nil || img != nil {
			return img, err
		}
	}

	img, err := it.decodeOriginal(ctx)
	if err != nil {
		return nil, err
	}

	if kind == gallery.MicroThumbnail {
		img = ResizeAndCropCenter(img, target)
	} else {
		img = ResizeDownBySideLength(img, target)
	}
	img = Rotate(img, it.Rotation())

	if it.factory.cache != nil && ctx.Err() == nil {
		it.toCache(key, img)
	}
	return img, nil
}

// fromCache looks key up into a pool buffer. A nil image with a nil error
// is a miss; the buffer is back in the pool whatever the outcome.
func (it *LocalImage) fromCache(ctx context.Context, key imagecache.Key) (image.Image, error) {
	buf, err := it.factory.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer it.factory.pool.Release(buf)

	found, err := it.factory.cache.GetImageData(key, buf)
	if err != nil {
		it.logger.WithError(err).Warn("Image cache lookup failed")
		return nil, nil
	}
	if !found {
		return nil, nil
	}

	img, err := it.factory.decoder.Decode(buf.Bytes())
	if err != nil {
		it.logger.WithError(err).WithField("key", key.String()).Warn("Dropping undecodable cache entry")
		return nil, nil
	}
	return img, nil
}

func (it *LocalImage) toCache(key imagecache.Key, img image.Image) {
	data, err := EncodeJPEG(img, gallery.CachedImageQuality)
	if err != nil {
		it.logger.WithError(err).Warn("Failed to encode cached image")
		return
	}
	if len(data) > it.factory.pool.Size() {
		it.logger.WithField("bytes", len(data)).Debug("Encoded image larger than pool buffers, not cached")
		return
	}
	if err := it.factory.cache.PutImageData(key, data); err != nil {
		it.logger.WithError(err).Warn("Failed to store cached image")
	}
}

func (it *LocalImage) decodeOriginal(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, gerrors.NewCancelled("decode " + string(it.Path())).WithCause(context.Cause(ctx))
	}

	data, err := it.factory.reader.GetItemData(it.rec.AlbumID, it.rec.ItemID)
	if err != nil {
		return nil, gerrors.NewResourceUnavailable(fmt.Sprintf("cannot load %s", it.Path())).WithCause(err)
	}

	return it.factory.decoder.Decode(data)
}

func newLocalImage(f *Factory, rec gallery.MediaRecord) *LocalImage {
	path := rec.Path()
	return &LocalImage{
		BaseItem: gallery.NewBaseItem(path, rec.Version),
		rec:      rec,
		factory:  f,
		logger:   f.logger.WithField(logging.FieldPath, string(path)),
	}
}
