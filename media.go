// Package gallery defines the contracts of the gallery image-delivery layer:
// media items and the sized bitmaps they produce, the data sources that
// enumerate them, and the store they are read from.
package gallery

import (
	"context"
	"fmt"
	"image"

	"github.com/mhbvr/gallery/job"
)

// RequestKind selects which sized variant of an item is requested. The
// numeric values are part of the encoded cache keys and must not change.
type RequestKind int

const (
	Thumbnail      RequestKind = 1
	MicroThumbnail RequestKind = 2
	Decode         RequestKind = 3
)

func (k RequestKind) String() string {
	switch k {
	case Thumbnail:
		return "thumbnail"
	case MicroThumbnail:
		return "microthumbnail"
	case Decode:
		return "decode"
	default:
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k RequestKind) Valid() bool {
	return k == Thumbnail || k == MicroThumbnail || k == Decode
}

// MustValid panics on an unknown kind. Requesting one is a programming
// error, not a runtime condition.
func (k RequestKind) MustValid() {
	if !k.Valid() {
		panic(fmt.Sprintf("gallery: unknown request kind %d, only thumbnail/microthumbnail/decode can be requested", int(k)))
	}
}

// ParseRequestKind parses the names produced by String plus the short
// "micro" alias.
func ParseRequestKind(s string) (RequestKind, error) {
	switch s {
	case "thumbnail", "thumb":
		return Thumbnail, nil
	case "microthumbnail", "micro":
		return MicroThumbnail, nil
	case "decode":
		return Decode, nil
	default:
		return 0, fmt.Errorf("unknown request kind %q", s)
	}
}

const (
	ThumbnailTargetSize      = 640
	MicroThumbnailTargetSize = 200
	CachedImageQuality       = 95

	MimeTypeJPEG = "image/jpeg"
)

// InvalidLatLng is the coordinate value used when an item has no location.
const InvalidLatLng = 0.0

// LatLong is a geo-coordinate pair.
type LatLong struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// InvalidLatLong is the sentinel returned by items without a location.
var InvalidLatLong = LatLong{Lat: InvalidLatLng, Lng: InvalidLatLng}

// Valid reports whether the pair differs from the sentinel.
func (l LatLong) Valid() bool {
	return l != InvalidLatLong
}

// Face is a detected face inside an item.
type Face struct {
	Name     string          `json:"name"`
	PersonID string          `json:"person_id"`
	Position image.Rectangle `json:"position"`
}

// Path identifies a media object.
type Path string

// ItemPath returns the path of a local item.
func ItemPath(albumID, itemID uint64) Path {
	return Path(fmt.Sprintf("/local/item/%d/%d", albumID, itemID))
}

// ParseItemPath is the inverse of ItemPath.
func ParseItemPath(p Path) (albumID, itemID uint64, err error) {
	n, err := fmt.Sscanf(string(p), "/local/item/%d/%d", &albumID, &itemID)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("malformed item path %q", p)
	}
	return albumID, itemID, nil
}

// BitmapInfo is the result of RequestDecodeImage: the bitmap together with
// the identity the caller passed in, so a late completion can be matched
// to the request that produced it.
type BitmapInfo struct {
	Identity string
	Bitmap   image.Image
}

// RegionDecoder decodes rectangular parts of a large image.
type RegionDecoder interface {
	Width() int
	Height() int
	// DecodeRegion returns rect of the full image, downscaled by
	// sampleSize (1 = full resolution).
	DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int) (image.Image, error)
}

// Details are the plain accessors of a media item. Width and Height return
// 0 when the dimension is unknown.
type Details interface {
	DateInMs() int64
	Name() string
	LatLong() LatLong
	Tags() []string
	Faces() []Face
	Rotation() int
	Size() int64
	MimeType() string
	FilePath() string
	Width() int
	Height() int
}

// MediaItem represents an image or a video item.
type MediaItem interface {
	Details

	Path() Path
	// Version changes every time the underlying content changes.
	Version() uint64

	RequestImage(kind RequestKind) *job.Handle[image.Image]
	RequestLargeImage() *job.Handle[RegionDecoder]
	RequestDecodeImage(kind RequestKind, identity string) *job.Handle[BitmapInfo]
}

// FullImageRotator is implemented by items whose full resolution image is
// rotated differently from their thumbnails.
type FullImageRotator interface {
	FullImageRotation() int
}

// FullImageRotation returns the rotation of the full resolution image of
// item, which defaults to its Rotation.
func FullImageRotation(item Details) int {
	if r, ok := item.(FullImageRotator); ok {
		return r.FullImageRotation()
	}
	return item.Rotation()
}

// BaseItem carries the identity of an item and the default answers of the
// optional accessors. Concrete items embed it and implement MimeType,
// Width, Height and whatever else they know.
type BaseItem struct {
	path    Path
	version uint64
}

func NewBaseItem(path Path, version uint64) BaseItem {
	return BaseItem{path: path, version: version}
}

func (b BaseItem) Path() Path        { return b.path }
func (b BaseItem) Version() uint64   { return b.version }
func (b BaseItem) DateInMs() int64   { return 0 }
func (b BaseItem) Name() string      { return "" }
func (b BaseItem) LatLong() LatLong  { return InvalidLatLong }
func (b BaseItem) Tags() []string    { return nil }
func (b BaseItem) Faces() []Face     { return nil }
func (b BaseItem) Rotation() int     { return 0 }
func (b BaseItem) Size() int64       { return 0 }
func (b BaseItem) FilePath() string  { return "" }
