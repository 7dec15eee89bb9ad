package media

import (
	"context"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/mhbvr/gallery"
	gerrors "github.com/mhbvr/gallery/errors"
)

type regionDecoder struct {
	img image.Image
}

var _ gallery.RegionDecoder = (*regionDecoder)(nil)

func newRegionDecoder(img image.Image) *regionDecoder {
	return &regionDecoder{img: img}
}

func (d *regionDecoder) Width() int  { return d.img.Bounds().Dx() }
func (d *regionDecoder) Height() int { return d.img.Bounds().Dy() }

// DecodeRegion clips rect to the image and scales it down by sampleSize.
// Rectangles are relative to the top-left corner of the image.
func (d *regionDecoder) DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, gerrors.NewCancelled("decode region").WithCause(context.Cause(ctx))
	}
	if sampleSize < 1 {
		sampleSize = 1
	}

	b := d.img.Bounds()
	src := rect.Add(b.Min).Intersect(b)
	if src.Empty() {
		return nil, gerrors.NewBadInput(fmt.Sprintf("region %v outside of %dx%d image", rect, b.Dx(), b.Dy()))
	}

	w := (src.Dx() + sampleSize - 1) / sampleSize
	h := (src.Dy() + sampleSize - 1) / sampleSize
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if sampleSize == 1 {
		draw.Draw(dst, dst.Bounds(), d.img, src.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), d.img, src, draw.Src, nil)
	}
	return dst, nil
}
