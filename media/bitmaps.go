package media

import (
	"bytes"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// ResizeDownBySideLength scales src down so that its longer side is at
// most maxLength. Smaller images are returned unchanged.
func ResizeDownBySideLength(src image.Image, maxLength int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	longer := max(w, h)
	if longer <= maxLength {
		return src
	}

	scale := float64(maxLength) / float64(longer)
	dw := max(1, int(math.Round(float64(w)*scale)))
	dh := max(1, int(math.Round(float64(h)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// ResizeAndCropCenter scales src so that its shorter side equals size and
// crops the center square of size x size.
func ResizeAndCropCenter(src image.Image, size int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == size && h == size {
		return src
	}

	side := min(w, h)
	crop := image.Rect(0, 0, side, side).Add(b.Min).Add(image.Pt((w-side)/2, (h-side)/2))

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}

// Rotate turns src clockwise by degrees, which is rounded to a multiple
// of 90.
func Rotate(src image.Image, degrees int) image.Image {
	quarter := ((degrees%360+360)%360 + 45) / 90 % 4
	if quarter == 0 {
		return src
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)

	var dst *image.RGBA
	if quarter == 2 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := rgba.RGBAAt(x, y)
			switch quarter {
			case 1:
				dst.SetRGBA(h-1-y, x, c)
			case 2:
				dst.SetRGBA(w-1-x, h-1-y, c)
			case 3:
				dst.SetRGBA(y, w-1-x, c)
			}
		}
	}
	return dst
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
