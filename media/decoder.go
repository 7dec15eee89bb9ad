package media

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	gerrors "github.com/mhbvr/gallery/errors"
)

// Decoder turns encoded image bytes into a bitmap.
type Decoder interface {
	Decode(data []byte) (image.Image, error)
	DecodeConfig(data []byte) (image.Config, string, error)
}

// StdDecoder decodes every format registered with the image package:
// JPEG, PNG, GIF, BMP, TIFF and WebP.
type StdDecoder struct{}

func (StdDecoder) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, gerrors.NewResourceUnavailable("no image data")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, gerrors.NewDecodeFailure("cannot decode image").WithCause(err)
	}
	return img, nil
}

func (StdDecoder) DecodeConfig(data []byte) (image.Config, string, error) {
	if len(data) == 0 {
		return image.Config{}, "", gerrors.NewResourceUnavailable("no image data")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", gerrors.NewDecodeFailure("cannot decode image header").WithCause(err)
	}
	return cfg, format, nil
}

// MimeType maps an image package format name to its MIME type.
func MimeType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png", "gif", "bmp", "tiff", "webp":
		return "image/" + format
	default:
		return "application/octet-stream"
	}
}
