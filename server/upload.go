package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mhbvr/gallery"
	gerrors "github.com/mhbvr/gallery/errors"
	"github.com/mhbvr/gallery/media"
)

// recordFromUpload builds the record of an uploaded image. Dimensions and
// MIME type come from the image header, the rest from the query.
func recordFromUpload(albumID, itemID uint64, data []byte, q url.Values) (*gallery.MediaRecord, error) {
	cfg, format, err := media.StdDecoder{}.DecodeConfig(data)
	if err != nil {
		return nil, gerrors.NewBadInput("upload is not a supported image").WithCause(err)
	}

	rec := &gallery.MediaRecord{
		AlbumID:  albumID,
		ItemID:   itemID,
		Name:     q.Get("name"),
		MimeType: media.MimeType(format),
		Width:    cfg.Width,
		Height:   cfg.Height,
		LatLong:  gallery.InvalidLatLong,
	}
	if rec.Name == "" {
		rec.Name = fmt.Sprintf("%d_%d.%s", albumID, itemID, format)
	}

	if s := q.Get("date_taken_ms"); s != "" {
		if rec.DateTakenMs, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, gerrors.NewBadInput(fmt.Sprintf("invalid date_taken_ms %q", s))
		}
	}
	if s := q.Get("rotation"); s != "" {
		rec.Rotation, err = strconv.Atoi(s)
		if err != nil || rec.Rotation%90 != 0 {
			return nil, gerrors.NewBadInput(fmt.Sprintf("invalid rotation %q", s))
		}
	}
	if s := q.Get("tags"); s != "" {
		for _, tag := range strings.Split(s, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				rec.Tags = append(rec.Tags, tag)
			}
		}
	}
	return rec, nil
}
