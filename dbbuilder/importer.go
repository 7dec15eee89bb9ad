package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"github.com/mhbvr/gallery"
	"github.com/mhbvr/gallery/media"
)

// Stats summarizes an import run.
type Stats struct {
	Total     int
	Processed int
	Skipped   int
	Batches   int
}

// Importer copies image files named "<album>_<item>.<ext>" into a store.
type Importer struct {
	writer    gallery.DBWriter
	decoder   media.Decoder
	batchSize int
	scale     float64
	logger    *log.Entry
}

func NewImporter(writer gallery.DBWriter, batchSize int, scale float64, logger *log.Entry) (*Importer, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if scale <= 0.0 || scale > 1.0 {
		return nil, fmt.Errorf("scale factor must be between 0.0 (exclusive) and 1.0 (inclusive), got %v", scale)
	}
	return &Importer{
		writer:    writer,
		decoder:   media.StdDecoder{},
		batchSize: batchSize,
		scale:     scale,
		logger:    logger,
	}, nil
}

var extensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "bmp": true, "tif": true, "tiff": true, "webp": true,
}

// GetIDs extracts the album and item ids from a file name like "3_12.jpg".
func GetIDs(filename string) (albumID, itemID uint64, ok bool) {
	name := strings.ToLower(filename)
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if !extensions[ext] {
		return 0, 0, false
	}
	albumPart, itemPart, found := strings.Cut(strings.TrimSuffix(name, "."+ext), "_")
	if !found {
		return 0, 0, false
	}
	album, err := strconv.ParseUint(albumPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	item, err := strconv.ParseUint(itemPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return album, item, true
}

// Scan collects the importable files under srcDir.
func (im *Importer) Scan(srcDir string) ([]string, Stats, error) {
	var stats Stats
	var paths []string
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		stats.Total++
		if _, _, ok := GetIDs(info.Name()); !ok {
			stats.Skipped++
			im.logger.WithField("file", info.Name()).Info("Skipping file: cannot extract album and item id")
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("failed to scan %s: %w", srcDir, err)
	}
	return paths, stats, nil
}

// Import writes the files in batches of batchSize items. Files that are
// not decodable images are skipped.
func (im *Importer) Import(paths []string, stats Stats) (Stats, error) {
	totalBatches := (len(paths) + im.batchSize - 1) / im.batchSize

	for i := 0; i < len(paths); i += im.batchSize {
		end := min(i+im.batchSize, len(paths))
		batchNum := i/im.batchSize + 1

		var batch []gallery.ItemData
		for _, path := range paths[i:end] {
			item, err := im.readItem(path)
			if err != nil {
				stats.Skipped++
				im.logger.WithError(err).WithField("file", path).Warn("Skipping file")
				continue
			}
			batch = append(batch, item)
		}
		if len(batch) == 0 {
			continue
		}

		im.logger.WithFields(log.Fields{
			"batch": batchNum,
			"of":    totalBatches,
			"items": len(batch),
		}).Info("Writing batch")
		if err := im.writer.AddItemsBatch(batch); err != nil {
			return stats, fmt.Errorf("failed to write batch %d: %w", batchNum, err)
		}
		stats.Processed += len(batch)
		stats.Batches++
	}
	return stats, nil
}

func (im *Importer) readItem(path string) (gallery.ItemData, error) {
	albumID, itemID, ok := GetIDs(filepath.Base(path))
	if !ok {
		return gallery.ItemData{}, fmt.Errorf("cannot extract album and item id")
	}
	info, err := os.Stat(path)
	if err != nil {
		return gallery.ItemData{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return gallery.ItemData{}, err
	}

	cfg, format, err := im.decoder.DecodeConfig(data)
	if err != nil {
		return gallery.ItemData{}, err
	}
	if im.scale < 1.0 {
		if data, cfg, err = im.scaleImage(data); err != nil {
			return gallery.ItemData{}, err
		}
		format = "jpeg"
	}

	return gallery.ItemData{
		Record: gallery.MediaRecord{
			AlbumID:     albumID,
			ItemID:      itemID,
			Name:        filepath.Base(path),
			MimeType:    media.MimeType(format),
			FilePath:    path,
			DateTakenMs: info.ModTime().UnixMilli(),
			LatLong:     gallery.InvalidLatLong,
			Width:       cfg.Width,
			Height:      cfg.Height,
		},
		Data: data,
	}, nil
}

// scaleImage scales an image by the scale factor using bilinear
// interpolation and re-encodes it as JPEG.
func (im *Importer) scaleImage(data []byte) ([]byte, image.Config, error) {
	img, err := im.decoder.Decode(data)
	if err != nil {
		return nil, image.Config{}, err
	}

	bounds := img.Bounds()
	newWidth := max(1, int(float64(bounds.Dx())*im.scale))
	newHeight := max(1, int(float64(bounds.Dy())*im.scale))

	scaled := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)

	out, err := media.EncodeJPEG(scaled, gallery.CachedImageQuality)
	if err != nil {
		return nil, image.Config{}, fmt.Errorf("failed to encode scaled image: %w", err)
	}
	return out, image.Config{Width: newWidth, Height: newHeight}, nil
}
