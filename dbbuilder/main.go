package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/mhbvr/gallery"
	"github.com/mhbvr/gallery/db/bolt"
	"github.com/mhbvr/gallery/db/filetree"
	"github.com/mhbvr/gallery/db/pebble"
	"github.com/mhbvr/gallery/logging"
)

func openWriter(dbType, dbPath string) (gallery.DBWriter, error) {
	switch dbType {
	case "filetree":
		return filetree.New(dbPath)
	case "bolt":
		return bolt.New(dbPath)
	case "pebble":
		return pebble.New(dbPath)
	default:
		return nil, fmt.Errorf("unknown database type: %s (must be 'filetree', 'bolt', or 'pebble')", dbType)
	}
}

func main() {
	// Flag defaults can be overridden with GALLERY_ environment variables,
	// e.g. GALLERY_DB_TYPE=pebble.
	env := viper.New()
	env.SetEnvPrefix("GALLERY")
	env.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	env.AutomaticEnv()
	env.SetDefault("db.type", "bolt")
	env.SetDefault("db.path", "")
	env.SetDefault("import.batch_size", 100)
	env.SetDefault("verbose", false)

	var (
		dbType    = flag.String("type", env.GetString("db.type"), "Database type: filetree, bolt, or pebble")
		dbPath    = flag.String("db", env.GetString("db.path"), "Database path (directory for filetree, file for bolt/pebble)")
		srcDir    = flag.String("src", "", "Source directory containing image files named <album>_<item>.<ext>")
		batchSize = flag.Int("batch-size", env.GetInt("import.batch_size"), "Number of items to write in each transaction")
		scale     = flag.Float64("scale", 1.0, "Image scaling factor (0.0 to 1.0, where 1.0 = no scaling)")
		verbose   = flag.Bool("v", env.GetBool("verbose"), "Verbose logging")
	)
	flag.Parse()

	logging.SetupLog("GalleryImporter", *verbose)
	logger := log.WithField("component", "importer")

	if *srcDir == "" {
		logger.Fatal("Source directory must be specified with -src flag")
	}
	if *dbPath == "" {
		logger.Fatal("Database path must be specified with -db flag")
	}

	writer, err := openWriter(*dbType, *dbPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create database writer")
	}
	defer writer.Close()

	importer, err := NewImporter(writer, *batchSize, *scale, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid import settings")
	}

	logger.WithFields(log.Fields{"type": *dbType, "db": *dbPath, "src": *srcDir}).Info("Importing")
	paths, stats, err := importer.Scan(*srcDir)
	if err != nil {
		logger.WithError(err).Fatal("Failed to scan source directory")
	}
	stats, err = importer.Import(paths, stats)
	if err != nil {
		logger.WithError(err).Fatal("Import failed")
	}

	fields := log.Fields{
		"total":     stats.Total,
		"processed": stats.Processed,
		"skipped":   stats.Skipped,
		"batches":   stats.Batches,
	}
	if stat, err := os.Stat(*dbPath); err == nil && !stat.IsDir() {
		fields["bytes"] = stat.Size()
	}
	logger.WithFields(fields).Info("Import completed")
}
