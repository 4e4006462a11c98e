// SPDX-License-Identifier: MIT

// Tool for building quadgrid data products. It aggregates point
// observation logs into per-cell counts at a chosen resolution, writes a
// compressed grid export and a density map, and optionally uploads both
// to S3-compatible object storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/quadgrid/quadgrid-go/qtree"
)

var logger *log.Logger

func main() {
	ctx := context.Background()

	cachedir := flag.String("cache", "cache/quadgrid-builder", "path to cache directory")
	resolution := flag.Float64("resolution", 1.0, "cell edge length in decimal degrees")
	points := flag.String("points", "", "comma-separated point log files (.gz, .bz2 and .xz are decompressed)")
	width := flag.Int("width", 1920, "width of the painted density map in pixels")
	storagekey := flag.String("storage-key", "", "path to key with storage access credentials")
	flag.Parse()

	logfile, err := createLogFile()
	if err != nil {
		log.Fatal(err)
	}
	defer logfile.Close()
	logger = log.New(logfile, "", log.Ldate|log.Ltime|log.LUTC|log.Lshortfile)

	if *points == "" {
		logger.Fatal("no point logs given, pass -points")
	}

	var storage S3
	if *storagekey != "" {
		client, err := NewStorageClient(*storagekey)
		if err != nil {
			logger.Fatal(err)
		}

		bucketExists, err := client.BucketExists(ctx, "quadgrid")
		if err != nil {
			logger.Fatal(err)
		}
		if !bucketExists {
			logger.Fatal("storage bucket \"quadgrid\" does not exist")
		}
		storage = client
	}

	tree, err := qtree.New(qtree.Config{Resolution: *resolution})
	if err != nil {
		logger.Fatal(err)
	}

	counts, err := GetCellCounts(tree, strings.Split(*points, ","), *cachedir)
	if err != nil {
		logger.Fatal(err)
	}

	date := time.Now().UTC().Format("20060102")
	exportPath := filepath.Join(*cachedir, fmt.Sprintf("quadgrid-%s.qgx", date))
	mapPath := filepath.Join(*cachedir, fmt.Sprintf("quadgrid-map-%s.png", date))

	cells, total, err := writeExport(exportPath, tree.Resolution(), counts)
	if err != nil {
		logger.Fatal(err)
	}
	p := message.NewPrinter(language.English)
	p.Printf("aggregated %d observations into %d cells at %g°\n", total, cells, tree.Resolution())
	logger.Printf("built %s: %d cells, %d observations", exportPath, cells, total)

	// Reading the counts again hits the cache written above.
	counts, err = GetCellCounts(tree, strings.Split(*points, ","), *cachedir)
	if err != nil {
		logger.Fatal(err)
	}
	if err := paint(mapPath, tree, counts, *width); err != nil {
		logger.Fatal(err)
	}

	if storage != nil {
		for _, f := range []struct {
			local, remote, contentType string
		}{
			{exportPath, fmt.Sprintf("public/quadgrid-%s.qgx", date), "application/octet-stream"},
			{mapPath, fmt.Sprintf("public/quadgrid-map-%s.png", date), "image/png"},
		} {
			// If the object is already in storage, leave it alone.
			if _, err := storage.StatObject(ctx, "quadgrid", f.remote, minio.StatObjectOptions{}); err == nil {
				fmt.Printf("Already in storage: quadgrid/%s\n", f.remote)
				logger.Printf("Already in storage: quadgrid/%s", f.remote)
				continue
			}
			if err := PutInStorage(ctx, f.local, storage, "quadgrid", f.remote, f.contentType); err != nil {
				logger.Fatal(err)
			}
			fmt.Printf("Uploaded to storage: quadgrid/%s\n", f.remote)
			logger.Printf("Uploaded to storage: quadgrid/%s", f.remote)
		}
		if err := Cleanup(storage); err != nil {
			logger.Fatal(err)
		}
	}
}

// Create a file for keeping logs. If the file already exists, its
// present content is preserved, and new log entries will get appended
// after the existing ones.
func createLogFile() (*os.File, error) {
	logpath := filepath.Join("logs", "quadgrid-builder.log")
	if err := os.MkdirAll("logs", os.ModePerm); err != nil {
		return nil, err
	}

	logfile, err := os.OpenFile(logpath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return logfile, nil
}
