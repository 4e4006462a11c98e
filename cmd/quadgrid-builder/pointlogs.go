// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/lanrat/extsort"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"

	"github.com/quadgrid/quadgrid-go/qtree"
)

// GetCellCounts returns a reader over "qid count" lines, sorted by qid with
// equal qids merged into one count. The input point logs contain one
// observation per line, "lon lat" or "lon lat count" in decimal degrees;
// blank lines and lines starting with # are skipped. If cachedir already
// holds aggregated counts for this resolution, they are read from local
// disk instead of re-encoding the logs.
func GetCellCounts(tree *qtree.QTree, paths []string, cachedir string) (io.Reader, error) {
	ctx := context.Background()

	path := filepath.Join(cachedir, fmt.Sprintf("cellcounts-%g.br", tree.Resolution()))
	if f, err := os.Open(path); err == nil {
		return brotli.NewReader(f), nil
	}

	if logger != nil {
		logger.Printf("building %s", path)
	}

	if err := os.MkdirAll(cachedir, os.ModePerm); err != nil {
		return nil, err
	}

	ch := make(chan extsort.SortType, 100000)
	g, subCtx := errgroup.WithContext(ctx)
	config := extsort.DefaultConfig()
	config.NumWorkers = runtime.NumCPU()
	sorter, outChan, errChan := extsort.New(ch, CellCountFromBytes, CellCountLess, config)
	g.Go(func() error {
		return encodePointLogs(tree, paths, ch, subCtx)
	})
	g.Go(func() error {
		sorter.Sort(ctx) // not subCtx, as per extsort docs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Write to a temporary file first and rename it atomically once it
	// is complete, so a crash cannot leave a truncated cache file behind.
	tmppath := path + ".tmp"
	tmpfile, err := os.Create(tmppath)
	if err != nil {
		return nil, err
	}
	defer tmpfile.Close()
	writer := brotli.NewWriterLevel(tmpfile, 9)
	defer writer.Close()

	var last CellCount
	for data := range outChan {
		cur := data.(CellCount)
		if cur.Qid != last.Qid {
			if last.Count > 0 {
				fmt.Fprintf(writer, "%d %d\n", last.Qid, last.Count)
			}
			last = cur
		} else {
			last.Count += cur.Count
		}
	}
	if last.Count > 0 {
		fmt.Fprintf(writer, "%d %d\n", last.Qid, last.Count)
	}

	if err := <-errChan; err != nil {
		return nil, err
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	if err := tmpfile.Sync(); err != nil {
		return nil, err
	}
	if err := tmpfile.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmppath, path); err != nil {
		return nil, err
	}

	if f, err := os.Open(path); err == nil {
		return brotli.NewReader(f), nil
	} else {
		return nil, err
	}
}

// encodePointLogs reads all point logs in parallel, encodes each
// observation to its qid, and feeds the resulting counts to ch.
func encodePointLogs(tree *qtree.QTree, paths []string, ch chan<- extsort.SortType, ctx context.Context) error {
	defer close(ch)

	g, subCtx := errgroup.WithContext(ctx)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			return encodePointLog(tree, path, ch, subCtx)
		})
	}
	return g.Wait()
}

func encodePointLog(tree *qtree.QTree, path string, ch chan<- extsort.SortType, ctx context.Context) error {
	reader, err := openPointLog(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	lineno := 0
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		lineno++
		// Check if our task has been canceled, typically because of
		// an error in another goroutine of the same errgroup.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 && len(fields) != 3 {
			return fmt.Errorf("%s:%d: expected \"lon lat [count]\", got %q", path, lineno, line)
		}
		lon, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return fmt.Errorf("%s:%d: %v", path, lineno, err)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("%s:%d: %v", path, lineno, err)
		}
		count := uint64(1)
		if len(fields) == 3 {
			if count, err = strconv.ParseUint(fields[2], 10, 64); err != nil {
				return fmt.Errorf("%s:%d: %v", path, lineno, err)
			}
		}
		qid, err := tree.Encode(lon, lat)
		if err != nil {
			return fmt.Errorf("%s:%d: %v", path, lineno, err)
		}
		if count > 0 {
			ch <- CellCount{Qid: qid, Count: count}
		}
	}
	return scanner.Err()
}

type pointLogReader struct {
	io.Reader
	file *os.File
}

func (r *pointLogReader) Close() error { return r.file.Close() }

// openPointLog opens a point log, transparently decompressing .gz, .bz2
// and .xz files by extension.
func openPointLog(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	switch filepath.Ext(path) {
	case ".gz":
		reader, err = gzip.NewReader(file)
	case ".bz2":
		reader, err = bzip2.NewReader(file, &bzip2.ReaderConfig{})
	case ".xz":
		reader, err = xz.NewReader(file)
	default:
		reader = file
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	return &pointLogReader{Reader: reader, file: file}, nil
}
