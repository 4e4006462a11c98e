// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/quadgrid/quadgrid-go/qtree"
)

// The grid export is a small binary format:
//
//	byte 0..3   file magic "qgx1"
//	byte 4..11  grid resolution in degrees, little-endian float64
//	byte 12..19 number of records, little-endian uint64
//	byte 20..   zstd stream of records, each a uvarint qid
//	            followed by a uvarint count, sorted by qid
//
// The record count is only known once all records are written, so the
// writer patches it into the header on Close. The destination therefore
// has to support seeking.

const exportMagic = "qgx1"

const exportHeaderLen = 20

// ExportWriter writes cell counts into a grid export file.
type ExportWriter struct {
	out        io.WriteSeeker
	compressor *zstd.Encoder
	count      uint64
}

func NewExportWriter(out io.WriteSeeker, resolution float64) (*ExportWriter, error) {
	var header [exportHeaderLen]byte
	copy(header[0:4], exportMagic)
	binary.LittleEndian.PutUint64(header[4:12], math.Float64bits(resolution))
	// Bytes 12..19 stay zero until Close.
	if _, err := out.Write(header[:]); err != nil {
		return nil, err
	}

	compressor, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, err
	}
	return &ExportWriter{out: out, compressor: compressor}, nil
}

func (w *ExportWriter) Write(c CellCount) error {
	var buf [2 * binary.MaxVarintLen64]byte
	pos := binary.PutUvarint(buf[:], uint64(c.Qid))
	pos += binary.PutUvarint(buf[pos:], c.Count)
	if _, err := w.compressor.Write(buf[0:pos]); err != nil {
		return err
	}
	w.count++
	return nil
}

// Close flushes the compressed stream and patches the record count into
// the file header.
func (w *ExportWriter) Close() error {
	if err := w.compressor.Close(); err != nil {
		return err
	}
	if _, err := w.out.Seek(12, io.SeekStart); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], w.count)
	if _, err := w.out.Write(buf[:]); err != nil {
		return err
	}
	return nil
}

// ReadExport reads a grid export and returns its resolution and records.
func ReadExport(r io.Reader) (resolution float64, counts []CellCount, err error) {
	var header [exportHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	if string(header[0:4]) != exportMagic {
		return 0, nil, fmt.Errorf("bad file magic %q", header[0:4])
	}
	resolution = math.Float64frombits(binary.LittleEndian.Uint64(header[4:12]))
	numRecords := binary.LittleEndian.Uint64(header[12:20])

	decompressor, err := zstd.NewReader(r)
	if err != nil {
		return 0, nil, err
	}
	defer decompressor.Close()

	reader := bufio.NewReader(decompressor)
	counts = make([]CellCount, 0, numRecords)
	for {
		qid, err := binary.ReadUvarint(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, nil, err
		}
		count, err := binary.ReadUvarint(reader)
		if err != nil {
			return 0, nil, err
		}
		counts = append(counts, CellCount{Qid: qtree.Qid(qid), Count: count})
	}
	if uint64(len(counts)) != numRecords {
		return 0, nil, fmt.Errorf("expected %d records, got %d", numRecords, len(counts))
	}
	return resolution, counts, nil
}

// writeExport aggregates "qid count" lines into a grid export file,
// returning the number of cells and the total observation count.
func writeExport(path string, resolution float64, counts io.Reader) (cells int64, points uint64, err error) {
	tmppath := path + ".tmp"
	tmpfile, err := os.Create(tmppath)
	if err != nil {
		return 0, 0, err
	}
	defer tmpfile.Close()

	writer, err := NewExportWriter(tmpfile, resolution)
	if err != nil {
		return 0, 0, err
	}

	scanner := bufio.NewScanner(counts)
	for scanner.Scan() {
		qid, count, err := parseCellCount(scanner.Text())
		if err != nil {
			return 0, 0, err
		}
		c := CellCount{Qid: qid, Count: count}
		if err := writer.Write(c); err != nil {
			return 0, 0, err
		}
		cells++
		points += c.Count
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}

	if err := writer.Close(); err != nil {
		return 0, 0, err
	}
	if err := tmpfile.Sync(); err != nil {
		return 0, 0, err
	}
	if err := tmpfile.Close(); err != nil {
		return 0, 0, err
	}
	if err := os.Rename(tmppath, path); err != nil {
		return 0, 0, err
	}
	return cells, points, nil
}
