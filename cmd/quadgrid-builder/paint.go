// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"io"
	"math"

	"github.com/fogleman/gg"

	"github.com/quadgrid/quadgrid-go/qtree"
)

// paint renders aggregated cell counts into an equirectangular PNG of the
// given width (height is width/2). Each non-empty cell becomes a filled
// rectangle shaded by the logarithm of its count, so sparse and dense
// cells both stay visible.
func paint(path string, tree *qtree.QTree, counts io.Reader, width int) error {
	type cell struct {
		lon, lat float64
		count    uint64
	}

	cells := make([]cell, 0)
	maxCount := uint64(0)
	scanner := bufio.NewScanner(counts)
	for scanner.Scan() {
		qid, count, err := parseCellCount(scanner.Text())
		if err != nil {
			return err
		}
		lon, lat, err := tree.Decode(qid)
		if err != nil {
			return err
		}
		cells = append(cells, cell{lon: lon, lat: lat, count: count})
		if count > maxCount {
			maxCount = count
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	height := width / 2
	scaleX := float64(width) / 360
	scaleY := float64(height) / 180
	res := tree.Resolution()

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	logMax := math.Log1p(float64(maxCount))
	for _, c := range cells {
		shade := 1.0
		if logMax > 0 {
			shade = math.Log1p(float64(c.count)) / logMax
		}
		x := (c.lon - res/2 + 180) * scaleX
		y := (90 - c.lat - res/2) * scaleY
		dc.SetRGB(1-shade, 1-shade, 1)
		dc.DrawRectangle(x, y, res*scaleX, res*scaleY)
		dc.Fill()
	}

	return dc.SavePNG(path)
}
