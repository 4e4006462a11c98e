// SPDX-License-Identifier: MIT

// Package grid materializes a uniform-resolution quadcell grid over a
// bounding region: the cell centroids, their qids, and approximate cell
// areas on a spherical Earth. It consumes the qtree codec; all geometry
// beyond centroid enumeration (polygon clipping, containment) is left to
// external tools.
package grid

import (
	"fmt"
	"math"

	"github.com/quadgrid/quadgrid-go/qtree"
)

// EarthRadius is the authalic radius of the Earth in kilometres.
const EarthRadius = 6371.007

// Bounds is an inclusive coordinate range along one axis.
type Bounds struct {
	Min, Max float64
}

// Global covers the whole lon/lat sphere.
var Global = [2]Bounds{{-180, 180}, {-90, 90}}

// Grid holds the materialized cells of one uniform-resolution grid.
// Cell k has centroid (Lons[k], Lats[k]), identifier Qids[k] and area
// Areas[k]; cells are ordered south-to-north, then west-to-east within
// each latitude row.
type Grid struct {
	Res                  float64
	LonBounds, LatBounds Bounds

	Lons1D []float64 // distinct centroid longitudes, ascending
	Lats1D []float64 // distinct centroid latitudes, ascending

	Lons  []float64
	Lats  []float64
	Qids  []qtree.Qid
	Areas []float64 // km²
}

// New materializes the grid of resolution res within the given bounds.
// Centroids sit at odd multiples of res/2; a cell is kept when its centroid
// lies within the bounds widened by half a cell on each side.
func New(res float64, lonBounds, latBounds Bounds) (*Grid, error) {
	tree, err := qtree.New(qtree.Config{Resolution: res})
	if err != nil {
		return nil, err
	}
	if lonBounds.Min >= lonBounds.Max || latBounds.Min >= latBounds.Max {
		return nil, fmt.Errorf("empty bounds: lon %v, lat %v", lonBounds, latBounds)
	}

	g := &Grid{
		Res:       res,
		LonBounds: lonBounds,
		LatBounds: latBounds,
		Lons1D:    ladder(res, 180, lonBounds),
		Lats1D:    ladder(res, 90, latBounds),
	}

	n := len(g.Lons1D) * len(g.Lats1D)
	g.Lons = make([]float64, 0, n)
	g.Lats = make([]float64, 0, n)
	g.Areas = make([]float64, 0, n)
	for _, lat := range g.Lats1D {
		area := cellArea(res, lat)
		for _, lon := range g.Lons1D {
			g.Lons = append(g.Lons, lon)
			g.Lats = append(g.Lats, lat)
			g.Areas = append(g.Areas, area)
		}
	}

	g.Qids, err = tree.EncodeBatch(g.Lons, g.Lats)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Size returns the number of cells in the grid.
func (g *Grid) Size() int { return len(g.Qids) }

func (g *Grid) String() string {
	return fmt.Sprintf("QuadGrid %g deg | %g<=lon<=%g | %g<=lat<=%g",
		g.Res, g.LonBounds.Min, g.LonBounds.Max, g.LatBounds.Min, g.LatBounds.Max)
}

// ladder returns the ascending centroid coordinates along one axis: odd
// multiples of res/2, mirrored about zero, capped to the coordinate domain
// [-limit, limit] and filtered to the bounds widened by res/2.
func ladder(res, limit float64, b Bounds) []float64 {
	pos := make([]float64, 0)
	for k := 0; ; k++ {
		v := res/2 + float64(k)*res
		if v > limit {
			break
		}
		pos = append(pos, v)
	}

	out := make([]float64, 0, 2*len(pos))
	for i := len(pos) - 1; i >= 0; i-- {
		out = append(out, -pos[i])
	}
	out = append(out, pos...)

	filtered := out[:0]
	for _, v := range out {
		if v > b.Min-res/2 && v < b.Max+res/2 {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// cellArea returns the spherical area in km² of a cell of edge res degrees
// centered at latitude lat. Cells in the same latitude row share one area.
func cellArea(res, lat float64) float64 {
	resRad := res * math.Pi / 180
	north := math.Sin((lat + res/2) * math.Pi / 180)
	south := math.Sin((lat - res/2) * math.Pi / 180)
	return (north - south) * resRad * EarthRadius * EarthRadius
}
