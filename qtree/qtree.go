// SPDX-License-Identifier: MIT

// Package qtree converts between (lon, lat) coordinates in decimal degrees
// and quadtree cell identifiers (qids) at a fixed angular resolution.
//
// A qid names one leaf cell of a quadtree whose top-level span is the
// smallest power-of-two multiple of the resolution covering 180 degrees.
// Encoding walks the tree from the root, picking one of four quadrants per
// level; decoding sums the per-level centroid offsets back up. The default
// arithmetic works in integer milliarcseconds, which keeps cell-boundary
// comparisons exact regardless of how the input coordinates were computed.
package qtree

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Qid identifies one leaf cell. Reading it as a base-4 number gives the
// quadrant chosen at each bisection level, most significant digit first.
type Qid int64

// Arithmetic selects how the bisection walk compares coordinates.
type Arithmetic int

const (
	// FixedPoint works in integer milliarcseconds with a strict
	// greater-than tie-break. This is the authoritative variant.
	FixedPoint Arithmetic = iota

	// FloatDegree works directly on degree values with a greater-or-equal
	// tie-break. It predates FixedPoint and is kept for backward
	// compatibility; points exactly on a cell boundary land in a
	// different cell than under FixedPoint.
	FloatDegree
)

// masPerDegree is the fixed-point scale: one unit is a milliarcsecond.
const masPerDegree = 3_600_000

// maxLevels bounds the bisection depth so that 4^levels - 1 fits in the
// int64 behind Qid.
const maxLevels = 31

var (
	ErrResolution = errors.New("invalid resolution")
	ErrDomain     = errors.New("coordinate outside domain")
	ErrQidRange   = errors.New("qid out of range")
)

// Config selects the cell size and arithmetic for a QTree.
type Config struct {
	Resolution float64    // cell edge length in decimal degrees; required
	Arithmetic Arithmetic // defaults to FixedPoint
}

// QTree converts between coordinates and qids at one resolution.
// A QTree is immutable after construction and safe for concurrent use.
type QTree struct {
	res    float64
	arith  Arithmetic
	resMas int64 // resolution in milliarcseconds; 0 for FloatDegree
	iMax   int   // index of the finest bisection level
}

// New returns a QTree for the given configuration. The resolution must be
// positive, at most 180 degrees, coarse enough to fit within maxLevels
// bisections, and (for FixedPoint) no finer than two milliarcseconds.
func New(cfg Config) (*QTree, error) {
	res := cfg.Resolution
	if !(res > 0) || res > 180 {
		return nil, fmt.Errorf("%w: %g degrees", ErrResolution, res)
	}
	t := &QTree{
		res:   res,
		arith: cfg.Arithmetic,
		iMax:  int(math.Ceil(math.Log2(180 / res))),
	}
	if t.iMax+1 > maxLevels {
		return nil, fmt.Errorf("%w: %g degrees needs %d levels, limit is %d",
			ErrResolution, res, t.iMax+1, maxLevels)
	}
	if cfg.Arithmetic == FixedPoint {
		t.resMas = int64(math.Round(res * masPerDegree))
		// A cell narrower than two milliarcseconds has its centroid
		// less than one milliarcsecond from the cell edge, which the
		// integer snapping in Encode cannot keep inside the cell.
		if t.resMas < 2 {
			return nil, fmt.Errorf("%w: %g degrees is below two milliarcseconds", ErrResolution, res)
		}
	}
	return t, nil
}

// Resolution returns the cell edge length in decimal degrees.
func (t *QTree) Resolution() float64 { return t.res }

// Levels returns the number of bisection levels walked per conversion.
func (t *QTree) Levels() int { return t.iMax + 1 }

// MaxQid returns the largest valid qid, 4^Levels - 1.
func (t *QTree) MaxQid() Qid { return Qid(1)<<uint(2*(t.iMax+1)) - 1 }

func (t *QTree) String() string {
	if t.arith == FixedPoint {
		return fmt.Sprintf("QTree(%g°[mas])", t.res)
	}
	return fmt.Sprintf("QTree(%g°)", t.res)
}

// checkDomain rejects coordinates outside the lon/lat sphere. Longitudes
// must already be normalized to [-180, 180]; no wrapping is performed.
// The negated comparisons also reject NaN.
func checkDomain(lon, lat float64) error {
	if !(lon >= -180 && lon <= 180) {
		return fmt.Errorf("%w: longitude %g", ErrDomain, lon)
	}
	if !(lat >= -90 && lat <= 90) {
		return fmt.Errorf("%w: latitude %g", ErrDomain, lat)
	}
	return nil
}

// Encode returns the qid of the cell whose centroid grid lies nearest to
// (lon, lat). Inputs are snapped to the milliarcsecond grid first, so a
// point exactly halfway between two cells is assigned deterministically.
func (t *QTree) Encode(lon, lat float64) (Qid, error) {
	if err := checkDomain(lon, lat); err != nil {
		return 0, err
	}
	if t.arith == FloatDegree {
		return t.encodeDegrees(lon, lat), nil
	}
	lonMas := int64(math.Round(lon * masPerDegree))
	latMas := int64(math.Round(lat * masPerDegree))
	return t.encodeMas(lonMas, latMas), nil
}

// encodeMas walks the quadtree in milliarcsecond units. The running origin
// starts at (0, 0) and moves by half the remaining span at each level; the
// point's side of the origin on each axis picks the quadrant. Comparisons
// are strictly greater-than, so a point exactly on the origin goes to the
// non-greater side.
func (t *QTree) encodeMas(lonMas, latMas int64) Qid {
	var originLon, originLat int64
	var qid Qid
	shift := t.resMas << uint(t.iMax)
	delta := Qid(1) << uint(2*t.iMax) // 4^iMax
	for i := 0; i <= t.iMax; i++ {
		// The last right-shift drops the low bit when resMas is odd,
		// but that shift only moves the origin after the final
		// comparison, so it never reaches the qid.
		shift >>= 1
		right := lonMas > originLon
		top := latMas > originLat
		switch {
		case top && right: // NE, digit 0
			originLon += shift
			originLat += shift
		case top: // NW, digit 1
			qid += delta
			originLon -= shift
			originLat += shift
		case !right: // SW, digit 2
			qid += 2 * delta
			originLon -= shift
			originLat -= shift
		default: // SE, digit 3
			qid += 3 * delta
			originLon += shift
			originLat -= shift
		}
		delta >>= 2
	}
	return qid
}

// Decode returns the centroid of the cell identified by qid.
func (t *QTree) Decode(qid Qid) (lon, lat float64, err error) {
	if qid < 0 || qid > t.MaxQid() {
		return 0, 0, fmt.Errorf("%w: %d not in [0, %d]", ErrQidRange, qid, t.MaxQid())
	}
	if t.arith == FloatDegree {
		lon, lat = t.decodeDegrees(qid)
		return lon, lat, nil
	}
	lonHalf, latHalf := t.decodeMas(qid)
	return float64(lonHalf) / (2 * masPerDegree), float64(latHalf) / (2 * masPerDegree), nil
}

// decodeMas reconstructs the centroid from the base-4 digits of qid,
// least significant (finest level) first. Each digit contributes an
// independent offset of ±step on both axes, so the traversal direction
// does not have to mirror encodeMas. Offsets accumulate in
// half-milliarcsecond units: half the finest cell edge is then a whole
// number of units even when resMas is odd.
func (t *QTree) decodeMas(qid Qid) (lonHalf, latHalf int64) {
	step := t.resMas // half a cell edge, in half-milliarcseconds
	for i := 0; i <= t.iMax; i++ {
		switch qid & 3 {
		case 0: // NE
			lonHalf += step
			latHalf += step
		case 1: // NW
			lonHalf -= step
			latHalf += step
		case 2: // SW
			lonHalf -= step
			latHalf -= step
		default: // SE
			lonHalf += step
			latHalf -= step
		}
		qid >>= 2
		step <<= 1
	}
	return lonHalf, latHalf
}

// batchChunk is the number of points one goroutine handles in a batch call.
const batchChunk = 8192

// EncodeBatch encodes parallel slices of longitudes and latitudes into a
// qid slice of the same length, preserving order. Results are bit-identical
// to calling Encode per element. If any element is invalid the whole call
// fails and no output is returned.
func (t *QTree) EncodeBatch(lons, lats []float64) ([]Qid, error) {
	if len(lons) != len(lats) {
		return nil, fmt.Errorf("%w: %d longitudes but %d latitudes", ErrDomain, len(lons), len(lats))
	}
	qids := make([]Qid, len(lons))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for start := 0; start < len(lons); start += batchChunk {
		start := start
		end := start + batchChunk
		if end > len(lons) {
			end = len(lons)
		}
		g.Go(func() error {
			for k := start; k < end; k++ {
				qid, err := t.Encode(lons[k], lats[k])
				if err != nil {
					return fmt.Errorf("%w (element %d)", err, k)
				}
				qids[k] = qid
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return qids, nil
}

// DecodeBatch decodes a qid slice into centroid longitude and latitude
// slices of the same length, preserving order. If any element is invalid
// the whole call fails and no output is returned.
func (t *QTree) DecodeBatch(qids []Qid) (lons, lats []float64, err error) {
	lons = make([]float64, len(qids))
	lats = make([]float64, len(qids))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for start := 0; start < len(qids); start += batchChunk {
		start := start
		end := start + batchChunk
		if end > len(qids) {
			end = len(qids)
		}
		g.Go(func() error {
			for k := start; k < end; k++ {
				lon, lat, err := t.Decode(qids[k])
				if err != nil {
					return fmt.Errorf("%w (element %d)", err, k)
				}
				lons[k], lats[k] = lon, lat
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return lons, lats, nil
}
