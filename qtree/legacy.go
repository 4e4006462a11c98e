// SPDX-License-Identifier: MIT

package qtree

import "math"

// The float-degree walk below is the pre-fixed-point behavior. It compares
// raw degree values with greater-or-equal instead of the strict greater-than
// used by the milliarcsecond walk, and it rederives the level count and
// top-level span on every call. Away from cell boundaries it agrees with
// the fixed-point walk; on a boundary the two variants assign opposite
// cells. Kept as a reference and as a cross-check oracle in tests.

func (t *QTree) encodeDegrees(lon, lat float64) Qid {
	iMax := int(math.Ceil(math.Log2(180 / t.res)))
	var originLon, originLat float64
	var qid Qid
	delta := Qid(1) << uint(2*iMax) // 4^iMax
	for span := math.Ldexp(t.res, iMax); span >= t.res; span /= 2 {
		half := span / 2
		right := lon >= originLon
		top := lat >= originLat
		switch {
		case top && right: // NE, digit 0
			originLon += half
			originLat += half
		case top: // NW, digit 1
			qid += delta
			originLon -= half
			originLat += half
		case !right: // SW, digit 2
			qid += 2 * delta
			originLon -= half
			originLat -= half
		default: // SE, digit 3
			qid += 3 * delta
			originLon += half
			originLat -= half
		}
		delta >>= 2
	}
	return qid
}

func (t *QTree) decodeDegrees(qid Qid) (lon, lat float64) {
	iMax := int(math.Ceil(math.Log2(180 / t.res)))
	delta := t.res / 2
	for i := 0; i <= iMax; i++ {
		switch qid & 3 {
		case 0: // NE
			lon += delta
			lat += delta
		case 1: // NW
			lon -= delta
			lat += delta
		case 2: // SW
			lon -= delta
			lat -= delta
		default: // SE
			lon += delta
			lat -= delta
		}
		qid >>= 2
		delta *= 2
	}
	return lon, lat
}
