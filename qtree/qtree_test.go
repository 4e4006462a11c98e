// SPDX-License-Identifier: MIT

package qtree

import (
	"errors"
	"math/rand"
	"testing"
)

func mustNew(t *testing.T, cfg Config) *QTree {
	t.Helper()
	tree, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestNewInvalidResolution(t *testing.T) {
	// 3e-7 degrees rounds to a single milliarcsecond, below the
	// fixed-point precision floor.
	for _, res := range []float64{0, -1, -30, 180.5, 1e9, 1e-9, 3e-7} {
		if _, err := New(Config{Resolution: res}); !errors.Is(err, ErrResolution) {
			t.Errorf("resolution %g: expected ErrResolution, got %v", res, err)
		}
	}
}

// Qids are int64, so resolutions that need more than 31 bisection levels
// cannot be represented and must be rejected under both arithmetics.
func TestNewLevelLimit(t *testing.T) {
	for _, arith := range []Arithmetic{FixedPoint, FloatDegree} {
		if _, err := New(Config{Resolution: 1e-8, Arithmetic: arith}); !errors.Is(err, ErrResolution) {
			t.Errorf("arithmetic %d: expected ErrResolution, got %v", arith, err)
		}
	}

	// 180/2^30 degrees needs exactly 31 levels and must still work.
	finest := 180.0 / float64(1<<30)
	tree := mustNew(t, Config{Resolution: finest, Arithmetic: FloatDegree})
	if got := tree.Levels(); got != 31 {
		t.Errorf("expected 31 levels, got %d", got)
	}
	if tree.MaxQid() <= 0 {
		t.Errorf("expected positive MaxQid, got %d", tree.MaxQid())
	}
	a, err := tree.Encode(10, 10)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tree.Encode(-10, -10)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("expected distinct qids for distinct points, got %d twice", a)
	}

	// Fixed point cannot go that fine: such cells round to a single
	// milliarcsecond, below the precision floor.
	if _, err := New(Config{Resolution: finest}); !errors.Is(err, ErrResolution) {
		t.Errorf("expected ErrResolution, got %v", err)
	}
}

func TestLevels(t *testing.T) {
	for _, tc := range []struct {
		res    float64
		levels int
		maxQid Qid
	}{
		{30, 4, 255},      // four levels: ceil(log2(180/30)) = 3
		{180, 1, 3},       // a single bisection
		{1, 9, 1<<18 - 1}, // nine levels: ceil(log2(180)) = 8
	} {
		tree := mustNew(t, Config{Resolution: tc.res})
		if got := tree.Levels(); got != tc.levels {
			t.Errorf("resolution %g: expected %d levels, got %d", tc.res, tc.levels, got)
		}
		if got := tree.MaxQid(); got != tc.maxQid {
			t.Errorf("resolution %g: expected MaxQid %d, got %d", tc.res, tc.maxQid, got)
		}
	}
}

func TestEncodeDomain(t *testing.T) {
	tree := mustNew(t, Config{Resolution: 1})
	for _, p := range [][2]float64{
		{-180.5, 0}, {181, 0}, {0, 90.5}, {0, -91}, {360, 45},
	} {
		if _, err := tree.Encode(p[0], p[1]); !errors.Is(err, ErrDomain) {
			t.Errorf("Encode(%g, %g): expected ErrDomain, got %v", p[0], p[1], err)
		}
	}
	for _, p := range [][2]float64{
		{-180, -90}, {180, 90}, {0, 0}, {180, -90}, {-180, 90},
	} {
		if _, err := tree.Encode(p[0], p[1]); err != nil {
			t.Errorf("Encode(%g, %g): expected no error, got %v", p[0], p[1], err)
		}
	}
}

func TestDecodeRange(t *testing.T) {
	tree := mustNew(t, Config{Resolution: 30})
	for _, qid := range []Qid{-1, 256, 1 << 40} {
		if _, _, err := tree.Decode(qid); !errors.Is(err, ErrQidRange) {
			t.Errorf("Decode(%d): expected ErrQidRange, got %v", qid, err)
		}
	}
	if _, _, err := tree.Decode(255); err != nil {
		t.Errorf("Decode(255): expected no error, got %v", err)
	}
}

// Decoding a qid and re-encoding its centroid must give back the same qid.
// Qids whose cells lie beyond the lon/lat sphere (the top-level span is a
// power-of-two multiple of the resolution, so it overshoots 180 degrees)
// decode to out-of-domain centroids and are skipped.
func TestRoundTrip(t *testing.T) {
	// 0.0078125 degrees has an odd milliarcsecond count.
	for _, res := range []float64{180, 30, 1, 0.25, 0.1, 0.0078125} {
		tree := mustNew(t, Config{Resolution: res})
		rng := rand.New(rand.NewSource(42))
		tested := 0
		for n := 0; n < 2000; n++ {
			qid := Qid(rng.Int63n(int64(tree.MaxQid()) + 1))
			lon, lat, err := tree.Decode(qid)
			if err != nil {
				t.Fatal(err)
			}
			if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
				continue
			}
			tested++
			got, err := tree.Encode(lon, lat)
			if err != nil {
				t.Fatal(err)
			}
			if got != qid {
				t.Errorf("resolution %g: decode(%d) = (%g, %g), re-encoded to %d",
					res, qid, lon, lat, got)
			}
		}
		if tested == 0 {
			t.Errorf("resolution %g: no in-domain qids tested", res)
		}
	}
}

// Coordinates already on the centroid grid must survive encode/decode
// without any drift. 0.0078125 degrees is 28125 milliarcseconds, an odd
// count, so it exercises the half-milliarcsecond decode lattice; both
// resolutions are exact binary fractions, so exact comparison is sound.
func TestGridAlignmentIdempotence(t *testing.T) {
	for _, res := range []float64{1, 0.0078125} {
		tree := mustNew(t, Config{Resolution: res})
		cols := int(360 / res)
		rows := int(180 / res)
		for i := 0; i < cols; i += cols/37 + 1 {
			for j := 0; j < rows; j += rows/23 + 1 {
				lon := (float64(i-cols/2) + 0.5) * res
				lat := (float64(j-rows/2) + 0.5) * res
				qid, err := tree.Encode(lon, lat)
				if err != nil {
					t.Fatal(err)
				}
				gotLon, gotLat, err := tree.Decode(qid)
				if err != nil {
					t.Fatal(err)
				}
				if gotLon != lon || gotLat != lat {
					t.Errorf("resolution %g: expected (%g, %g), got (%g, %g)",
						res, lon, lat, gotLon, gotLat)
				}
			}
		}
	}
}

// Every centroid within bounds must map to its own qid.
func TestBijection(t *testing.T) {
	tree := mustNew(t, Config{Resolution: 30})
	seen := make(map[Qid]bool)
	count := 0
	for lon := -165.0; lon <= 165; lon += 30 {
		for lat := -75.0; lat <= 75; lat += 30 {
			qid, err := tree.Encode(lon, lat)
			if err != nil {
				t.Fatal(err)
			}
			if seen[qid] {
				t.Errorf("qid %d assigned to more than one centroid", qid)
			}
			seen[qid] = true
			count++
		}
	}
	if count != 12*6 || len(seen) != 12*6 {
		t.Errorf("expected %d distinct qids, got %d of %d", 12*6, len(seen), count)
	}
}

func TestBoundaryDeterminism(t *testing.T) {
	tree := mustNew(t, Config{Resolution: 1})

	// (0, 0) sits exactly on the top-level origin. The strict greater-than
	// rule assigns it to the southwest, every time.
	first, err := tree.Encode(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for n := 0; n < 100; n++ {
		qid, err := tree.Encode(0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if qid != first {
			t.Fatalf("expected %d, got %d on repeat %d", first, qid, n)
		}
	}
	lon, lat, err := tree.Decode(first)
	if err != nil {
		t.Fatal(err)
	}
	if lon != -0.5 || lat != -0.5 {
		t.Errorf("expected centroid (-0.5, -0.5), got (%g, %g)", lon, lat)
	}
}

func TestAdjacentCentroids(t *testing.T) {
	tree := mustNew(t, Config{Resolution: 1})

	ne, err := tree.Encode(0.5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	nw, err := tree.Encode(-0.5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if ne == nw {
		t.Fatalf("adjacent cells share qid %d", ne)
	}
	if lon, lat, _ := tree.Decode(ne); lon != 0.5 || lat != 0.5 {
		t.Errorf("expected centroid (0.5, 0.5), got (%g, %g)", lon, lat)
	}
	if lon, lat, _ := tree.Decode(nw); lon != -0.5 || lat != 0.5 {
		t.Errorf("expected centroid (-0.5, 0.5), got (%g, %g)", lon, lat)
	}
}

func TestEncodeBatch(t *testing.T) {
	tree := mustNew(t, Config{Resolution: 0.5})
	rng := rand.New(rand.NewSource(7))
	n := 3 * batchChunk / 2 // force more than one chunk
	lons := make([]float64, n)
	lats := make([]float64, n)
	for k := range lons {
		lons[k] = rng.Float64()*360 - 180
		lats[k] = rng.Float64()*180 - 90
	}
	qids, err := tree.EncodeBatch(lons, lats)
	if err != nil {
		t.Fatal(err)
	}
	if len(qids) != n {
		t.Fatalf("expected %d qids, got %d", n, len(qids))
	}
	for k := range lons {
		want, err := tree.Encode(lons[k], lats[k])
		if err != nil {
			t.Fatal(err)
		}
		if qids[k] != want {
			t.Errorf("element %d: expected %d, got %d", k, want, qids[k])
		}
	}
}

func TestDecodeBatch(t *testing.T) {
	tree := mustNew(t, Config{Resolution: 30})
	qids := make([]Qid, 0, 256)
	for q := Qid(0); q <= tree.MaxQid(); q++ {
		qids = append(qids, q)
	}
	lons, lats, err := tree.DecodeBatch(qids)
	if err != nil {
		t.Fatal(err)
	}
	for k, qid := range qids {
		wantLon, wantLat, err := tree.Decode(qid)
		if err != nil {
			t.Fatal(err)
		}
		if lons[k] != wantLon || lats[k] != wantLat {
			t.Errorf("qid %d: expected (%g, %g), got (%g, %g)",
				qid, wantLon, wantLat, lons[k], lats[k])
		}
	}
}

func TestBatchFailsAtomically(t *testing.T) {
	tree := mustNew(t, Config{Resolution: 1})

	lons := []float64{1.5, 2.5, 999, 3.5}
	lats := []float64{1.5, 2.5, 1.5, 3.5}
	if qids, err := tree.EncodeBatch(lons, lats); !errors.Is(err, ErrDomain) || qids != nil {
		t.Errorf("expected ErrDomain and nil qids, got %v and %v", err, qids)
	}

	if _, err := tree.EncodeBatch([]float64{1, 2}, []float64{1}); !errors.Is(err, ErrDomain) {
		t.Errorf("expected ErrDomain for mismatched lengths, got %v", err)
	}

	if lons, lats, err := tree.DecodeBatch([]Qid{0, -1}); !errors.Is(err, ErrQidRange) || lons != nil || lats != nil {
		t.Errorf("expected ErrQidRange and nil output, got %v, %v, %v", err, lons, lats)
	}
}

var qidSink Qid

func BenchmarkEncode(b *testing.B) {
	tree, err := New(Config{Resolution: 0.1})
	if err != nil {
		b.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	lons := make([]float64, 64)
	lats := make([]float64, 64)
	for k := range lons {
		lons[k] = rng.Float64()*360 - 180
		lats[k] = rng.Float64()*180 - 90
	}
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		qidSink, _ = tree.Encode(lons[n%64], lats[n%64])
	}
}

var degSink float64

func BenchmarkDecode(b *testing.B) {
	tree, err := New(Config{Resolution: 0.1})
	if err != nil {
		b.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	qids := make([]Qid, 64)
	for k := range qids {
		qids[k] = Qid(rng.Int63n(int64(tree.MaxQid()) + 1))
	}
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		lon, lat, _ := tree.Decode(qids[n%64])
		degSink += lon + lat
	}
}
