// SPDX-License-Identifier: MIT

package grid

import "math"

const degToRad = math.Pi / 180

// Haversine returns the great-circle distance in km between two points
// given in decimal degrees.
func Haversine(lon1, lat1, lon2, lat2 float64) float64 {
	dLon := (lon1 - lon2) * degToRad
	dLat := (lat1 - lat2) * degToRad
	sinLon := math.Sin(dLon / 2)
	sinLat := math.Sin(dLat / 2)
	d := sinLat*sinLat + math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*sinLon*sinLon
	return 2 * EarthRadius * math.Asin(math.Sqrt(d))
}

// Distances returns the great-circle distance in km from (lon, lat) to
// every cell centroid, in cell order.
func (g *Grid) Distances(lon, lat float64) []float64 {
	out := make([]float64, len(g.Lons))
	for k := range g.Lons {
		out[k] = Haversine(g.Lons[k], g.Lats[k], lon, lat)
	}
	return out
}

// DistanceMatrix returns the pairwise great-circle distances in km between
// two point sets: element [i][j] is the distance from (lons1[i], lats1[i])
// to (lons2[j], lats2[j]).
func DistanceMatrix(lons1, lats1, lons2, lats2 []float64) [][]float64 {
	out := make([][]float64, len(lons1))
	for i := range lons1 {
		row := make([]float64, len(lons2))
		for j := range lons2 {
			row[j] = Haversine(lons1[i], lats1[i], lons2[j], lats2[j])
		}
		out[i] = row
	}
	return out
}
