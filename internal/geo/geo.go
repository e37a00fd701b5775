// Package geo holds the spatial helpers shared by the detectors.
package geo

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"rfwatch/internal/model"
)

const earthRadiusMeters = 6371000.0

// unknownEpsilon treats fixes at (0,0) as "no position".
const unknownEpsilon = 1e-7

// HaversineMeters returns the great-circle distance between two points in meters.
func HaversineMeters(a, b model.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180.0

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

func IsUnknown(lat, lon float64) bool {
	return math.Abs(lat) < unknownEpsilon && math.Abs(lon) < unknownEpsilon
}

func Valid(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Centroid is the arithmetic mean of the points. Fine for the sub-kilometer
// spans the tracker works with.
func Centroid(points []model.GeoPoint) model.GeoPoint {
	if len(points) == 0 {
		return model.GeoPoint{}
	}
	lats := make([]float64, len(points))
	lons := make([]float64, len(points))
	for i, p := range points {
		lats[i] = p.Lat
		lons[i] = p.Lon
	}
	return model.GeoPoint{Lat: stat.Mean(lats, nil), Lon: stat.Mean(lons, nil)}
}

func MaxDisplacement(points []model.GeoPoint, center model.GeoPoint) float64 {
	maxDist := 0.0
	for _, p := range points {
		if d := HaversineMeters(center, p); d > maxDist {
			maxDist = d
		}
	}
	return maxDist
}

// PathLength sums the leg distances of an ordered track.
func PathLength(points []model.GeoPoint) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += HaversineMeters(points[i-1], points[i])
	}
	return total
}

// Merge collapses points lying within radius meters of an already kept point.
func Merge(points []model.GeoPoint, radius float64) []model.GeoPoint {
	out := make([]model.GeoPoint, 0, len(points))
	for _, p := range points {
		dup := false
		for _, q := range out {
			if HaversineMeters(p, q) <= radius {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, p)
		}
	}
	return out
}
