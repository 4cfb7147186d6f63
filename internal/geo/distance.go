// Package geo provides great-circle distance helpers used by the
// dislocation sweep, the movement heuristic, and the service locator.
package geo

import (
	"math"
	"sort"
)

// earthRadiusKm is the mean Earth radius used by the Haversine formula.
const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance in kilometers between two
// coordinates using the Haversine formula.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DistanceMeters returns the great-circle distance in meters.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return DistanceKm(lat1, lon1, lat2, lon2) * 1000
}

// Point is a coordinate pair.
type Point struct {
	Lat float64
	Lon float64
}

// MedianPoint returns the per-axis median of the given points. For an even
// count the upper of the two middle values is used on each axis, matching the
// dislocation sweep's reference behavior.
func MedianPoint(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}

	lats := make([]float64, len(points))
	lons := make([]float64, len(points))
	for i, p := range points {
		lats[i] = p.Lat
		lons[i] = p.Lon
	}
	sort.Float64s(lats)
	sort.Float64s(lons)

	mid := len(points) / 2
	return Point{Lat: lats[mid], Lon: lons[mid]}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
