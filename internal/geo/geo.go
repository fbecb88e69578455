// Package geo provides the small amount of spherical geometry the geofencing
// core needs: great-circle distance between coordinate pairs.
package geo

import "math"

// EarthRadiusM is the mean Earth radius in metres, used for all distance
// calculations. Geofence radii are small enough that the spherical
// approximation error is negligible.
const EarthRadiusM = 6371000.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// DistanceM returns the great-circle distance between a and b in metres,
// computed with the haversine formula.
func DistanceM(a, b Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * EarthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}
