package features

import (
	"math"
	"time"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// travel computes distance and speed between two fixes in either time order;
// samples may arrive after a newer fix was already recorded.
// Speed is +Inf only when the fixes share a timestamp but the distance is not zero.
func travel(fromLat, fromLon float64, from time.Time, toLat, toLon float64, to time.Time) (distanceKm, speedKmh float64) {
	distanceKm = HaversineKm(fromLat, fromLon, toLat, toLon)
	hours := math.Abs(to.Sub(from).Hours())
	switch {
	case hours > 0:
		speedKmh = distanceKm / hours
	case distanceKm > 0:
		speedKmh = math.Inf(1)
	}
	return distanceKm, speedKmh
}
