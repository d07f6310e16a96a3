package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Distance returns the great-circle distance between two locations in kilometres.
func Distance(a, b Location) float64 {
	return HaversineKm(a.Lat, a.Lon, b.Lat, b.Lon)
}

// HaversineKm calculates the distance between two points in kilometres
// using the Haversine formula.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	return EarthRadiusKm * 2 * math.Asin(math.Sqrt(math.Min(1, a)))
}
