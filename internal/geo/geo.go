// Package geo holds the coordinate and time helpers shared by the decoder
// and the trip statistics engine.
package geo

import (
	"math"
	"time"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// DMToDecimal converts an NMEA style DDMM.MMMM (or DDDMM.MMMM) value to
// decimal degrees. The sign of the input is preserved.
func DMToDecimal(v float64) float64 {
	neg := v < 0
	if neg {
		v = -v
	}
	deg := math.Floor(v / 100)
	min := v - deg*100
	d := deg + min/60
	if neg {
		return -d
	}
	return d
}

// ValidPoint reports whether lat/lon can take part in distance and stop
// computation. (0,0) is the "no fix" marker of most trackers.
func ValidPoint(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return !(lat == 0 && lon == 0)
}

func radians(d float64) float64 {
	return d * math.Pi / 180
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dlat := radians(lat2 - lat1)
	dlon := radians(lon2 - lon1)
	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Minutes returns b-a in fractional minutes.
func Minutes(a, b time.Time) float64 {
	return b.Sub(a).Minutes()
}
