package device

import (
	"math"
	"math/rand"
	"time"

	"nuha.dev/tcpgps/internal/geo"
)

// Walker moves a simulated vehicle. Every step it drifts its heading and
// speed a little and advances along the new heading.
type Walker struct {
	Lat, Lon float64
	SpeedKmh float64
	Course   float64
	MaxSpeed float64
	rnd      *rand.Rand
}

func NewWalker(lat, lon float64, seed int64) *Walker {
	return &Walker{Lat: lat, Lon: lon, MaxSpeed: 80, rnd: rand.New(rand.NewSource(seed))}
}

// Step advances the walker by dt.
func (w *Walker) Step(dt time.Duration) {
	w.Course = math.Mod(w.Course+w.rnd.Float64()*30-15+360, 360)
	w.SpeedKmh = math.Max(0, math.Min(w.MaxSpeed, w.SpeedKmh+w.rnd.Float64()*20-8))
	km := w.SpeedKmh * dt.Hours()
	rad := w.Course * math.Pi / 180
	dLat := km * math.Cos(rad) / (geo.EarthRadiusKm * math.Pi / 180)
	dLon := km * math.Sin(rad) / (geo.EarthRadiusKm * math.Pi / 180 * math.Cos(w.Lat*math.Pi/180))
	w.Lat = math.Max(-89, math.Min(89, w.Lat+dLat))
	w.Lon = math.Mod(w.Lon+dLon+540, 360) - 180
}
