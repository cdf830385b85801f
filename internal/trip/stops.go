package trip

import (
	"time"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/geo"
)

const DefaultMinStop = 5.0

type StopInterval struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration_minutes"`
}

// DetectStops returns the runs of points slower than MovingSpeedKmh that
// last at least minStopMinutes. A run ends at its last slow point. Points
// outside geo.ValidPoint are ignored. Zero keeps every run; a negative
// minStopMinutes selects DefaultMinStop.
func DetectStops(points []fix.Fix, minStopMinutes float64) []StopInterval {
	if minStopMinutes < 0 {
		minStopMinutes = DefaultMinStop
	}
	points = ordered(points)
	stops := make([]StopInterval, 0)
	var cur *StopInterval
	closeStop := func() {
		cur.Duration = geo.Minutes(cur.StartTime, cur.EndTime)
		if cur.Duration >= minStopMinutes {
			stops = append(stops, *cur)
		}
		cur = nil
	}
	for _, p := range points {
		if !geo.ValidPoint(p.Latitude, p.Longitude) {
			continue
		}
		if p.SpeedKmh < MovingSpeedKmh {
			if cur == nil {
				cur = &StopInterval{Latitude: p.Latitude, Longitude: p.Longitude, StartTime: p.Timestamp}
			}
			cur.EndTime = p.Timestamp
			continue
		}
		if cur != nil {
			closeStop()
		}
	}
	if cur != nil {
		closeStop()
	}
	return stops
}
