// Package trip derives travel statistics, stop intervals and exports from
// a chronological run of fixes. All functions are pure over their input.
package trip

import (
	"math"
	"sort"
	"time"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/geo"
)

const (
	// MovingSpeedKmh splits moving from stopped samples.
	MovingSpeedKmh = 5.0
	// MaxSegmentKm drops GPS jumps from the distance total.
	MaxSegmentKm = 10.0
	// MaxGapMinutes bounds the pairs that count toward moving time.
	MaxGapMinutes = 60.0
)

type SpeedSample struct {
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed"`
}

type Statistics struct {
	TotalPoints     int            `json:"total_points"`
	TotalDistanceKm float64        `json:"total_distance_km"`
	AverageSpeedKmh float64        `json:"average_speed_kmh"`
	MaxSpeedKmh     float64        `json:"max_speed_kmh"`
	MovingMinutes   float64        `json:"moving_minutes"`
	StoppedMinutes  float64        `json:"stopped_minutes"`
	SpeedSeries     []SpeedSample  `json:"speed_series"`
	Stops           []StopInterval `json:"stops"`
}

// ordered returns points sorted by device timestamp, copying only when
// the input is out of order.
func ordered(points []fix.Fix) []fix.Fix {
	less := func(p []fix.Fix) func(i, j int) bool {
		return func(i, j int) bool { return p[i].Timestamp.Before(p[j].Timestamp) }
	}
	if sort.SliceIsSorted(points, less(points)) {
		return points
	}
	out := append([]fix.Fix(nil), points...)
	sort.SliceStable(out, less(out))
	return out
}

func ComputeStatistics(points []fix.Fix, minStopMinutes float64) Statistics {
	var st Statistics
	if len(points) == 0 {
		return st
	}
	points = ordered(points)
	st.TotalPoints = len(points)
	st.TotalDistanceKm = TotalDistance(points)

	st.SpeedSeries = make([]SpeedSample, len(points))
	var sum float64
	var n int
	for i, p := range points {
		st.SpeedSeries[i] = SpeedSample{Timestamp: p.Timestamp, Speed: p.SpeedKmh}
		if p.SpeedKmh >= 0 && !math.IsNaN(p.SpeedKmh) {
			sum += p.SpeedKmh
			n++
			if p.SpeedKmh > st.MaxSpeedKmh {
				st.MaxSpeedKmh = p.SpeedKmh
			}
		}
	}
	if n > 0 {
		st.AverageSpeedKmh = sum / float64(n)
	}

	var total float64
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		dt := geo.Minutes(a.Timestamp, b.Timestamp)
		if dt <= 0 || dt > MaxGapMinutes {
			continue
		}
		total += dt
		if a.SpeedKmh > MovingSpeedKmh || b.SpeedKmh > MovingSpeedKmh {
			st.MovingMinutes += dt
		}
	}
	st.StoppedMinutes = math.Max(0, total-st.MovingMinutes)
	st.Stops = DetectStops(points, minStopMinutes)
	return st
}

// TotalDistance sums haversine segments between consecutive points.
// Segments touching an invalid point or longer than MaxSegmentKm add
// nothing.
func TotalDistance(points []fix.Fix) float64 {
	var km float64
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		if !geo.ValidPoint(a.Latitude, a.Longitude) || !geo.ValidPoint(b.Latitude, b.Longitude) {
			continue
		}
		d := geo.Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
		if d > MaxSegmentKm {
			continue
		}
		km += d
	}
	return km
}
