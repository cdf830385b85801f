package geo

import (
	"math"
	"testing"
	"time"
)

func near(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestDMToDecimal(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{4807.038, 48.1173},
		{1131.000, 11.516667},
		{12000.5, 120.008333},
		{-4807.038, -48.1173},
		{0, 0},
	}
	for _, c := range cases {
		if got := DMToDecimal(c.in); !near(got, c.want, 1e-4) {
			t.Errorf("DMToDecimal(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestValidPoint(t *testing.T) {
	cases := []struct {
		lat, lon float64
		want     bool
	}{
		{48.1, 11.5, true},
		{0, 0, false},
		{0, 11.5, true},
		{90.1, 0, false},
		{-90, 180, true},
		{10, -180.5, false},
		{math.NaN(), 1, false},
	}
	for _, c := range cases {
		if got := ValidPoint(c.lat, c.lon); got != c.want {
			t.Errorf("ValidPoint(%v, %v) = %v, want %v", c.lat, c.lon, got, c.want)
		}
	}
}

func TestHaversine(t *testing.T) {
	if d := Haversine(48.1, 11.5, 48.1, 11.5); d != 0 {
		t.Errorf("same point distance = %v", d)
	}
	// one degree of latitude is ~111.19 km on a 6371 km sphere
	if d := Haversine(0, 0, 1, 0); !near(d, 111.195, 0.01) {
		t.Errorf("1 degree latitude = %v", d)
	}
	if a, b := Haversine(10, 20, 11, 21), Haversine(11, 21, 10, 20); !near(a, b, 1e-9) {
		t.Errorf("not symmetric: %v vs %v", a, b)
	}
}

func TestMinutes(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if m := Minutes(t0, t0.Add(90*time.Second)); m != 1.5 {
		t.Errorf("Minutes = %v", m)
	}
	if m := Minutes(t0.Add(time.Minute), t0); m != -1 {
		t.Errorf("Minutes = %v", m)
	}
}
