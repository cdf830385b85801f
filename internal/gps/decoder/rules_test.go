package decoder

import (
	"testing"

	"nuha.dev/tcpgps/internal/fix"
)

func TestMatchRule(t *testing.T) {
	cases := []struct {
		tok  string
		want string
	}{
		{"SPD:45", "speed"},
		{"CRS:90", "course"},
		{"4807.038N", "latitude"},
		{"3355.1S", "latitude"},
		{"01131.000E", "longitude"},
		{"15112.5W", "longitude"},
		{"extra", ""},
		{"12345", ""},
		// known false classification: any token with an N/S/E/W letter
		{"STATUS", "latitude"},
		{"EVENT", "latitude"},
		{"WE", "longitude"},
	}
	for _, c := range cases {
		r := MatchRule(CustomRules, c.tok)
		got := ""
		if r != nil {
			got = r.Name
		}
		if got != c.want {
			t.Errorf("MatchRule(%q) = %q, want %q", c.tok, got, c.want)
		}
	}
}

func TestParseCoordinate(t *testing.T) {
	cases := []struct {
		tok  string
		want float64
		ok   bool
	}{
		{"4807.038N", 48.1173, true},
		{"4807.038S", -48.1173, true},
		{"45.5N", 45.5, true},
		{"120.25W", -120.25, true},
		{"STATUS", 0, false},
		{"N", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseCoordinate(c.tok)
		if ok != c.ok || !near(got, c.want, 1e-4) {
			t.Errorf("ParseCoordinate(%q) = %v,%v want %v,%v", c.tok, got, ok, c.want, c.ok)
		}
	}
}

func TestMisclassifiedTokenLeavesFix(t *testing.T) {
	f := fix.Fix{Latitude: 10}
	applyRules(CustomRules, "STATUS", &f)
	if f.Latitude != 10 {
		t.Errorf("latitude overwritten: %v", f.Latitude)
	}
}
