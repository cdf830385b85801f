package decoder

import (
	"math"
	"strings"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/geo"
)

// Rule classifies one "$$" token. Rules are evaluated in order and the
// first matching rule handles the token; tokens matching nothing are
// ignored.
type Rule struct {
	Name  string
	Match func(tok string) bool
	Apply func(tok string, f *fix.Fix)
}

// CustomRules is the token table for the "$$" format. The keyed SPD:/CRS:
// tokens come first because both contain an "S" and would otherwise be
// taken for a southern latitude.
//
// The direction heuristic looks for N/S/E/W anywhere in a token, so a
// token such as "STATUS" is still classified as a latitude candidate. It
// fails to parse and leaves the fix untouched.
var CustomRules = []Rule{
	{Name: "speed", Match: hasPrefix("SPD:"), Apply: keyedFloat("SPD:", func(f *fix.Fix, v float64) { f.SpeedKmh = v })},
	{Name: "course", Match: hasPrefix("CRS:"), Apply: keyedFloat("CRS:", func(f *fix.Fix, v float64) { f.CourseDeg = v })},
	{Name: "latitude", Match: containsAny("NS"), Apply: coordinate(func(f *fix.Fix, v float64) { f.Latitude = v })},
	{Name: "longitude", Match: containsAny("EW"), Apply: coordinate(func(f *fix.Fix, v float64) { f.Longitude = v })},
}

// MatchRule returns the rule that would handle tok, or nil.
func MatchRule(rules []Rule, tok string) *Rule {
	for i := range rules {
		if rules[i].Match(tok) {
			return &rules[i]
		}
	}
	return nil
}

func applyRules(rules []Rule, tok string, f *fix.Fix) {
	if r := MatchRule(rules, tok); r != nil {
		r.Apply(tok, f)
	}
}

func hasPrefix(p string) func(string) bool {
	return func(tok string) bool { return strings.HasPrefix(tok, p) }
}

func containsAny(chars string) func(string) bool {
	return func(tok string) bool { return strings.ContainsAny(tok, chars) }
}

func keyedFloat(prefix string, set func(*fix.Fix, float64)) func(string, *fix.Fix) {
	return func(tok string, f *fix.Fix) {
		if v, ok := parseFloat(strings.TrimPrefix(tok, prefix)); ok && finite(v) {
			set(f, v)
		}
	}
}

var directionStripper = strings.NewReplacer("N", "", "S", "", "E", "", "W", "")

// ParseCoordinate parses a direction-tagged coordinate token such as
// "4807.038N" or "01131.000W". Values above 180 are taken as degree-minutes.
func ParseCoordinate(tok string) (float64, bool) {
	v, ok := parseFloat(directionStripper.Replace(tok))
	if !ok || !finite(v) {
		return 0, false
	}
	if v > 180 {
		v = geo.DMToDecimal(v)
	}
	if strings.ContainsAny(tok, "SW") {
		v = -v
	}
	return v, true
}

func coordinate(set func(*fix.Fix, float64)) func(string, *fix.Fix) {
	return func(tok string, f *fix.Fix) {
		if v, ok := ParseCoordinate(tok); ok {
			set(f, v)
		}
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
