package decoder

import (
	"testing"

	nmea "github.com/adrianmo/go-nmea"
)

// The hand parser must agree with a full NMEA implementation on
// well-formed RMC sentences.
func TestAgreesWithNMEALibrary(t *testing.T) {
	sentences := []string{
		sampleRMC,
		"$GPRMC,081836,A,3751.65,S,14507.36,E,000.0,360.0,130998,011.3,E*62",
		"$GPRMC,225446,A,4916.45,N,12311.12,W,000.5,054.7,191194,020.3,E*68",
	}
	d := New(nil)
	for _, s := range sentences {
		parsed, err := nmea.Parse(s)
		if err != nil {
			t.Fatalf("nmea.Parse(%q): %v", s, err)
		}
		rmc, ok := parsed.(nmea.RMC)
		if !ok {
			t.Fatalf("unexpected sentence type %T", parsed)
		}
		f := d.Decode(s, "ep", recv)
		if !f.Valid {
			t.Errorf("%q decoded as invalid", s)
			continue
		}
		if !near(f.Latitude, rmc.Latitude, 1e-6) || !near(f.Longitude, rmc.Longitude, 1e-6) {
			t.Errorf("%q position %v,%v, library %v,%v", s, f.Latitude, f.Longitude, rmc.Latitude, rmc.Longitude)
		}
		if !near(f.SpeedKmh, rmc.Speed*KnotsToKmh, 1e-6) {
			t.Errorf("%q speed %v, library %v kn", s, f.SpeedKmh, rmc.Speed)
		}
		if !near(f.CourseDeg, rmc.Course, 1e-9) {
			t.Errorf("%q course %v, library %v", s, f.CourseDeg, rmc.Course)
		}
	}
}
