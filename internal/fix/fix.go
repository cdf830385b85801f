package fix

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/phuslu/log"
)

// MaxRawLength bounds the raw message kept on a Fix.
const MaxRawLength = 512

// Fix is one decoded location report. It is built once by the decoder and
// treated as immutable afterwards.
type Fix struct {
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	SpeedKmh   float64   `json:"speed_kmh"`
	CourseDeg  float64   `json:"course_deg"`
	Satellites int       `json:"satellites"`
	Valid      bool      `json:"valid"`
	RawMessage string    `json:"raw_message"`
	ReceivedAt time.Time `json:"received_at"`
}

func (f Fix) MarshalObject(e *log.Entry) {
	e.Str("device_id", f.DeviceID).
		Bool("valid", f.Valid).
		Float64("lat", f.Latitude).
		Float64("lon", f.Longitude).
		Float64("speed", f.SpeedKmh).
		Time("gps_time", f.Timestamp)
}

var nulReplacer = strings.NewReplacer("\x00", "?")

// CleanText replaces invalid UTF-8 and NUL bytes with '?', so the result
// fits a Postgres text column.
func CleanText(s string) string {
	return nulReplacer.Replace(strings.ToValidUTF8(s, "?"))
}

// TruncateRaw cleans s and cuts it to at most MaxRawLength bytes on a rune
// boundary.
func TruncateRaw(s string) string {
	s = CleanText(s)
	if len(s) <= MaxRawLength {
		return s
	}
	n := MaxRawLength
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Vehicle binds a tracker device id to a named vehicle.
type Vehicle struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"device_id" validate:"required,max=50"`
	Name         string    `json:"name" validate:"required,max=100"`
	LicensePlate string    `json:"license_plate" validate:"max=20"`
	DriverName   string    `json:"driver_name" validate:"max=100"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}
