// Package decoder turns raw tracker messages into fixes. Two formats are
// understood: NMEA $GPRMC sentences and the vendor "$$" token format.
// Decode never fails; anything it cannot use comes back as an invalid Fix.
package decoder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/geo"
)

const (
	KnotsToKmh = 1.852

	// DefaultMinCustomTokens is the smallest "$$" message, in tokens, that
	// is considered complete.
	DefaultMinCustomTokens = 10

	gprmcTag   = "GPRMC"
	gpggaTag   = "GPGGA"
	customTag  = "$$"
	nmeaLayout = "020106 150405"
)

const (
	UNKNOWN_FORMAT string = "unknown_format"
	DECODE_PANIC   string = "decode_panic"
)

// Format is the wire format a message was classified as.
type Format int

const (
	FormatUnknown Format = iota
	FormatNMEA
	FormatCustom
)

func (f Format) String() string {
	switch f {
	case FormatNMEA:
		return "nmea"
	case FormatCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Plausible is the cheap guard run before decoding. Messages failing it are
// dropped without a Fix and without an ack. GPGGA passes here but has no
// parser, so it decodes as an unknown format.
func Plausible(msg string) bool {
	if msg == "" {
		return false
	}
	return strings.HasPrefix(msg, customTag) ||
		strings.Contains(msg, gprmcTag) ||
		strings.Contains(msg, gpggaTag)
}

// Classify picks the parse path. The first match wins.
func Classify(msg string) Format {
	switch {
	case strings.Contains(msg, gprmcTag):
		return FormatNMEA
	case strings.HasPrefix(msg, customTag):
		return FormatCustom
	default:
		return FormatUnknown
	}
}

type Config struct {
	MinCustomTokens int
}

type Decoder struct {
	log       log.Logger
	minTokens int
	rules     []Rule
}

func New(config *Config) *Decoder {
	d := &Decoder{}
	d.log = log.DefaultLogger
	d.log.Context = log.NewContext(nil).Str("module", "decoder").Value()
	d.minTokens = DefaultMinCustomTokens
	if config != nil && config.MinCustomTokens > 0 {
		d.minTokens = config.MinCustomTokens
	}
	d.rules = CustomRules
	return d
}

// SetLogger replaces the decoder logger, keeping the module context.
func (d *Decoder) SetLogger(l log.Logger) {
	l.Context = log.NewContext(nil).Str("module", "decoder").Value()
	d.log = l
}

var std = New(nil)

// Decode decodes msg with the default decoder, stamping it with the current
// time.
func Decode(msg, endpoint string) fix.Fix {
	return std.Decode(msg, endpoint, time.Now().UTC())
}

// Decode classifies and parses msg. endpoint is the remote address of the
// connection and only serves as a device id fallback.
func (d *Decoder) Decode(msg, endpoint string, receivedAt time.Time) (f fix.Fix) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("event", DECODE_PANIC).Str("endpoint", endpoint).Str("panic", fmt.Sprint(r)).Str("raw", fix.TruncateRaw(msg)).Msg("recovered while decoding")
			f = fix.Fix{
				DeviceID:   fallbackID(endpoint),
				RawMessage: fix.TruncateRaw(msg),
				ReceivedAt: receivedAt,
			}
		}
	}()

	f.RawMessage = fix.TruncateRaw(msg)
	f.ReceivedAt = receivedAt
	f.DeviceID = deviceID(msg, endpoint)

	switch Classify(msg) {
	case FormatNMEA:
		parseGPRMC(msg, &f)
	case FormatCustom:
		d.parseCustom(msg, &f)
	default:
		d.log.Warn().Str("event", UNKNOWN_FORMAT).Str("endpoint", endpoint).Str("raw", f.RawMessage).Msg("")
		f.Valid = false
	}
	return f
}

func fallbackID(endpoint string) string {
	return "Unknown_" + strings.ReplaceAll(endpoint, ":", "_")
}

// deviceID takes the first token of a "$$" message, falling back to the
// endpoint for everything else. Bytes that are not valid text become '?'.
func deviceID(msg, endpoint string) string {
	if strings.HasPrefix(msg, customTag) {
		body := strings.TrimLeft(msg, "$")
		if i := strings.IndexAny(body, ",;"); i >= 0 {
			body = body[:i]
		}
		if body != "" {
			return fix.CleanText(body)
		}
	}
	return fallbackID(endpoint)
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseGPRMC handles
// $GPRMC,hhmmss,A,DDMM.MMMM,N,DDDMM.MMMM,E,knots,course,ddmmyy,...
// Only the status field is fatal; other fields fall back to zero.
func parseGPRMC(msg string, f *fix.Fix) {
	parts := strings.Split(msg, ",")
	if len(parts) < 12 || parts[2] != "A" {
		f.Valid = false
		return
	}

	if ts, err := time.ParseInLocation(nmeaLayout, parts[9]+" "+parts[1], time.UTC); err == nil {
		f.Timestamp = ts
	}
	if lat, ok := parseFloat(parts[3]); ok {
		f.Latitude = geo.DMToDecimal(lat)
		if parts[4] == "S" {
			f.Latitude = -f.Latitude
		}
	}
	if lon, ok := parseFloat(parts[5]); ok {
		f.Longitude = geo.DMToDecimal(lon)
		if parts[6] == "W" {
			f.Longitude = -f.Longitude
		}
	}
	if knots, ok := parseFloat(parts[7]); ok {
		f.SpeedKmh = knots * KnotsToKmh
	}
	if course, ok := parseFloat(parts[8]); ok {
		f.CourseDeg = course
	}
	f.Valid = true
}

func splitCustom(msg string) []string {
	body := strings.TrimLeft(msg, "$")
	return strings.FieldsFunc(body, func(r rune) bool {
		return r == ',' || r == ';'
	})
}

func (d *Decoder) parseCustom(msg string, f *fix.Fix) {
	tokens := splitCustom(msg)
	if len(tokens) < d.minTokens {
		f.Valid = false
		return
	}
	f.DeviceID = tokens[0]
	for _, tok := range tokens[1:] {
		applyRules(d.rules, tok, f)
	}
	f.Timestamp = f.ReceivedAt
	f.Valid = f.Latitude != 0 && f.Longitude != 0
}
