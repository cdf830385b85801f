package trip

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"nuha.dev/tcpgps/internal/fix"
)

const (
	FormatCSV = "csv"

	CSVHeader       = "Vehicle Name,Device ID,Timestamp,Latitude,Longitude,Speed (km/h),Course,Satellites"
	csvTimestamp    = "2006-01-02 15:04:05"
	filenameDateFmt = "20060102"
)

var (
	ErrUnsupportedExportFormat = errors.New("unsupported export format")
	ErrEntityNotFound          = errors.New("entity not found")
)

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ExportCSV writes the header and one row per point in timestamp order.
// The text columns are always quoted.
func ExportCSV(w io.Writer, vehicle fix.Vehicle, points []fix.Fix) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(CSVHeader + "\n"); err != nil {
		return err
	}
	name, dev := quote(vehicle.Name), quote(vehicle.DeviceID)
	for _, p := range ordered(points) {
		_, err := fmt.Fprintf(bw, "%s,%s,%s,%.6f,%.6f,%.1f,%.1f,%d\n",
			name, dev, quote(p.Timestamp.UTC().Format(csvTimestamp)),
			p.Latitude, p.Longitude, finiteOrZero(p.SpeedKmh), finiteOrZero(p.CourseDeg), p.Satellites)
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Export renders points in format. Only "csv" (any case) is known.
func Export(format string, vehicle fix.Vehicle, points []fix.Fix) ([]byte, error) {
	if !SupportedFormat(format) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExportFormat, format)
	}
	var buf bytes.Buffer
	if err := ExportCSV(&buf, vehicle, points); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func SupportedFormat(format string) bool {
	return strings.EqualFold(format, FormatCSV)
}

// Filename builds "{Name}_History_{from}_{to}.csv" with spaces in the name
// replaced by underscores.
func Filename(vehicleName string, from, to time.Time) string {
	return strings.ReplaceAll(vehicleName, " ", "_") + "_History_" + from.Format(filenameDateFmt) + "_" + to.Format(filenameDateFmt) + "." + FormatCSV
}
