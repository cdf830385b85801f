package trip

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/store/impl/memstore"
)

var t0 = time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)

func pt(min float64, lat, lon, speed float64) fix.Fix {
	return fix.Fix{
		DeviceID:  "DEV42",
		Timestamp: t0.Add(time.Duration(min * float64(time.Minute))),
		Latitude:  lat,
		Longitude: lon,
		SpeedKmh:  speed,
		Valid:     true,
	}
}

func near(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// three stationary points over 15 minutes, then moving again
func stopFixture() []fix.Fix {
	return []fix.Fix{
		pt(0, 48.1, 11.5, 0),
		pt(7.5, 48.1, 11.5, 0),
		pt(15, 48.1, 11.5, 0),
		pt(20, 48.11, 11.5, 30),
	}
}

func TestComputeStatisticsEmpty(t *testing.T) {
	st := ComputeStatistics(nil, DefaultMinStop)
	if st.TotalPoints != 0 || st.TotalDistanceKm != 0 || st.AverageSpeedKmh != 0 ||
		st.MaxSpeedKmh != 0 || st.MovingMinutes != 0 || st.StoppedMinutes != 0 ||
		len(st.SpeedSeries) != 0 || len(st.Stops) != 0 {
		t.Errorf("empty input gave %+v", st)
	}
}

func TestComputeStatisticsSinglePoint(t *testing.T) {
	st := ComputeStatistics([]fix.Fix{pt(0, 48.1, 11.5, 12)}, DefaultMinStop)
	if st.TotalPoints != 1 || st.TotalDistanceKm != 0 {
		t.Errorf("single point gave %+v", st)
	}
	if st.AverageSpeedKmh != 12 || st.MaxSpeedKmh != 12 {
		t.Errorf("speed aggregates %+v", st)
	}
}

func TestComputeStatistics(t *testing.T) {
	st := ComputeStatistics(stopFixture(), 10)
	if st.TotalPoints != 4 {
		t.Errorf("points = %d", st.TotalPoints)
	}
	// 0.01 degree of latitude
	if !near(st.TotalDistanceKm, 1.11195, 1e-3) {
		t.Errorf("distance = %v", st.TotalDistanceKm)
	}
	if st.AverageSpeedKmh != 7.5 || st.MaxSpeedKmh != 30 {
		t.Errorf("speed avg=%v max=%v", st.AverageSpeedKmh, st.MaxSpeedKmh)
	}
	if !near(st.MovingMinutes, 5, 1e-9) || !near(st.StoppedMinutes, 15, 1e-9) {
		t.Errorf("moving=%v stopped=%v", st.MovingMinutes, st.StoppedMinutes)
	}
	if len(st.SpeedSeries) != 4 || st.SpeedSeries[3].Speed != 30 {
		t.Errorf("speed series %+v", st.SpeedSeries)
	}
	if len(st.Stops) != 1 {
		t.Errorf("stops = %+v", st.Stops)
	}
}

func TestSpeedAggregatesSkipNegative(t *testing.T) {
	st := ComputeStatistics([]fix.Fix{pt(0, 1, 1, -1), pt(1, 1, 1, 10)}, DefaultMinStop)
	if st.AverageSpeedKmh != 10 || st.MaxSpeedKmh != 10 {
		t.Errorf("avg=%v max=%v", st.AverageSpeedKmh, st.MaxSpeedKmh)
	}
}

func TestTimeIgnoresLongGaps(t *testing.T) {
	st := ComputeStatistics([]fix.Fix{pt(0, 1, 1, 50), pt(61, 1, 1, 50)}, DefaultMinStop)
	if st.MovingMinutes != 0 || st.StoppedMinutes != 0 {
		t.Errorf("moving=%v stopped=%v", st.MovingMinutes, st.StoppedMinutes)
	}
	st = ComputeStatistics([]fix.Fix{pt(0, 1, 1, 50), pt(60, 1, 1, 50)}, DefaultMinStop)
	if st.MovingMinutes != 60 {
		t.Errorf("60 minute pair moving=%v", st.MovingMinutes)
	}
}

func TestDistanceSkipsJumpsAndInvalid(t *testing.T) {
	points := []fix.Fix{
		pt(0, 48.10, 11.5, 40),
		pt(1, 48.11, 11.5, 40),
		pt(2, 49.50, 11.5, 40), // >10 km jump
		pt(3, 49.51, 11.5, 40),
		pt(4, 0, 0, 40), // null island
		pt(5, 49.52, 11.5, 40),
	}
	want := 2 * geoKm(0.01)
	got := TotalDistance(points)
	if !near(got, want, 1e-3) {
		t.Errorf("distance = %v, want %v", got, want)
	}
	if again := TotalDistance(points); again != got {
		t.Errorf("not idempotent: %v then %v", got, again)
	}
}

func TestDetectStopsSkipsInvalid(t *testing.T) {
	points := []fix.Fix{
		pt(0, 0, 0, 0),
		pt(10, 0, 0, 0),
		pt(20, 95, 200, 0),
		pt(30, 48.1, 11.5, 40),
	}
	if stops := DetectStops(points, 5); len(stops) != 0 {
		t.Errorf("invalid points gave stops %+v", stops)
	}

	// an invalid point inside a stop neither extends nor closes it
	points = []fix.Fix{
		pt(0, 48.1, 11.5, 0),
		pt(5, 0, 0, 50),
		pt(8, 48.1, 11.5, 0),
		pt(30, 95, 200, 0),
		pt(31, 48.2, 11.5, 40),
	}
	stops := DetectStops(points, 5)
	if len(stops) != 1 || stops[0].Duration != 8 || !stops[0].EndTime.Equal(t0.Add(8*time.Minute)) {
		t.Errorf("stops = %+v", stops)
	}
}

func TestDetectStopsMinimum(t *testing.T) {
	points := []fix.Fix{
		pt(0, 48.1, 11.5, 0),
		pt(1, 48.1, 11.5, 0),
		pt(2, 48.2, 11.5, 40),
	}
	if n := len(DetectStops(points, 0)); n != 1 {
		t.Errorf("zero minimum gave %d stops", n)
	}
	if n := len(DetectStops(points, -1)); n != 0 {
		t.Errorf("default minimum gave %d stops", n)
	}
}

func geoKm(dlat float64) float64 {
	return 6371 * dlat * math.Pi / 180
}

func TestDetectStopsThreshold(t *testing.T) {
	stops := DetectStops(stopFixture(), 10)
	if len(stops) != 1 {
		t.Fatalf("min 10 gave %d stops", len(stops))
	}
	s := stops[0]
	if s.Duration < 15 || !s.StartTime.Equal(t0) || !s.EndTime.Equal(t0.Add(15*time.Minute)) {
		t.Errorf("stop = %+v", s)
	}
	if s.Latitude != 48.1 || s.Longitude != 11.5 {
		t.Errorf("stop position = %v,%v", s.Latitude, s.Longitude)
	}
	if n := len(DetectStops(stopFixture(), 18)); n != 0 {
		t.Errorf("min 18 gave %d stops", n)
	}
}

func TestDetectStopsOpenAtEnd(t *testing.T) {
	points := []fix.Fix{pt(0, 1, 1, 20), pt(1, 1, 1, 0), pt(11, 1, 1, 4.9)}
	stops := DetectStops(points, 0)
	if len(stops) != 1 || stops[0].Duration != 10 {
		t.Errorf("stops = %+v", stops)
	}
	if n := len(DetectStops(points, 11)); n != 0 {
		t.Errorf("min 11 gave %d", n)
	}
}

func TestDetectStopsUnordered(t *testing.T) {
	f := stopFixture()
	shuffled := []fix.Fix{f[2], f[0], f[3], f[1]}
	if n := len(DetectStops(shuffled, 10)); n != 1 {
		t.Errorf("unordered input gave %d stops", n)
	}
	if !shuffled[0].Timestamp.Equal(f[2].Timestamp) {
		t.Error("input slice was reordered")
	}
}

func TestExportCSV(t *testing.T) {
	v := fix.Vehicle{Name: "Truck 1", DeviceID: "DEV42"}
	points := []fix.Fix{
		{Timestamp: t0.Add(90 * time.Second), Latitude: -33.86882, Longitude: 151.209296},
		{Timestamp: t0, Latitude: 48.1173, Longitude: 11.516667, SpeedKmh: 41.4848, CourseDeg: 84.4, Satellites: 8},
	}
	want := "Vehicle Name,Device ID,Timestamp,Latitude,Longitude,Speed (km/h),Course,Satellites\n" +
		`"Truck 1","DEV42","2024-03-05 08:00:00",48.117300,11.516667,41.5,84.4,8` + "\n" +
		`"Truck 1","DEV42","2024-03-05 08:01:30",-33.868820,151.209296,0.0,0.0,0` + "\n"
	var buf bytes.Buffer
	if err := ExportCSV(&buf, v, points); err != nil {
		t.Fatal(err)
	}
	if buf.String() != want {
		t.Errorf("csv =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestExportCSVQuotes(t *testing.T) {
	var buf bytes.Buffer
	_ = ExportCSV(&buf, fix.Vehicle{Name: `Big "Red"`, DeviceID: "D"}, []fix.Fix{pt(0, 1, 1, 1)})
	if !bytes.Contains(buf.Bytes(), []byte(`"Big ""Red"""`)) {
		t.Errorf("quote not escaped: %s", buf.String())
	}
}

func TestExportCSVNonFinite(t *testing.T) {
	p := pt(0, 1, 1, math.Inf(1))
	p.CourseDeg = math.NaN()
	var buf bytes.Buffer
	if err := ExportCSV(&buf, fix.Vehicle{Name: "Van", DeviceID: "D"}, []fix.Fix{p}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), ",0.0,0.0,") || strings.Contains(buf.String(), "Inf") {
		t.Errorf("csv = %s", buf.String())
	}
}

func TestExportFormats(t *testing.T) {
	v := fix.Vehicle{Name: "Van", DeviceID: "D"}
	if _, err := Export("CSV", v, nil); err != nil {
		t.Errorf("CSV: %v", err)
	}
	_, err := Export("xlsx", v, nil)
	if !errors.Is(err, ErrUnsupportedExportFormat) {
		t.Errorf("xlsx err = %v", err)
	}
	if errors.Is(err, ErrEntityNotFound) {
		t.Error("format error must not look like not-found")
	}
}

func TestFilename(t *testing.T) {
	from := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 9, 23, 59, 0, 0, time.UTC)
	if got := Filename("Truck Number 1", from, to); got != "Truck_Number_1_History_20240102_20240109.csv" {
		t.Errorf("Filename = %q", got)
	}
}

func TestService(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New(0)
	v := &fix.Vehicle{DeviceID: "DEV42", Name: "Truck 1", Active: true}
	if err := mem.CreateVehicle(ctx, v); err != nil {
		t.Fatal(err)
	}
	_ = mem.SaveBatch(ctx, stopFixture())
	_ = mem.Save(ctx, fix.Fix{DeviceID: "OTHER", Timestamp: t0, Latitude: 1, Longitude: 1})
	svc := NewService(mem, mem)
	from, to := t0, t0.Add(time.Hour)

	st, err := svc.Statistics(ctx, v.ID, from, to, 10)
	if err != nil || st.TotalPoints != 4 || len(st.Stops) != 1 {
		t.Errorf("Statistics = %+v, %v", st, err)
	}
	stops, err := svc.Stops(ctx, v.ID, from, to, 18)
	if err != nil || len(stops) != 0 {
		t.Errorf("Stops = %+v, %v", stops, err)
	}
	name, data, err := svc.Export(ctx, v.ID, from, to, "csv")
	if err != nil {
		t.Fatal(err)
	}
	if name != "Truck_1_History_20240305_20240305.csv" {
		t.Errorf("filename = %q", name)
	}
	if n := bytes.Count(data, []byte("\n")); n != 5 {
		t.Errorf("csv lines = %d", n)
	}

	if _, err := svc.Statistics(ctx, 999, from, to, 0); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("unknown vehicle err = %v", err)
	}
	if _, _, err := svc.Export(ctx, 999, from, to, "pdf"); !errors.Is(err, ErrUnsupportedExportFormat) {
		t.Errorf("format checked after lookup: %v", err)
	}
	if _, _, err := svc.Export(ctx, 999, from, to, "csv"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("unknown vehicle export err = %v", err)
	}
}
