// Command fakedevice simulates trackers against an ingest server.
package main

import (
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/tcpgps/internal/device"
)

var (
	addr     = flag.String("addr", "localhost:8888", "ingest server address")
	count    = flag.Int("n", 1, "number of devices")
	interval = flag.Duration("interval", 5*time.Second, "time between reports")
	format   = flag.String("format", "custom", "message format: custom or nmea")
	lat      = flag.Float64("lat", -6.2088, "start latitude")
	lon      = flag.Float64("lon", 106.8456, "start longitude")
	reports  = flag.Int("reports", 0, "reports per device, 0 runs forever")
)

func main() {
	flag.Parse()
	log.DefaultLogger.Level = log.DebugLevel
	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run(fmt.Sprintf("SIM%03d", i+1), int64(i+1))
		}(i)
	}
	wg.Wait()
}

func run(id string, seed int64) {
	c, err := device.Dial(*addr, 0)
	if err != nil {
		log.Error().Err(err).Str("device", id).Msg("unable to connect")
		return
	}
	defer c.Close()
	w := device.NewWalker(*lat, *lon, seed)
	for n := 0; *reports == 0 || n < *reports; n++ {
		w.Step(*interval)
		var msg string
		if *format == "nmea" {
			msg = device.RMC(time.Now(), w.Lat, w.Lon, w.SpeedKmh, w.Course, true)
		} else {
			msg = device.Custom(id, w.Lat, w.Lon, w.SpeedKmh, w.Course)
		}
		if err := c.Send(msg); err != nil {
			log.Error().Err(err).Str("device", id).Msg("send failed")
			return
		}
		log.Info().Str("device", id).Float64("lat", w.Lat).Float64("lon", w.Lon).Float64("speed", w.SpeedKmh).Msg("report acked")
		time.Sleep(*interval)
	}
}
