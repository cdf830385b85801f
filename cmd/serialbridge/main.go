// Command serialbridge forwards RMC sentences from a serial GPS receiver
// to an ingest server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	serial "github.com/jacobsa/go-serial/serial"
	"github.com/phuslu/log"

	"nuha.dev/tcpgps/internal/device"
)

var (
	addr = flag.String("addr", "localhost:8888", "ingest server address")
	port = flag.String("port", "/dev/serial0", "serial port")
	baud = flag.Uint("baud", 9600, "baud rate")
)

func main() {
	flag.Parse()
	opts := serial.OpenOptions{
		PortName:              *port,
		BaudRate:              *baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	p, err := serial.Open(opts)
	if err != nil {
		log.Fatal().Err(err).Str("port", *port).Msg("unable to open serial port")
	}
	defer p.Close()
	log.Info().Str("port", opts.PortName).Uint("baud", opts.BaudRate).Msg("serial port opened")

	c, err := device.Dial(*addr, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect")
	}
	defer c.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()
	go func() {
		<-ctx.Done()
		p.Close()
	}()
	st, err := device.Bridge(ctx, p, c)
	log.Info().Uint64("lines", st.Lines).Uint64("forwarded", st.Forwarded).Uint64("skipped", st.Skipped).Msg("bridge stopped")
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("bridge failed")
	}
}
