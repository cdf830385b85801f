// Command tunnel is the public relay. Devices connect to -eaddr and are
// forwarded to the ingest server holding the tunnel on -taddr.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"

	"nuha.dev/tcpgps/internal/tunnel"
)

var (
	eaddr    = flag.String("eaddr", ":5555", "address for external connection")
	taddr    = flag.String("taddr", ":5556", "address for tunnel connection")
	secret   = flag.String("token", "token", "token for tunnel auth connection")
	certfile = flag.String("cert", "", "tls certificate file")
	keyfile  = flag.String("key", "", "tls key file")
)

func main() {
	flag.Parse()
	log.Info().Str("external", *eaddr).Str("tunnel", *taddr).Msg("starting relay")

	var ln net.Listener
	var err error
	if *certfile == "" && *keyfile == "" {
		log.Info().Msg("starting non-tls listener")
		ln, err = net.Listen("tcp", *taddr)
	} else {
		log.Info().Msg("starting tls listener")
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(*certfile, *keyfile)
		if err == nil {
			ln, err = tls.Listen("tcp", *taddr, &tls.Config{Certificates: []tls.Certificate{cert}})
		}
	}
	if err != nil {
		log.Fatal().Err(err).Msg("unable to listen")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()
	relay := tunnel.NewRelay(&tunnel.RelayConfig{ExternalAddr: *eaddr, Token: *secret})
	if err := relay.Serve(ctx, ln); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
}
