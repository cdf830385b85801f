// Command fixwatch prints live fixes, either from the NATS stream or from
// the websocket endpoint of a running server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/publish/natspub"
)

var (
	natsURL = flag.String("nats", "", "nats url, e.g. nats://localhost:4222")
	wsURL   = flag.String("ws", "ws://localhost:3333/ws", "websocket url, used when -nats is empty")
	devices = flag.String("devices", "*", "comma separated device ids for the websocket subscription")
	slow    = flag.Bool("slow", false, "ask for throttled updates")
)

func main() {
	flag.Parse()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()
	var err error
	if *natsURL != "" {
		err = watchNATS(ctx)
	} else {
		err = watchWS(ctx)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("watch failed")
	}
}

func printFix(f fix.Fix) {
	log.Info().EmbedObject(f).Msg("")
}

func watchNATS(ctx context.Context) error {
	p, err := natspub.New(&natspub.Config{URL: *natsURL})
	if err != nil {
		return err
	}
	defer p.Close()
	sub, err := p.Subscribe(printFix)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	<-ctx.Done()
	return nil
}

func watchWS(ctx context.Context) error {
	c, _, err := websocket.Dial(ctx, *wsURL, nil)
	if err != nil {
		return err
	}
	defer c.Close(websocket.StatusNormalClosure, "")
	cmd := "ADDSUB "
	if *slow {
		cmd = "ADDSLOW "
	}
	if err := c.Write(ctx, websocket.MessageText, []byte(cmd+strings.TrimSpace(*devices))); err != nil {
		return err
	}
	for {
		_, d, err := c.Read(ctx)
		if err != nil {
			return err
		}
		log.Info().RawJSON("fix", d).Msg("")
	}
}
