package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mustafaturan/bus/v3"
	"github.com/phuslu/log"
	"github.com/rs/zerolog"

	"nuha.dev/tcpgps/internal/config"
	"nuha.dev/tcpgps/internal/event"
	"nuha.dev/tcpgps/internal/gps/conn"
	"nuha.dev/tcpgps/internal/gps/decoder"
	"nuha.dev/tcpgps/internal/gps/server"
	"nuha.dev/tcpgps/internal/gps/sublist"
	"nuha.dev/tcpgps/internal/gps/writer"
	"nuha.dev/tcpgps/internal/publish"
	"nuha.dev/tcpgps/internal/publish/mqttpub"
	"nuha.dev/tcpgps/internal/publish/natspub"
	"nuha.dev/tcpgps/internal/store"
	"nuha.dev/tcpgps/internal/store/cache"
	"nuha.dev/tcpgps/internal/store/impl/logstore"
	"nuha.dev/tcpgps/internal/store/impl/memstore"
	"nuha.dev/tcpgps/internal/store/impl/mongostore"
	"nuha.dev/tcpgps/internal/store/impl/pgstore"
	"nuha.dev/tcpgps/internal/tunnel"
	"nuha.dev/tcpgps/internal/web"
	"nuha.dev/tcpgps/internal/web/monitoring"
	"nuha.dev/tcpgps/internal/web/webstream"
)

var configFile = flag.String("config", "", "config file (yaml, json or toml)")

func main() {
	flag.Parse()
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	log.DefaultLogger.Level = log.ParseLevel(cfg.LogLevel)
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	base, err := openStore(ctx, &cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("unable to open store")
	}
	defer base.Close()

	var fixes store.FixStore = base
	if cfg.Store.Audit {
		fixes = logstore.NewStore(fixes)
	}
	if cfg.Redis.URL != "" {
		c, err := cache.New(cfg.Redis.URL, cfg.Redis.TTL)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to connect to redis")
		}
		defer c.Close()
		fixes = cache.Wrap(fixes, c)
	}

	pubs := openPublishers(cfg)
	defer func() {
		for _, p := range pubs {
			p.Close()
		}
	}()

	hub := sublist.NewHub()
	w := writer.New(&writer.Config{
		QueueSize:     cfg.Writer.QueueSize,
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval,
		SubmitTimeout: cfg.Writer.SubmitTimeout,
	}, fixes, hub, pubs...)
	w.Start()

	events, err := event.New(uint64(cfg.Node))
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create event bus")
	}
	events.Subscribe("rejections", "^"+event.FixRejected+"$", func(ctx context.Context, e bus.Event) {
		if r, ok := e.Data.(event.Rejection); ok {
			log.Debug().Str("event_id", e.ID).Str("endpoint", r.Endpoint).Str("raw", r.Raw).Msg("message rejected")
		}
	})

	srv := server.NewServer(&server.ServerConfig{
		ListenerAddr:  cfg.GPS.Addr,
		ProxyProtocol: cfg.GPS.ProxyProtocol,
		AcceptBackoff: cfg.GPS.AcceptBackoff,
		Conn: conn.Config{
			MaxFrame:     cfg.GPS.MaxFrame,
			FlushDelay:   cfg.GPS.FlushDelay,
			IdleTimeout:  cfg.GPS.IdleTimeout,
			WriteTimeout: cfg.GPS.WriteTimeout,
		},
	}, decoder.New(&decoder.Config{MinCustomTokens: cfg.GPS.MinCustomTokens}), w, events)

	var wg sync.WaitGroup
	if err := srv.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("unable to start gps server")
	}
	if cfg.Tunnel.RelayAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tunnel.Run(ctx, &tunnel.Config{RelayAddr: cfg.Tunnel.RelayAddr, Token: cfg.Tunnel.Token},
				func(ctx context.Context, ln net.Listener) error { return srv.Serve(ctx, ln) })
			if err != nil {
				log.Error().Err(err).Msg("tunnel stopped")
			}
		}()
	}

	mon := monitoring.NewMonApi(srv, w, &monitoring.MonitoringConfig{})
	stream := webstream.NewWebstream(hub, webstream.WebStreamConfig{})
	api, err := web.NewApi(&web.ApiConfig{
		ListenAddr:     cfg.API.Addr,
		HashSalt:       cfg.API.HashSalt,
		AllowedOrigins: cfg.API.AllowedOrigins,
	}, web.Backend{
		Fixes:    fixes,
		Vehicles: base,
		Monitor:  mon.GetHandler(),
		Stream:   stream,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create api")
	}
	if cfg.API.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.Run(ctx); err != nil {
				log.Error().Err(err).Msg("api server stopped")
				cancel()
			}
		}()
	}

	<-ctx.Done()
	srv.Stop()
	wg.Wait()
	w.Close()
	log.Info().Interface("writer", w.Stats()).Interface("server", srv.Stats()).Msg("stopped")
}

func openStore(ctx context.Context, c *config.Store) (store.Store, error) {
	switch c.Driver {
	case config.DriverPostgres:
		st, err := pgstore.Connect(ctx, c.PostgresURL)
		if err != nil {
			return nil, err
		}
		if c.Migrate {
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, err
			}
		}
		return st, nil
	case config.DriverMongo:
		st, err := mongostore.Connect(ctx, c.MongoURI, c.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureIndexes(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	default:
		return memstore.New(c.MemoryLimit), nil
	}
}

// openPublishers connects the configured brokers. A broker that cannot be
// reached is logged and skipped.
func openPublishers(cfg *config.Config) []publish.Publisher {
	var pubs []publish.Publisher
	if cfg.NATS.URL != "" {
		p, err := natspub.New(&natspub.Config{URL: cfg.NATS.URL, Stream: cfg.NATS.Stream, SubjectPrefix: cfg.NATS.SubjectPrefix})
		if err != nil {
			log.Error().Err(err).Msg("unable to connect to nats")
		} else {
			pubs = append(pubs, p)
		}
	}
	if cfg.MQTT.Broker != "" {
		p, err := mqttpub.New(&mqttpub.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Retain:      cfg.MQTT.Retain,
		})
		if err != nil {
			log.Error().Err(err).Msg("unable to connect to mqtt")
		} else {
			pubs = append(pubs, p)
		}
	}
	return pubs
}
