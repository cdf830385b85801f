package main

import (
	"context"
	"flag"

	"github.com/phuslu/log"

	"nuha.dev/tcpgps/internal/config"
	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/store"
	"nuha.dev/tcpgps/internal/store/impl/pgstore"
)

var (
	configFile = flag.String("config", "", "config file")
	dsn        = flag.String("db", "", "postgres url, overrides store.postgres_url")
	device     = flag.String("device", "", "register a vehicle for this device id")
	name       = flag.String("name", "", "vehicle name")
	plate      = flag.String("plate", "", "license plate")
)

func main() {
	flag.Parse()
	url := *dsn
	if url == "" {
		cfg, err := config.Load(*configFile)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to load config")
		}
		url = cfg.Store.PostgresURL
	}
	if url == "" {
		log.Fatal().Msg("no postgres url given")
	}
	ctx := context.Background()
	st, err := pgstore.Connect(ctx, url)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect")
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("schema ready")

	if *device == "" {
		return
	}
	v := fix.Vehicle{DeviceID: *device, Name: *name, LicensePlate: *plate, Active: true}
	if v.Name == "" {
		v.Name = *device
	}
	err = st.CreateVehicle(ctx, &v)
	switch {
	case err == store.ErrDuplicate:
		log.Warn().Str("device_id", v.DeviceID).Msg("vehicle already registered")
	case err != nil:
		log.Fatal().Err(err).Msg("unable to create vehicle")
	default:
		log.Info().Int64("id", v.ID).Str("device_id", v.DeviceID).Msg("vehicle created")
	}
}
