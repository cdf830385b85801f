// Package web serves the query API over stored fixes, vehicles and trip
// statistics, plus the monitor and live stream endpoints.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/tcpgps/internal/store"
	"nuha.dev/tcpgps/internal/trip"
	"nuha.dev/tcpgps/internal/util"
)

type ApiConfig struct {
	ListenAddr     string
	HashSalt       string
	AllowedOrigins []string
}

// Backend holds what the handlers read from. Monitor and Stream are
// optional.
type Backend struct {
	Fixes    store.FixStore
	Vehicles store.VehicleStore
	Monitor  http.Handler
	Stream   http.Handler
}

type Api struct {
	r        chi.Router
	s        *http.Server
	config   *ApiConfig
	log      zerolog.Logger
	fixes    store.FixStore
	vehicles store.VehicleStore
	trips    *trip.Service
	ids      *idCodec
	validate *validator.Validate
}

func NewApi(config *ApiConfig, b Backend) (*Api, error) {
	api := &Api{config: config}
	api.log = log.With().Str("module", "api").Logger()
	ids, err := newIDCodec(config.HashSalt)
	if err != nil {
		return nil, err
	}
	api.ids = ids
	api.fixes = b.Fixes
	api.vehicles = b.Vehicles
	api.trips = trip.NewService(b.Vehicles, b.Fixes)
	api.validate = validator.New()

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(api.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/gps", func(r chi.Router) {
		r.Get("/latest", api.latestFixes)
		r.Get("/device/{deviceID}", api.deviceHistory)
		r.Get("/device/{deviceID}/latest", api.deviceLatest)
	})
	r.Route("/api/vehicles", func(r chi.Router) {
		r.Get("/", api.listVehicles)
		r.Post("/", api.createVehicle)
		r.Route("/{vid}", func(r chi.Router) {
			r.Get("/", api.getVehicle)
			r.Put("/", api.updateVehicle)
			r.Delete("/", api.deleteVehicle)
			r.Get("/statistics", api.vehicleStatistics)
			r.Get("/stops", api.vehicleStops)
			r.Get("/export", api.vehicleExport)
		})
	})
	if b.Monitor != nil {
		r.Method(http.MethodGet, "/api/monitor", b.Monitor)
	}
	if b.Stream != nil {
		r.Method(http.MethodGet, "/ws", b.Stream)
	}

	api.r = r
	api.s = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api, nil
}

func (api *Api) Handler() http.Handler {
	return api.r
}

// Run serves until ctx is cancelled.
func (api *Api) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		api.log.Info().Str("addr", api.config.ListenAddr).Msg("starting api server")
		errc <- api.s.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.s.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (api *Api) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = util.GenUUID()
		}
		w.Header().Set("X-Request-Id", rid)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		t0 := time.Now()
		next.ServeHTTP(ww, r)
		api.log.Info().
			Str("req_id", rid).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("size", ww.BytesWritten()).
			Dur("took", time.Since(t0)).
			Msg("request")
	})
}

// fail maps domain errors to status codes.
func (api *Api) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, trip.ErrEntityNotFound):
		util.JsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		util.JsonError(w, http.StatusConflict, err.Error())
	case errors.Is(err, trip.ErrUnsupportedExportFormat):
		util.JsonError(w, http.StatusBadRequest, err.Error())
	default:
		api.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		util.JsonError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func (api *Api) writeJson(w http.ResponseWriter, status int, v interface{}) {
	if err := util.JsonWrite(w, status, v); err != nil {
		api.log.Error().Err(err).Msg("error writing response")
	}
}
