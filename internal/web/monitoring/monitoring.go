package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/tcpgps/internal/gps/server"
	"nuha.dev/tcpgps/internal/gps/stat"
	"nuha.dev/tcpgps/internal/gps/writer"
	"nuha.dev/tcpgps/internal/util"
)

// Tracker is the view of the tcp server the monitor reports on.
type Tracker interface {
	Stats() server.Stats
	Sessions() []server.SessionInfo
	Stat() *stat.Stat
}

type Queue interface {
	Stats() writer.Stats
}

type MonitoringServer struct {
	tracker Tracker
	queue   Queue
	server  *http.Server
	log     zerolog.Logger
}

type MonitoringConfig struct {
	ListenAddr string
}

type Status struct {
	Time       time.Time            `json:"time"`
	Server     server.Stats         `json:"server"`
	Writer     *writer.Stats        `json:"writer,omitempty"`
	Sessions   []server.SessionInfo `json:"sessions"`
	Messages   []stat.Bucket        `json:"messages_per_bucket"`
	Connects   []time.Time          `json:"recent_connects"`
	Disconnect []time.Time          `json:"recent_disconnects"`
}

// NewMonApi builds the monitor. queue may be nil.
func NewMonApi(tracker Tracker, queue Queue, config *MonitoringConfig) *MonitoringServer {
	m := &MonitoringServer{tracker: tracker, queue: queue}
	m.log = log.With().Str("module", "monitoring").Logger()
	m.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        http.HandlerFunc(m.serveHTTP),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return m
}

// Run serves the monitor on its own address until ctx is cancelled.
func (m *MonitoringServer) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- m.server.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.server.Shutdown(sctx)
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *MonitoringServer) Status() Status {
	st := Status{
		Time:     time.Now().UTC(),
		Server:   m.tracker.Stats(),
		Sessions: m.tracker.Sessions(),
	}
	if s := m.tracker.Stat(); s != nil {
		st.Messages = s.Buckets()
		st.Connects = s.RecentConnects()
		st.Disconnect = s.RecentDisconnects()
	}
	if m.queue != nil {
		ws := m.queue.Stats()
		st.Writer = &ws
	}
	return st
}

func (m *MonitoringServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if err := util.JsonWrite(w, http.StatusOK, m.Status()); err != nil {
		m.log.Error().Err(err).Msg("error writing status")
	}
}

func (m *MonitoringServer) GetHandler() http.Handler {
	return http.HandlerFunc(m.serveHTTP)
}
