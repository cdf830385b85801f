// Package server accepts tracker connections, runs one Session per socket
// and keeps the live-session registry used for coordinated shutdown.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/gps/conn"
	"nuha.dev/tcpgps/internal/gps/decoder"
	"nuha.dev/tcpgps/internal/gps/stat"
)

const (
	NEW_CONNECTION    string = "new_connection"
	CONNECTION_CLOSED string = "connection_closed"
	ACCEPT_ERROR      string = "accept_error"
	MESSAGE_REJECTED  string = "message_rejected"
	FIX_DECODED       string = "fix_decoded"
	SINK_FULL         string = "sink_full"
	ACK_ERROR         string = "ack_error"
	READ_ERROR        string = "read_error"
	SERVER_STOPPED    string = "server_stopped"
)

const (
	DefaultAddr          = ":8888"
	DefaultAcceptBackoff = time.Second
)

var Ack = []byte("ACK\r\n")

var ErrServerStopped = errors.New("server stopped")

// Sink receives every decoded fix. Submit must not block for long; it
// reports false when the fix could not be queued.
type Sink interface {
	Submit(f fix.Fix) bool
}

type SinkFunc func(f fix.Fix) bool

func (fn SinkFunc) Submit(f fix.Fix) bool {
	return fn(f)
}

// Emitter publishes lifecycle events. *event.Bus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, topic string, data interface{})
}

type ServerConfig struct {
	ListenerAddr  string
	ProxyProtocol bool
	AcceptBackoff time.Duration
	Conn          conn.Config
}

type Server struct {
	mu          sync.Mutex
	log         log.Logger
	config      *ServerConfig
	cid_counter uint64
	decoder     *decoder.Decoder
	sink        Sink
	events      Emitter
	listeners   []net.Listener
	sessions    *sessionList
	stat        *stat.Stat
	counters    counters
	ctx         context.Context
	cancel      context.CancelFunc
	stopped     bool
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewServer(config *ServerConfig, dec *decoder.Decoder, sink Sink, events Emitter) *Server {
	s := &Server{}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "gps-server").Value()
	if config == nil {
		config = &ServerConfig{}
	}
	if config.ListenerAddr == "" {
		config.ListenerAddr = DefaultAddr
	}
	if config.AcceptBackoff <= 0 {
		config.AcceptBackoff = DefaultAcceptBackoff
	}
	s.config = config
	if dec == nil {
		dec = decoder.New(nil)
	}
	s.decoder = dec
	s.sink = sink
	s.events = events
	s.sessions = newSessionList()
	s.stat = stat.NewStat()
	return s
}

func (s *Server) SetLogger(l log.Logger) {
	l.Context = log.NewContext(nil).Str("module", "gps-server").Value()
	s.log = l
}

// Start binds the configured address and accepts in the background.
// Cancelling ctx stops the server.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info().Msgf("starting gps-server on %s", s.config.ListenerAddr)
	ln, err := net.Listen("tcp", s.config.ListenerAddr)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to listen")
		return err
	}
	if s.config.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	return s.Serve(ctx, ln)
}

// Run starts the server and blocks until ctx is done, then stops it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Serve accepts connections from ln in the background. It can be called
// more than once, e.g. for a direct listener and a tunnel listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ln.Close()
		return ErrServerStopped
	}
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		go func(parent context.Context, own context.Context) {
			select {
			case <-parent.Done():
				s.Stop()
			case <-own.Done():
			}
		}(ctx, s.ctx)
	}
	s.listeners = append(s.listeners, ln)
	sctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go s.acceptLoop(sctx, ln)
	return nil
}

// Addr returns the address of the first listener, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("accepting connection ...")
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			atomic.AddUint64(&s.counters.acceptErrors, 1)
			s.log.Error().Err(err).Str("event", ACCEPT_ERROR).Msg("failed to accept new connection")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.AcceptBackoff):
			}
			continue
		}
		cid := atomic.AddUint64(&s.cid_counter, 1)
		sess := newSession(s, conn.NewConn(c, cid, &s.config.Conn))
		if !s.sessions.add(sess) {
			sess.conn.Close()
			return
		}
		atomic.AddUint64(&s.counters.accepted, 1)
		s.stat.ConnectEv(time.Now())
		s.log.Info().Str("event", NEW_CONNECTION).EmbedObject(sess.conn).Msg("")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run(ctx)
			s.sessions.del(sess.conn.Cid())
			s.stat.DisconnectEv(time.Now())
		}()
	}
}

// Stop stops accepting, closes every live connection once, clears the
// registry and waits for the sessions to finish. It is safe to call more
// than once; concurrent callers return once the first stop completes.
func (s *Server) Stop() {
	s.stopOnce.Do(s.stop)
}

func (s *Server) stop() {
	s.mu.Lock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	lns := s.listeners
	s.mu.Unlock()

	for _, ln := range lns {
		ln.Close()
	}
	sessions := s.sessions.closeAll()
	for _, sess := range sessions {
		sess.conn.Close()
	}
	s.wg.Wait()
	s.log.Info().Str("event", SERVER_STOPPED).Int("closed_sessions", len(sessions)).Msg("")
}

func (s *Server) emit(topic string, data interface{}) {
	if s.events != nil {
		s.events.Emit(context.Background(), topic, data)
	}
}

// Sessions describes the live connections.
func (s *Server) Sessions() []SessionInfo {
	list := s.sessions.snapshot()
	out := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.Info())
	}
	return out
}

// Session returns the live session for cid.
func (s *Server) Session(cid uint64) (*Session, bool) {
	return s.sessions.get(cid)
}

func (s *Server) Stat() *stat.Stat {
	return s.stat
}
