// Package tunnel carries device connections from a public relay to an
// ingest server behind NAT. The ingest side dials the relay, authenticates
// with a shared token and then serves yamux streams, each one a forwarded
// device connection whose first line is the device's remote address.
package tunnel

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/phuslu/log"
)

const (
	authOK   = '+'
	authFail = '-'

	maxHeader      = 256
	authTimeout    = 5 * time.Second
	headerTimeout  = 10 * time.Second
	DefaultTimeout = 10 * time.Second
)

var ErrRejected = errors.New("tunnel: token rejected")

func yamuxConfig() *yamux.Config {
	c := yamux.DefaultConfig()
	c.LogOutput = io.Discard
	return c
}

// readLine reads one '\n' terminated line of at most maxHeader bytes.
func readLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for sb.Len() <= maxHeader {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			return strings.TrimRight(sb.String(), "\r"), nil
		}
		sb.WriteByte(b)
	}
	return "", fmt.Errorf("tunnel: header longer than %d bytes", maxHeader)
}

type remoteAddr string

func (a remoteAddr) Network() string { return "tcp" }
func (a remoteAddr) String() string  { return string(a) }

// streamConn is a forwarded device connection. Reads go through the
// reader that consumed the address header.
type streamConn struct {
	net.Conn
	r      *bufio.Reader
	remote net.Addr
}

func (c *streamConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *streamConn) RemoteAddr() net.Addr {
	return c.remote
}

type Config struct {
	RelayAddr   string
	Token       string
	DialTimeout time.Duration
}

// Listener yields forwarded device connections from one tunnel session.
type Listener struct {
	session *yamux.Session
	log     log.Logger
}

// Dial connects and authenticates to the relay.
func Dial(ctx context.Context, config *Config) (*Listener, error) {
	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", config.RelayAddr)
	if err != nil {
		return nil, err
	}
	_ = c.SetDeadline(time.Now().Add(authTimeout))
	if _, err := fmt.Fprintf(c, "%s\n", config.Token); err != nil {
		c.Close()
		return nil, err
	}
	status := []byte{0}
	if _, err := io.ReadFull(c, status); err != nil {
		c.Close()
		return nil, err
	}
	if status[0] != authOK {
		c.Close()
		return nil, ErrRejected
	}
	_ = c.SetDeadline(time.Time{})
	session, err := yamux.Client(c, yamuxConfig())
	if err != nil {
		c.Close()
		return nil, err
	}
	l := &Listener{session: session}
	l.log = log.DefaultLogger
	l.log.Context = log.NewContext(nil).Str("module", "tunnel").Str("relay", config.RelayAddr).Value()
	l.log.Info().Msg("tunnel accepted")
	return l, nil
}

// Accept returns the next forwarded connection. Streams with a bad
// address header are dropped. After the session ends it returns
// net.ErrClosed.
func (l *Listener) Accept() (net.Conn, error) {
	for {
		s, err := l.session.AcceptStream()
		if err != nil {
			if errors.Is(err, yamux.ErrSessionShutdown) || l.session.IsClosed() {
				return nil, net.ErrClosed
			}
			return nil, err
		}
		r := bufio.NewReader(s)
		_ = s.SetReadDeadline(time.Now().Add(headerTimeout))
		raddr, err := readLine(r)
		_ = s.SetReadDeadline(time.Time{})
		if err != nil || raddr == "" {
			l.log.Error().Err(err).Uint32("stream", s.StreamID()).Msg("invalid stream header")
			s.Close()
			continue
		}
		return &streamConn{Conn: s, r: r, remote: remoteAddr(raddr)}, nil
	}
}

func (l *Listener) Close() error {
	return l.session.Close()
}

func (l *Listener) Addr() net.Addr {
	return l.session.Addr()
}

// Done is closed when the tunnel session ends.
func (l *Listener) Done() <-chan struct{} {
	return l.session.CloseChan()
}

// ServeFunc starts serving ln in the background.
type ServeFunc func(ctx context.Context, ln net.Listener) error

// Run keeps a tunnel to the relay up until ctx is cancelled, handing each
// new session to serve. A serve error ends Run.
func Run(ctx context.Context, config *Config, serve ServeFunc) error {
	logger := log.DefaultLogger
	logger.Context = log.NewContext(nil).Str("module", "tunnel").Str("relay", config.RelayAddr).Value()
	for {
		t0 := time.Now()
		ln, err := Dial(ctx, config)
		if err != nil {
			logger.Error().Err(err).Msg("unable to open tunnel")
		} else {
			if err := serve(ctx, ln); err != nil {
				ln.Close()
				return err
			}
			select {
			case <-ln.Done():
				logger.Warn().Msg("tunnel closed")
			case <-ctx.Done():
				ln.Close()
				return nil
			}
		}
		wait := 5 * time.Second
		if time.Since(t0) > 10*time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

type RelayConfig struct {
	ExternalAddr string
	Token        string
}

// Relay is the public end. It holds at most one tunnel at a time and
// listens for devices only while the tunnel is up.
type Relay struct {
	config *RelayConfig
	log    log.Logger
	mu     sync.Mutex
	ext    net.Addr
}

func NewRelay(config *RelayConfig) *Relay {
	r := &Relay{config: config}
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "relay").Value()
	return r
}

// ExternalAddr returns the bound device address while a tunnel is up.
func (r *Relay) ExternalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ext
}

// Serve accepts tunnel connections on tl until ctx is cancelled.
func (r *Relay) Serve(ctx context.Context, tl net.Listener) error {
	go func() {
		<-ctx.Done()
		tl.Close()
	}()
	for {
		yconn, err := tl.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.log.Info().Str("remote", yconn.RemoteAddr().String()).Msg("accepting tunnel connection")
		if err := r.runTunnel(ctx, yconn); err != nil {
			r.log.Error().Err(err).Msg("tunnel ended")
		}
	}
}

func (r *Relay) auth(yconn net.Conn) (bool, error) {
	_ = yconn.SetDeadline(time.Now().Add(authTimeout))
	defer yconn.SetDeadline(time.Time{})
	token, err := readLine(bufio.NewReaderSize(yconn, 16))
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(r.config.Token)) != 1 {
		_, _ = yconn.Write([]byte{authFail})
		return false, nil
	}
	_, err = yconn.Write([]byte{authOK})
	return err == nil, err
}

func (r *Relay) runTunnel(ctx context.Context, yconn net.Conn) error {
	ok, err := r.auth(yconn)
	if err != nil || !ok {
		yconn.Close()
		if err == nil {
			r.log.Warn().Str("remote", yconn.RemoteAddr().String()).Msg("tunnel token rejected")
		}
		return err
	}
	session, err := yamux.Server(yconn, yamuxConfig())
	if err != nil {
		yconn.Close()
		return err
	}
	defer session.Close()

	ln, err := net.Listen("tcp", r.config.ExternalAddr)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.ext = ln.Addr()
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.ext = nil
		r.mu.Unlock()
	}()
	go func() {
		select {
		case <-ctx.Done():
		case <-session.CloseChan():
		}
		r.log.Info().Msg("closing external listener")
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.forward(session, conn)
		}()
	}
}

func (r *Relay) forward(session *yamux.Session, conn net.Conn) {
	defer conn.Close()
	stream, err := session.OpenStream()
	if err != nil {
		r.log.Error().Err(err).Msg("error trying to open stream")
		return
	}
	defer stream.Close()
	r.log.Debug().Uint32("stream", stream.StreamID()).Str("remote", conn.RemoteAddr().String()).Msg("new stream")
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := fmt.Fprintf(stream, "%s\n", conn.RemoteAddr()); err != nil {
			return
		}
		_, _ = io.Copy(stream, conn)
		stream.Close()
	}()
	_, _ = io.Copy(conn, stream)
	conn.Close()
	<-done
}
