// Package conn wraps a device socket with message framing and byte
// accounting.
package conn

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

const (
	DefaultMaxFrame   = 4096
	DefaultDelim      = '\n'
	DefaultFlushDelay = 300 * time.Millisecond
)

var ErrIdle = errors.New("connection idle timeout")

type Config struct {
	// Delim ends a message. A '\r' in front of it is dropped.
	Delim byte
	// MaxFrame caps an undelimited message; a longer one is cut and
	// delivered as is.
	MaxFrame int
	// FlushDelay delivers a partial message once the peer has been quiet
	// that long, so packet-delimited devices get their reply. Zero selects
	// DefaultFlushDelay; a negative value waits for the delimiter.
	FlushDelay time.Duration
	// IdleTimeout closes a connection that sent nothing for that long.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

type Conn struct {
	cid      uint64
	tuple    []string
	endpoint string
	created  time.Time
	config   Config
	r        *bufio.Reader
	pending  []byte
	last     time.Time
	err      error
	byteIn   uint64
	byteOut  uint64
	closed   uint32
	once     sync.Once
	net.Conn
}

func NewConn(c net.Conn, cid uint64, config *Config) *Conn {
	o := &Conn{Conn: c, cid: cid}
	if config != nil {
		o.config = *config
	}
	if o.config.Delim == 0 {
		o.config.Delim = DefaultDelim
	}
	if o.config.FlushDelay == 0 {
		o.config.FlushDelay = DefaultFlushDelay
	}
	if o.config.MaxFrame <= 0 {
		o.config.MaxFrame = DefaultMaxFrame
	}
	// bufio needs at least 16 bytes
	size := o.config.MaxFrame
	if size < 16 {
		size = 16
	}
	o.r = bufio.NewReaderSize(c, size)
	o.endpoint = c.RemoteAddr().String()
	sourceip, sourceport, _ := net.SplitHostPort(o.endpoint)
	targetip, targetport, _ := net.SplitHostPort(c.LocalAddr().String())
	o.tuple = []string{sourceip, sourceport, targetip, targetport}
	o.created = time.Now()
	o.last = o.created
	return o
}

func (c *Conn) Cid() uint64 {
	return c.cid
}

// Endpoint is the remote address as "host:port".
func (c *Conn) Endpoint() string {
	return c.endpoint
}

func (c *Conn) Created() time.Time {
	return c.created
}

func (c *Conn) Stat() (byteIn uint64, byteOut uint64) {
	return atomic.LoadUint64(&c.byteIn), atomic.LoadUint64(&c.byteOut)
}

func (c *Conn) pollDeadline() time.Time {
	var d time.Duration
	if c.config.FlushDelay > 0 {
		d = c.config.FlushDelay
	}
	if t := c.config.IdleTimeout; t > 0 && (d == 0 || t < d) {
		d = t
	}
	if d == 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// take returns the pending bytes as a message and resets the buffer.
func (c *Conn) take() string {
	msg := c.pending
	if n := len(msg); n > 0 && msg[n-1] == c.config.Delim {
		msg = msg[:n-1]
	}
	if n := len(msg); n > 0 && msg[n-1] == '\r' {
		msg = msg[:n-1]
	}
	s := string(msg)
	c.pending = c.pending[:0]
	return s
}

// ReadMessage returns the next framed message. Bytes after the last
// delimiter stay buffered for the next call. When the peer goes away with
// an unterminated tail, the tail is returned first and the error on the
// following call.
func (c *Conn) ReadMessage() (string, error) {
	if c.err != nil {
		return "", c.err
	}
	for {
		_ = c.SetReadDeadline(c.pollDeadline())
		line, err := c.r.ReadSlice(c.config.Delim)
		if len(line) > 0 {
			atomic.AddUint64(&c.byteIn, uint64(len(line)))
			c.pending = append(c.pending, line...)
			c.last = time.Now()
		}
		switch {
		case err == nil:
			return c.take(), nil
		case errors.Is(err, bufio.ErrBufferFull):
			if len(c.pending) >= c.config.MaxFrame {
				return c.take(), nil
			}
		case isTimeout(err):
			if c.config.FlushDelay > 0 && len(c.pending) > 0 {
				return c.take(), nil
			}
			if c.config.IdleTimeout > 0 && time.Since(c.last) >= c.config.IdleTimeout {
				c.err = ErrIdle
				if len(c.pending) > 0 {
					return c.take(), nil
				}
				return "", c.err
			}
		default:
			c.err = err
			if len(c.pending) > 0 {
				return c.take(), nil
			}
			return "", err
		}
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	if c.config.WriteTimeout > 0 {
		_ = c.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	n, err := c.Conn.Write(p)
	atomic.AddUint64(&c.byteOut, uint64(n))
	return n, err
}

// Close closes the socket once; later calls are no-ops.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		atomic.StoreUint32(&c.closed, 1)
		err = c.Conn.Close()
	})
	return err
}

func (c *Conn) Closed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

// IsClosedErr reports errors that only mean the peer or we hung up.
func IsClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrIdle)
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Uint64("cid", c.cid).Strs("socket", c.tuple)
}
