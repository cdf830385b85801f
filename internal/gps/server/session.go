package server

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/tcpgps/internal/event"
	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/gps/conn"
	"nuha.dev/tcpgps/internal/gps/decoder"
)

type SessionState int32

const (
	StateConnected SessionState = iota
	StateReading
	StateProcessing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReading:
		return "reading"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session owns one device connection. Messages on a session are handled
// strictly in arrival order.
type Session struct {
	srv      *Server
	conn     *conn.Conn
	log      log.Logger
	state    int32
	messages uint64
	accepted uint64
	rejected uint64
	devMu    sync.Mutex
	deviceID string
	lastMsg  time.Time
}

func newSession(srv *Server, c *conn.Conn) *Session {
	o := &Session{srv: srv, conn: c}
	o.log = srv.log
	o.log.Context = log.NewContext(nil).Str("module", "session").Uint64("cid", c.Cid()).Str("endpoint", c.Endpoint()).Value()
	return o
}

func (ss *Session) State() SessionState {
	return SessionState(atomic.LoadInt32(&ss.state))
}

func (ss *Session) setState(st SessionState) {
	atomic.StoreInt32(&ss.state, int32(st))
}

func (ss *Session) MarshalObject(e *log.Entry) {
	e.EmbedObject(ss.conn).Str("state", ss.State().String())
}

// run reads until the peer leaves, an I/O error happens or ctx is
// cancelled. The socket is closed on return.
func (ss *Session) run(ctx context.Context) {
	ss.srv.emit(event.ConnectionOpened, event.Connection{CID: ss.conn.Cid(), Endpoint: ss.conn.Endpoint()})
	ss.setState(StateReading)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			ss.conn.Close()
		case <-done:
		}
	}()

	defer func() {
		close(done)
		ss.conn.Close()
		ss.setState(StateClosed)
		in, out := ss.conn.Stat()
		ss.log.Info().Str("event", CONNECTION_CLOSED).Uint64("byte_in", in).Uint64("byte_out", out).Uint64("messages", atomic.LoadUint64(&ss.messages)).Msg("")
		ss.srv.emit(event.ConnectionClosed, event.Connection{CID: ss.conn.Cid(), Endpoint: ss.conn.Endpoint(), DeviceID: ss.DeviceID()})
	}()

	for {
		msg, err := ss.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !conn.IsClosedErr(err) {
				ss.log.Error().Err(err).Str("event", READ_ERROR).Msg("error while reading message")
			}
			return
		}
		ss.setState(StateProcessing)
		if err := ss.process(msg); err != nil {
			ss.log.Error().Err(err).Str("event", ACK_ERROR).Msg("error sending acknowledge")
			return
		}
		ss.setState(StateReading)
	}
}

// process handles one framed message. Only an ack write failure is
// returned; everything else is logged and the session goes on.
func (ss *Session) process(raw string) error {
	msg := strings.TrimSpace(raw)
	if msg == "" {
		return nil
	}
	now := time.Now().UTC()
	atomic.AddUint64(&ss.messages, 1)
	atomic.AddUint64(&ss.srv.counters.messages, 1)
	ss.srv.stat.CounterIncr(1, now)
	ss.devMu.Lock()
	ss.lastMsg = now
	ss.devMu.Unlock()

	if !decoder.Plausible(msg) {
		atomic.AddUint64(&ss.rejected, 1)
		atomic.AddUint64(&ss.srv.counters.rejected, 1)
		ss.log.Warn().Str("event", MESSAGE_REJECTED).Str("raw", fix.TruncateRaw(msg)).Msg("invalid message format")
		ss.srv.emit(event.FixRejected, event.Rejection{CID: ss.conn.Cid(), Endpoint: ss.conn.Endpoint(), Raw: fix.TruncateRaw(msg)})
		return nil
	}

	f := ss.srv.decoder.Decode(msg, ss.conn.Endpoint(), now)
	atomic.AddUint64(&ss.accepted, 1)
	if !f.Valid {
		atomic.AddUint64(&ss.srv.counters.invalid, 1)
	}
	ss.devMu.Lock()
	ss.deviceID = f.DeviceID
	ss.devMu.Unlock()
	ss.log.Debug().Str("event", FIX_DECODED).EmbedObject(f).Msg("")

	if ss.srv.sink != nil && !ss.srv.sink.Submit(f) {
		atomic.AddUint64(&ss.srv.counters.dropped, 1)
		ss.log.Warn().Str("event", SINK_FULL).EmbedObject(f).Msg("fix dropped")
	}
	ss.srv.emit(event.FixDecoded, f)

	if _, err := ss.conn.Write(Ack); err != nil {
		return err
	}
	atomic.AddUint64(&ss.srv.counters.acked, 1)
	return nil
}

func (ss *Session) DeviceID() string {
	ss.devMu.Lock()
	defer ss.devMu.Unlock()
	return ss.deviceID
}

type SessionInfo struct {
	CID       uint64    `json:"cid"`
	Endpoint  string    `json:"endpoint"`
	DeviceID  string    `json:"device_id"`
	State     string    `json:"state"`
	Connected time.Time `json:"connected"`
	LastMsg   time.Time `json:"last_message"`
	Messages  uint64    `json:"messages"`
	Accepted  uint64    `json:"accepted"`
	Rejected  uint64    `json:"rejected"`
	ByteIn    uint64    `json:"byte_in"`
	ByteOut   uint64    `json:"byte_out"`
}

func (ss *Session) Info() SessionInfo {
	in, out := ss.conn.Stat()
	ss.devMu.Lock()
	dev, last := ss.deviceID, ss.lastMsg
	ss.devMu.Unlock()
	return SessionInfo{
		CID:       ss.conn.Cid(),
		Endpoint:  ss.conn.Endpoint(),
		DeviceID:  dev,
		State:     ss.State().String(),
		Connected: ss.conn.Created(),
		LastMsg:   last,
		Messages:  atomic.LoadUint64(&ss.messages),
		Accepted:  atomic.LoadUint64(&ss.accepted),
		Rejected:  atomic.LoadUint64(&ss.rejected),
		ByteIn:    in,
		ByteOut:   out,
	}
}
