// Package webstream pushes live fixes to websocket clients. A client picks
// devices with text commands:
//
//	ADDSUB dev1,dev2   full rate
//	ADDSLOW dev1       throttled
//	DELSUB dev1
//
// The device id "*" selects every device.
package webstream

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"nuha.dev/tcpgps/internal/gps/sublist"
)

const (
	CAddSub  = "ADDSUB"
	CAddSlow = "ADDSLOW"
	CDelSub  = "DELSUB"

	defaultBuffer = 64
	writeTimeout  = 5 * time.Second
)

var errClientClosed = errors.New("client closed")

type WebStreamConfig struct {
	// OriginPatterns lists hosts allowed to open a stream from a browser.
	// Empty disables the origin check.
	OriginPatterns []string
	Buffer         int
}

type WebstreamServer struct {
	hub     *sublist.Hub
	config  WebStreamConfig
	logger  zerolog.Logger
	clients int64
}

func NewWebstream(hub *sublist.Hub, config WebStreamConfig) *WebstreamServer {
	if config.Buffer <= 0 {
		config.Buffer = defaultBuffer
	}
	o := &WebstreamServer{hub: hub, config: config}
	o.logger = log.With().Str("module", "websocket").Logger()
	return o
}

// Clients returns the number of connected clients.
func (ws *WebstreamServer) Clients() int {
	return int(atomic.LoadInt64(&ws.clients))
}

func (ws *WebstreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(ws.config.OriginPatterns) == 0,
		OriginPatterns:     ws.config.OriginPatterns,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		ws.logger.Err(err).Msg("error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "unhandled error")

	atomic.AddInt64(&ws.clients, 1)
	defer atomic.AddInt64(&ws.clients, -1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	wc := &WebstreamClient{
		srv:    ws,
		c:      c,
		name:   r.RemoteAddr,
		out:    make(chan []byte, ws.config.Buffer),
		subs:   make(map[string]bool),
		logger: ws.logger.With().Str("remote", r.RemoteAddr).Logger(),
	}
	wc.logger.Info().Msg("websocket client connected")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		wc.readLoop(ctx)
		cancel()
	}()
	err = wc.writeLoop(ctx)
	atomic.StoreInt32(&wc.closed, 1)
	cancel()
	<-readDone
	wc.unsubscribeAll()
	wc.logger.Info().Uint64("pushed", atomic.LoadUint64(&wc.pushed)).Uint64("skipped", atomic.LoadUint64(&wc.skipped)).Msg("websocket client disconnected")
	if err != nil {
		return
	}
	c.Close(websocket.StatusNormalClosure, "")
}

type WebstreamClient struct {
	srv     *WebstreamServer
	c       *websocket.Conn
	name    string
	out     chan []byte
	closed  int32
	skipped uint64
	pushed  uint64
	logger  zerolog.Logger
	// subs is owned by readLoop until it returns.
	subs map[string]bool
}

// Push queues d without blocking. When the buffer is full the fix is
// skipped.
func (wc *WebstreamClient) Push(deviceID string, d []byte) error {
	if wc.Closed() {
		return errClientClosed
	}
	select {
	case wc.out <- d:
		atomic.AddUint64(&wc.pushed, 1)
	default:
		atomic.AddUint64(&wc.skipped, 1)
	}
	return nil
}

func (wc *WebstreamClient) Closed() bool {
	return atomic.LoadInt32(&wc.closed) == 1
}

func (wc *WebstreamClient) Name() string {
	return "ws:" + wc.name
}

// parseCommand splits "CMD a,b" into the command and its device ids.
func parseCommand(msg string) (string, []string) {
	msg = strings.TrimSpace(msg)
	cmd, rest, _ := strings.Cut(msg, " ")
	var ids []string
	for _, v := range strings.Split(rest, ",") {
		if v = strings.TrimSpace(v); v != "" {
			ids = append(ids, v)
		}
	}
	return strings.ToUpper(cmd), ids
}

func (wc *WebstreamClient) readLoop(ctx context.Context) {
	for {
		_, msg, err := wc.c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				wc.logger.Err(err).Msg("error while reading")
			}
			return
		}
		cmd, ids := parseCommand(string(msg))
		switch cmd {
		case CAddSub, CAddSlow:
			wc.logger.Debug().Strs("addsub", ids).Msg("receive add subscription message")
			for _, id := range ids {
				if wc.subs[id] {
					continue
				}
				wc.subs[id] = true
				wc.srv.hub.Subscribe(id, wc, cmd == CAddSlow)
			}
		case CDelSub:
			wc.logger.Debug().Strs("delsub", ids).Msg("receive delete subscription message")
			for _, id := range ids {
				if wc.subs[id] {
					wc.srv.hub.Unsubscribe(id, wc)
					delete(wc.subs, id)
				}
			}
		default:
			wc.logger.Debug().Str("cmd", cmd).Msg("unknown command")
		}
	}
}

func (wc *WebstreamClient) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-wc.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wc.c.Write(wctx, websocket.MessageText, d)
			cancel()
			if err != nil {
				wc.logger.Err(err).Msg("error while writing to connection")
				return err
			}
		}
	}
}

// unsubscribeAll detaches the client from the hub. Call it only after
// readLoop has returned.
func (wc *WebstreamClient) unsubscribeAll() {
	for id := range wc.subs {
		wc.srv.hub.Unsubscribe(id, wc)
	}
}
