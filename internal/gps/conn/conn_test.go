package conn

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

type countingConn struct {
	net.Conn
	closes int32
}

func (c *countingConn) Close() error {
	atomic.AddInt32(&c.closes, 1)
	return c.Conn.Close()
}

func pipe(t *testing.T, config *Config) (*Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return NewConn(a, 1, config), b
}

func write(peer net.Conn, chunks ...string) {
	go func() {
		for _, c := range chunks {
			_, _ = peer.Write([]byte(c))
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func expect(t *testing.T, c *Conn, want string) {
	t.Helper()
	got, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got != want {
		t.Fatalf("ReadMessage = %q, want %q", got, want)
	}
}

func TestReadMessageSplitsOnDelimiter(t *testing.T) {
	c, peer := pipe(t, nil)
	write(peer, "$$A,1\r\n$$B,2\n")
	expect(t, c, "$$A,1")
	expect(t, c, "$$B,2")
}

func TestReadMessageReassemblesFragments(t *testing.T) {
	c, peer := pipe(t, nil)
	write(peer, "$GPRMC,1235", "19,A,4807.038", ",N\r", "\n")
	expect(t, c, "$GPRMC,123519,A,4807.038,N")
}

func TestReadMessageTailOnClose(t *testing.T) {
	c, peer := pipe(t, nil)
	go func() {
		_, _ = peer.Write([]byte("one\ntail"))
		peer.Close()
	}()
	expect(t, c, "one")
	expect(t, c, "tail")
	if _, err := c.ReadMessage(); err != io.EOF {
		t.Fatalf("err = %v, want EOF", err)
	}
	if !IsClosedErr(io.EOF) {
		t.Error("EOF not treated as closed")
	}
}

func TestReadMessageMaxFrame(t *testing.T) {
	c, peer := pipe(t, &Config{MaxFrame: 16})
	go func() {
		_, _ = peer.Write([]byte("0123456789abcdefXYZ"))
		peer.Close()
	}()
	expect(t, c, "0123456789abcdef")
	expect(t, c, "XYZ")
}

func TestReadMessageFlushDelay(t *testing.T) {
	c, peer := pipe(t, &Config{FlushDelay: 30 * time.Millisecond})
	write(peer, "$$NODELIM,1")
	expect(t, c, "$$NODELIM,1")
}

func TestReadMessageDefaultFlushesPacket(t *testing.T) {
	c, peer := pipe(t, nil)
	write(peer, "$$PACKET,1")
	start := time.Now()
	expect(t, c, "$$PACKET,1")
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("packet delivered after %v", d)
	}
}

func TestReadMessageNegativeFlushWaitsForDelimiter(t *testing.T) {
	c, peer := pipe(t, &Config{FlushDelay: -1, IdleTimeout: 100 * time.Millisecond})
	write(peer, "partial")
	got, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got != "partial" {
		t.Fatalf("ReadMessage = %q", got)
	}
	if _, err := c.ReadMessage(); err != ErrIdle {
		t.Fatalf("err = %v, want ErrIdle", err)
	}
}

func TestReadMessageIdle(t *testing.T) {
	c, _ := pipe(t, &Config{IdleTimeout: 20 * time.Millisecond})
	if _, err := c.ReadMessage(); err != ErrIdle {
		t.Fatalf("err = %v, want ErrIdle", err)
	}
}

func TestCloseOnce(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	cc := &countingConn{Conn: a}
	c := NewConn(cc, 7, nil)
	_ = c.Close()
	_ = c.Close()
	if n := atomic.LoadInt32(&cc.closes); n != 1 {
		t.Errorf("underlying Close called %d times", n)
	}
	if !c.Closed() {
		t.Error("Closed() = false")
	}
}

func TestByteCounters(t *testing.T) {
	c, peer := pipe(t, nil)
	write(peer, "abc\n")
	expect(t, c, "abc")
	go func() {
		buf := make([]byte, 8)
		_, _ = peer.Read(buf)
	}()
	if _, err := c.Write([]byte("ACK\r\n")); err != nil {
		t.Fatal(err)
	}
	in, out := c.Stat()
	if in != 4 || out != 5 {
		t.Errorf("Stat = %d,%d want 4,5", in, out)
	}
}
