// Package event is the in-process notification bus. Sessions publish
// connection and fix events on it; the live stream, the presence tracker
// and the statistics counters listen.
package event

import (
	"context"
	"fmt"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
	"github.com/phuslu/log"
)

const (
	ConnectionOpened = "connection.opened"
	ConnectionClosed = "connection.closed"
	FixDecoded       = "fix.decoded"
	FixRejected      = "fix.rejected"
)

// Topics lists every topic the bus accepts.
var Topics = []string{ConnectionOpened, ConnectionClosed, FixDecoded, FixRejected}

// 2024-01-01T00:00:00Z in milliseconds, the epoch of event ids.
const idEpoch = uint64(1704067200000)

// Connection is the payload of the connection topics.
type Connection struct {
	CID      uint64
	Endpoint string
	DeviceID string
}

// Rejection is the payload of FixRejected.
type Rejection struct {
	CID      uint64
	Endpoint string
	Raw      string
}

type Bus struct {
	b   *bus.Bus
	log log.Logger
}

// New builds a bus whose event ids come from a monotonic generator
// partitioned by node.
func New(node uint64) (*Bus, error) {
	m, err := monoton.New(sequencer.NewMillisecond(), node, idEpoch)
	if err != nil {
		return nil, fmt.Errorf("event id generator: %w", err)
	}
	var next bus.Next = m.Next
	b, err := bus.NewBus(next)
	if err != nil {
		return nil, fmt.Errorf("event bus: %w", err)
	}
	b.RegisterTopics(Topics...)
	o := &Bus{b: b}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "event").Value()
	return o, nil
}

// Emit publishes data on topic. Failures are logged; publishers never
// block on a broken bus.
func (b *Bus) Emit(ctx context.Context, topic string, data interface{}) {
	if b == nil {
		return
	}
	if err := b.b.Emit(ctx, topic, data); err != nil {
		b.log.Error().Err(err).Str("topic", topic).Msg("emit failed")
	}
}

// Subscribe registers fn under key for topics matching the regular
// expression matcher. Handlers run on the emitting goroutine and must not
// block.
func (b *Bus) Subscribe(key, matcher string, fn func(ctx context.Context, e bus.Event)) {
	b.b.RegisterHandler(key, bus.Handler{Handle: fn, Matcher: matcher})
}

func (b *Bus) Unsubscribe(key string) {
	b.b.DeregisterHandler(key)
}
