// Package natspub publishes fixes to a NATS JetStream stream.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/publish"
)

const (
	DefaultStream        = "GPS_FIX"
	DefaultSubjectPrefix = "gps.fix"
)

type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
}

type Publisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

func New(config *Config) (*Publisher, error) {
	if config.Stream == "" {
		config.Stream = DefaultStream
	}
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = DefaultSubjectPrefix
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	nc, err := nats.Connect(config.URL, nats.Name("tcpgps"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     config.Stream,
		Subjects: []string{config.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   config.MaxAge,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	return &Publisher{conn: nc, js: js, prefix: config.SubjectPrefix}, nil
}

func Subject(prefix, deviceID string) string {
	return prefix + "." + publish.SubjectToken(deviceID)
}

// Publish sends f with a fresh message id so JetStream drops redelivered
// duplicates.
func (p *Publisher) Publish(ctx context.Context, f fix.Fix) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal fix: %w", err)
	}
	_, err = p.js.Publish(Subject(p.prefix, f.DeviceID), data, nats.MsgId(uuid.NewString()), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish fix: %w", err)
	}
	return nil
}

// Subscribe delivers every fix published under the prefix.
func (p *Publisher) Subscribe(handler func(fix.Fix)) (*nats.Subscription, error) {
	return p.js.Subscribe(p.prefix+".>", func(msg *nats.Msg) {
		var f fix.Fix
		if err := json.Unmarshal(msg.Data, &f); err != nil {
			return
		}
		handler(f)
	})
}

func (p *Publisher) Name() string { return "nats" }

func (p *Publisher) Close() {
	p.conn.Close()
}
