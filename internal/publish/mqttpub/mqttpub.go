// Package mqttpub publishes fixes to an MQTT broker, one topic per device.
package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/publish"
)

const (
	DefaultTopicPrefix = "tcpgps/fix"
	DefaultClientID    = "tcpgps-publisher"
	publishTimeout     = 5 * time.Second
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Retain      bool
}

type Publisher struct {
	client mqtt.Client
	config Config
}

func New(config *Config) (*Publisher, error) {
	if config.ClientID == "" {
		config.ClientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return NewWithClient(client, config), nil
}

func NewWithClient(client mqtt.Client, config *Config) *Publisher {
	c := *config
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	return &Publisher{client: client, config: c}
}

func Topic(prefix, deviceID string) string {
	return prefix + "/" + publish.SubjectToken(deviceID)
}

func (p *Publisher) Publish(ctx context.Context, f fix.Fix) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal fix: %w", err)
	}
	token := p.client.Publish(Topic(p.config.TopicPrefix, f.DeviceID), p.config.QoS, p.config.Retain, payload)
	timeout := publishTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish fix: %w", err)
	}
	return nil
}

func (p *Publisher) Name() string { return "mqtt" }

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
