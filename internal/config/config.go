// Package config loads service settings from defaults, an optional config
// file, a .env file and TCPGPS_* environment variables, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "TCPGPS"

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type GPS struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ProxyProtocol   bool          `mapstructure:"proxy_protocol"`
	AcceptBackoff   time.Duration `mapstructure:"accept_backoff" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	FlushDelay      time.Duration `mapstructure:"flush_delay"`
	MaxFrame        int           `mapstructure:"max_frame" validate:"gte=16"`
	MinCustomTokens int           `mapstructure:"min_custom_tokens" validate:"gte=1"`
}

type Writer struct {
	QueueSize     int           `mapstructure:"queue_size" validate:"gt=0"`
	BatchSize     int           `mapstructure:"batch_size" validate:"gt=0"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gt=0"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout" validate:"gte=0"`
}

type Store struct {
	Driver        string `mapstructure:"driver" validate:"oneof=memory postgres mongo"`
	PostgresURL   string `mapstructure:"postgres_url"`
	Migrate       bool   `mapstructure:"migrate"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
	MemoryLimit   int    `mapstructure:"memory_limit" validate:"gte=0"`
	Audit         bool   `mapstructure:"audit"`
}

type Redis struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type NATS struct {
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type MQTT struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos" validate:"gte=0,lte=2"`
	Retain      bool   `mapstructure:"retain"`
}

type API struct {
	Addr           string   `mapstructure:"addr"`
	HashSalt       string   `mapstructure:"hash_salt" validate:"required"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Tunnel struct {
	RelayAddr string `mapstructure:"relay_addr"`
	Token     string `mapstructure:"token"`
}

type Config struct {
	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn error fatal"`
	Node     int64  `mapstructure:"node" validate:"gte=0"`
	GPS      GPS    `mapstructure:"gps"`
	Writer   Writer `mapstructure:"writer"`
	Store    Store  `mapstructure:"store"`
	Redis    Redis  `mapstructure:"redis"`
	NATS     NATS   `mapstructure:"nats"`
	MQTT     MQTT   `mapstructure:"mqtt"`
	API      API    `mapstructure:"api"`
	Tunnel   Tunnel `mapstructure:"tunnel"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("node", 1)

	v.SetDefault("gps.addr", ":8888")
	v.SetDefault("gps.proxy_protocol", false)
	v.SetDefault("gps.accept_backoff", time.Second)
	v.SetDefault("gps.idle_timeout", 5*time.Minute)
	v.SetDefault("gps.write_timeout", 5*time.Second)
	v.SetDefault("gps.flush_delay", 300*time.Millisecond)
	v.SetDefault("gps.max_frame", 4096)
	v.SetDefault("gps.min_custom_tokens", 10)

	v.SetDefault("writer.queue_size", 1000)
	v.SetDefault("writer.batch_size", 50)
	v.SetDefault("writer.flush_interval", 2*time.Second)
	v.SetDefault("writer.submit_timeout", 100*time.Millisecond)

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.migrate", true)
	v.SetDefault("store.mongo_uri", "")
	v.SetDefault("store.mongo_database", "tracking")
	v.SetDefault("store.memory_limit", 100000)
	v.SetDefault("store.audit", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.stream", "GPS_FIX")
	v.SetDefault("nats.subject_prefix", "gps.fix")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "tcpgps-publisher")
	v.SetDefault("mqtt.topic_prefix", "tcpgps/fix")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("api.addr", ":3333")
	v.SetDefault("api.hash_salt", "tcpgps")
	v.SetDefault("api.allowed_origins", []string{"https://*", "http://*"})

	v.SetDefault("tunnel.relay_addr", "")
	v.SetDefault("tunnel.token", "")
}

// Load reads configFile when given and the env files (".env" when none is
// named). Missing env files are ignored; a missing config file is not.
func Load(configFile string, envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch {
	case c.Store.Driver == DriverPostgres && c.Store.PostgresURL == "":
		return errors.New("config: store.postgres_url is required for the postgres driver")
	case c.Store.Driver == DriverMongo && c.Store.MongoURI == "":
		return errors.New("config: store.mongo_uri is required for the mongo driver")
	case c.Tunnel.RelayAddr != "" && c.Tunnel.Token == "":
		return errors.New("config: tunnel.token is required with tunnel.relay_addr")
	}
	return nil
}
