// Package config loads and validates dispatcher configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Worker  WorkerConfig   `mapstructure:"worker"`
	Logging LoggingConfig  `mapstructure:"logging"`
	Queues  []QueueConfig  `mapstructure:"queues"`
	Weights map[string]int `mapstructure:"weights"`
	Redis   RedisConfig    `mapstructure:"redis"`
	DB      DBConfig       `mapstructure:"db"`
	PubSub  PubSubConfig   `mapstructure:"pubsub"`
	AMQP    AMQPConfig     `mapstructure:"amqp"`

	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// RateLimitConfig paces dispatch per request domain.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// TelemetryConfig identifies the service for tracing. ProjectID enables the
// Google Cloud Trace exporter.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	ProjectID   string `mapstructure:"project_id"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// WorkerConfig governs the worker pool pulling from the queue set.
type WorkerConfig struct {
	Concurrency   int `mapstructure:"concurrency"`
	MaxAttempts   int `mapstructure:"max_attempts"`
	IdleSleepMs   int `mapstructure:"idle_sleep_ms"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int `mapstructure:"backoff_max_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// QueueConfig declares one backend of the queue set, in dispatch order.
type QueueConfig struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`

	// Capacity bounds the memory backend; ignored by the others.
	Capacity int `mapstructure:"capacity"`

	// Topic and Subscription name the Pub/Sub resources for pubsub-kind
	// queues; Queue names the AMQP queue for amqp-kind queues.
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
	Queue        string `mapstructure:"queue"`
}

// Backend kinds accepted in QueueConfig.Kind.
const (
	KindMemory   = "memory"
	KindRedis    = "redis"
	KindPostgres = "postgres"
	KindPubSub   = "pubsub"
	KindAMQP     = "amqp"
)

// RedisConfig controls the shared Redis client used by redis-kind queues.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DBConfig controls the Postgres pool used by postgres-kind queues.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds the GCP project for pubsub-kind queues.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// AMQPConfig holds the broker URL for amqp-kind queues.
type AMQPConfig struct {
	URL string `mapstructure:"url"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	if err := ReadInto(v, path); err != nil {
		return Config{}, err
	}
	return Parse(v)
}

// ReadInto configures v with defaults, environment binding, and the
// optional config file, without unmarshalling. Callers that need runtime
// reload keep the viper handle and pass it to Watch.
func ReadInto(v *viper.Viper, path string) error {
	v.SetEnvPrefix("HOPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Parse unmarshals and validates the current contents of v.
func Parse(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.idle_sleep_ms", 250)
	v.SetDefault("worker.backoff_base_ms", 250)
	v.SetDefault("worker.backoff_max_ms", 5000)
	v.SetDefault("logging.development", true)
	v.SetDefault("queues", []map[string]any{
		{"name": "default", "kind": KindMemory, "capacity": 1024},
	})
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("db.table", "crawl_requests")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("ratelimit.default_rps", 2.0)
	v.SetDefault("ratelimit.default_burst", 1)
	v.SetDefault("telemetry.service_name", "hopper")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if len(c.Queues) == 0 {
		return fmt.Errorf("at least one queue must be configured")
	}
	seen := make(map[string]bool, len(c.Queues))
	for _, q := range c.Queues {
		if q.Name == "" {
			return fmt.Errorf("queue name must not be empty")
		}
		if seen[q.Name] {
			return fmt.Errorf("duplicate queue name %q", q.Name)
		}
		seen[q.Name] = true
		switch q.Kind {
		case KindMemory, KindRedis, KindPostgres, KindPubSub, KindAMQP:
		default:
			return fmt.Errorf("queue %q has unknown kind %q", q.Name, q.Kind)
		}
	}
	for name, w := range c.Weights {
		if w <= 0 {
			return fmt.Errorf("weight for queue %q must be > 0, got %d", name, w)
		}
		if !seen[name] {
			return fmt.Errorf("weight references unknown queue %q", name)
		}
	}
	return nil
}
