// Package config loads the streaming core's configuration: an immutable
// record of enumerated options, not mutable process globals. One Config
// value is constructed at startup and threaded through to whichever
// components need it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendKind selects which bus.Backend implementation is wired up.
type BackendKind string

// Supported backend kinds.
const (
	BackendMemory BackendKind = "memory"
	BackendRedis  BackendKind = "redis"
)

// Config is the fully resolved, validated configuration for a streaming
// core deployment.
type Config struct {
	Backend BackendKind `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
	Memory  MemoryConfig `yaml:"memory"`

	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
	MaxRunDurationSeconds    int `yaml:"max_run_duration_seconds"`
	CancelGraceSeconds       int `yaml:"cancel_grace_seconds"`

	Events EventsConfig `yaml:"events"`
}

// RedisConfig configures the Redis Streams backend.
type RedisConfig struct {
	URL                 string `yaml:"url"`
	StreamTTLSeconds    int    `yaml:"stream_ttl_seconds"`
	MaxEventsPerRun     int64  `yaml:"max_events_per_run"`
	ConnectionPoolSize  int    `yaml:"connection_pool_size"`
	TTLPolicy           string `yaml:"ttl_policy"`
}

// MemoryConfig configures the in-memory backend.
type MemoryConfig struct {
	MaxEventsPerRun      int `yaml:"max_events_per_run"`
	SubscriberBufferSize int `yaml:"subscriber_buffer_size"`
	StreamTTLSeconds     int `yaml:"stream_ttl_seconds"`
}

// EventsConfig configures the default emit filter.
type EventsConfig struct {
	Allowed    string `yaml:"allowed"`
	CustomMode string `yaml:"custom_mode"`
}

// HeartbeatInterval returns HeartbeatIntervalSeconds as a time.Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// MaxRunDuration returns MaxRunDurationSeconds as a time.Duration.
func (c *Config) MaxRunDuration() time.Duration {
	return time.Duration(c.MaxRunDurationSeconds) * time.Second
}

// CancelGrace returns CancelGraceSeconds as a time.Duration.
func (c *Config) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceSeconds) * time.Second
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults, and validates the result. After Load
// returns successfully, every field is usable without further nil or
// zero-value checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.HeartbeatIntervalSeconds == 0 {
		c.HeartbeatIntervalSeconds = 15
	}
	if c.CancelGraceSeconds == 0 {
		c.CancelGraceSeconds = 10
	}
	if c.Redis.StreamTTLSeconds == 0 {
		c.Redis.StreamTTLSeconds = 3600
	}
	if c.Redis.MaxEventsPerRun == 0 {
		c.Redis.MaxEventsPerRun = 1000
	}
	if c.Redis.ConnectionPoolSize == 0 {
		c.Redis.ConnectionPoolSize = 10
	}
	if c.Redis.TTLPolicy == "" {
		c.Redis.TTLPolicy = "fixed_post_mortem"
	}
	if c.Memory.MaxEventsPerRun == 0 {
		c.Memory.MaxEventsPerRun = 1000
	}
	if c.Memory.SubscriberBufferSize == 0 {
		c.Memory.SubscriberBufferSize = 64
	}
	if c.Events.Allowed == "" {
		c.Events.Allowed = "chat"
	}
	if c.Events.CustomMode == "" {
		c.Events.CustomMode = "none"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("backend %q is not one of memory|redis", c.Backend)
	}
	if c.Backend == BackendRedis && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when backend is redis")
	}
	switch c.Redis.TTLPolicy {
	case "fixed_post_mortem", "sliding":
	default:
		return fmt.Errorf("redis.ttl_policy %q is not one of fixed_post_mortem|sliding", c.Redis.TTLPolicy)
	}
	return nil
}

// Default returns a configuration suitable for local development with the
// in-memory backend. All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
