// Package config loads gateway settings from an optional YAML file, an
// optional .env file and the environment, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all gateway settings.
type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Session  SessionConfig  `yaml:"session"`

	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StoreConfig struct {
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type NATSConfig struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

// Enabled reports whether the cross-instance relay should run.
func (c NATSConfig) Enabled() bool {
	return c.URL != ""
}

type SessionConfig struct {
	PresenceGrace    time.Duration `yaml:"presence_grace"`
	RoomIdleTTL      time.Duration `yaml:"room_idle_ttl"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Port:     8081,
		LogLevel: "info",
		Store: StoreConfig{
			Backend: "memory",
			Timeout: 3 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  24 * time.Hour,
		},
		Database: defaultDatabaseConfig(),
		NATS: NATSConfig{
			Stream: "POKER_EVENTS",
		},
		Session: SessionConfig{
			PresenceGrace:    0,
			RoomIdleTTL:      5 * time.Minute,
			SubscriberBuffer: 64,
		},
		AllowedOrigins: []string{"*"},
	}
}

// Load reads .env (if present), the YAML file named by POKER_CONFIG (if set)
// and finally the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment")
	}

	cfg := Default()
	if path := os.Getenv("POKER_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvAsInt("GATEWAY_PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.Timeout = getEnvAsDuration("STORE_TIMEOUT", c.Store.Timeout)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Redis.TTL = getEnvAsDuration("REDIS_TTL", c.Redis.TTL)

	c.Database.applyEnv()

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Stream = getEnv("NATS_STREAM", c.NATS.Stream)

	c.Session.PresenceGrace = getEnvAsDuration("PRESENCE_GRACE", c.Session.PresenceGrace)
	c.Session.RoomIdleTTL = getEnvAsDuration("ROOM_IDLE_TTL", c.Session.RoomIdleTTL)
	c.Session.SubscriberBuffer = getEnvAsInt("SUBSCRIBER_BUFFER", c.Session.SubscriberBuffer)

	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
}

// Validate rejects settings the gateway cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Session.PresenceGrace < 0 {
		return fmt.Errorf("presence grace must not be negative, got %s", c.Session.PresenceGrace)
	}
	if c.Session.RoomIdleTTL <= 0 {
		return fmt.Errorf("room idle ttl must be positive, got %s", c.Session.RoomIdleTTL)
	}
	if c.Session.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber buffer must be positive, got %d", c.Session.SubscriberBuffer)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid integer setting")
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid duration setting")
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
