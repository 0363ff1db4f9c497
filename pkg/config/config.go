// Package config loads the engine's runtime configuration from a YAML file
// overlaid with environment variables, the way the teacher repo's pkg/config
// does for its own service.
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/elementstore/core/pkg/logger"
)

// ServerConfig controls the HTTP API server (§6).
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// Addr returns "host:port".
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// FanoutConfig controls the broadcast fan-out service (§4.7).
type FanoutConfig struct {
	Host          string `yaml:"host" env:"FANOUT_HOST"`
	Port          int    `yaml:"port" env:"FANOUT_PORT"`
	BroadcastPath string `yaml:"broadcast_path" env:"FANOUT_BROADCAST_PATH"`
	WebSocketPath string `yaml:"websocket_path" env:"FANOUT_WS_PATH"`
}

// Addr returns "host:port".
func (f FanoutConfig) Addr() string {
	return fmt.Sprintf("%s:%d", f.Host, f.Port)
}

// StorageConfig selects and configures the storage backend (§4.1).
type StorageConfig struct {
	Type string `yaml:"type" env:"STORAGE_TYPE"` // file | docdb | httpdocdb

	// file backend
	DataDir string `yaml:"data_dir" env:"STORAGE_DATA_DIR"`

	// docdb backend (Postgres/JSONB)
	DSN            string `yaml:"dsn" env:"STORAGE_DSN"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"STORAGE_MIGRATE_ON_START"`

	// httpdocdb backend
	BaseURL string `yaml:"base_url" env:"STORAGE_BASE_URL"`
	Timeout int    `yaml:"timeout_seconds" env:"STORAGE_TIMEOUT_SECONDS"`
}

// BusConfig controls the producer side of the broadcast bus (§4.7).
type BusConfig struct {
	FanoutURL      string `yaml:"fanout_url" env:"BUS_FANOUT_URL"`
	TimeoutMillis  int    `yaml:"timeout_millis" env:"BUS_TIMEOUT_MILLIS"`
}

// CacheConfig controls the Object cache tier (§2.M).
type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr" env:"CACHE_REDIS_ADDR"`
	LRUSize   int    `yaml:"lru_size" env:"CACHE_LRU_SIZE"`
}

// EngineConfig controls the write engine (§4.4).
type EngineConfig struct {
	// AutoCreateClass enables step 1's synthesize-and-recurse behavior: an
	// unresolved class_id gets a minimal @class record instead of failing
	// not_found.
	AutoCreateClass bool `yaml:"auto_create_class" env:"ENGINE_AUTO_CREATE_CLASS"`
}

// Config is the top-level configuration tree.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Fanout  FanoutConfig  `yaml:"fanout"`
	Storage StorageConfig `yaml:"storage"`
	Bus     BusConfig     `yaml:"bus"`
	Cache   CacheConfig   `yaml:"cache"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging logger.Config `yaml:"logging"`
}

// Default returns a Config populated with conservative defaults.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Fanout:  FanoutConfig{Host: "0.0.0.0", Port: 8081, BroadcastPath: "/broadcast", WebSocketPath: "/ws"},
		Storage: StorageConfig{Type: "file", DataDir: "data"},
		Bus:     BusConfig{TimeoutMillis: 500},
		Cache:   CacheConfig{LRUSize: 4096},
		Logging: logger.Config{Level: "info", Format: "text", Output: "stdout"},
	}
}

// Load reads a YAML config file (if path is non-empty) and then overlays any
// matching environment variables, mirroring the teacher's layered config
// loading (file defaults, env overrides, optional .env for local dev).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode env overrides: %w", err)
	}

	return cfg, nil
}
