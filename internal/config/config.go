// Package config loads service configuration from an optional YAML file with
// strict field checking, on top of built-in defaults. Durations are written
// as strings ("1s", "24h").
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Addr         string
	Store        string // redis, sqlite or memory
	Redis        RedisConfig
	SQLitePath   string
	PollInterval time.Duration
	Retention    time.Duration // 0 keeps finished tasks forever
	JWTSecret    string
	TokenTTL     time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type fileConfig struct {
	Addr  string `yaml:"addr"`
	Store string `yaml:"store"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	SQLitePath   string `yaml:"sqlite_path"`
	PollInterval string `yaml:"poll_interval"`
	Retention    string `yaml:"retention"`
	JWTSecret    string `yaml:"jwt_secret"`
	TokenTTL     string `yaml:"token_ttl"`
}

func Default() Config {
	return Config{
		Addr:         ":8080",
		Store:        "redis",
		Redis:        RedisConfig{Addr: "127.0.0.1:6379"},
		SQLitePath:   "tempoq.db",
		PollInterval: time.Second,
		Retention:    0,
		TokenTTL:     time.Hour,
	}
}

// Load reads path into the defaults. An empty path returns the defaults
// untouched. Unknown fields in the file are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	if fc.Store != "" {
		cfg.Store = fc.Store
	}
	if fc.Redis.Addr != "" {
		cfg.Redis.Addr = fc.Redis.Addr
	}
	if fc.Redis.Password != "" {
		cfg.Redis.Password = fc.Redis.Password
	}
	if fc.Redis.DB != 0 {
		cfg.Redis.DB = fc.Redis.DB
	}
	if fc.SQLitePath != "" {
		cfg.SQLitePath = fc.SQLitePath
	}
	if fc.JWTSecret != "" {
		cfg.JWTSecret = fc.JWTSecret
	}
	if cfg.PollInterval, err = parseDuration("poll_interval", fc.PollInterval, cfg.PollInterval); err != nil {
		return cfg, err
	}
	if cfg.Retention, err = parseDuration("retention", fc.Retention, cfg.Retention); err != nil {
		return cfg, err
	}
	if cfg.TokenTTL, err = parseDuration("token_ttl", fc.TokenTTL, cfg.TokenTTL); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case "redis", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be > 0")
	}
	return nil
}

func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}
