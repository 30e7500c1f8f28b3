// Package storage provides the scoped key/value store the auth core persists
// its session data in.
//
// Backends:
//   - memory (go-cache, in process; tests and throwaway sessions)
//   - sqlite (a file; survives restarts like browser localStorage)
//   - redis (shared)
package storage

import (
	"context"
	"fmt"
	"strings"
)

// DefaultPrefix namespaces every auth key.
const DefaultPrefix = "auth_"

// Backend is a flat string key/value store.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	Close() error
}

type Config struct {
	Driver     string `yaml:"driver" env:"DRIVER"` // memory | sqlite | redis
	Prefix     string `yaml:"prefix" env:"PREFIX"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	RedisAddr  string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisDB    int    `yaml:"redis_db" env:"REDIS_DB"`
}

// Open creates the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "redis":
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
