// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory uses in-memory storage (default). State is lost on restart.
	TypeMemory Type = "memory"

	// TypeRedis uses Redis (standalone or Sentinel).
	TypeRedis Type = "redis"

	// TypeSQLite uses an embedded SQLite database file.
	TypeSQLite Type = "sqlite"
)

const (
	// DefaultCleanupInterval is how often expired records are purged.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultKeyPrefix namespaces Redis keys.
	DefaultKeyPrefix = "oauth:"
)

// Config configures the storage backend.
type Config struct {
	// Type specifies the storage backend type. Defaults to memory.
	Type Type `mapstructure:"type" yaml:"type"`

	// Redis is required when Type is redis.
	Redis *RedisConfig `mapstructure:"redis" yaml:"redis"`

	// SQLite is required when Type is sqlite.
	SQLite *SQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Type: TypeMemory,
	}
}

// Validate checks that the backend-specific section is present.
func (c *Config) Validate() error {
	switch c.Type {
	case "", TypeMemory:
		return nil
	case TypeRedis:
		if c.Redis == nil {
			return errors.New("redis configuration is required for redis storage")
		}
		return validateRedisConfig(c.Redis)
	case TypeSQLite:
		if c.SQLite == nil || c.SQLite.Path == "" {
			return errors.New("sqlite path is required for sqlite storage")
		}
		return nil
	default:
		return fmt.Errorf("unsupported storage type %q", c.Type)
	}
}

// New opens the backend selected by cfg. A nil cfg yields memory storage.
func New(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case TypeRedis:
		return NewRedisStorage(ctx, *cfg.Redis)
	case TypeSQLite:
		return NewSQLiteStorage(ctx, *cfg.SQLite)
	default:
		return NewMemoryStorage(), nil
	}
}
