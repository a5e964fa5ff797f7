// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by OpenStore.
const (
	BackendMemory = "memory"
	BackendSqlite = "sqlite"
	BackendBolt   = "bolt"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config selects and locates a job store backend.
type Config struct {
	Backend string
	// Path is the database file (sqlite, bolt) or directory (badger).
	Path string
	// RedisAddrs lists host:port pairs; more than one selects a cluster client.
	RedisAddrs    []string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// OpenStore opens the configured backend wrapped with metrics.
func OpenStore(cfg Config) (*Instrumented, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendSqlite
	}

	var (
		s   Store
		err error
	)
	switch backend {
	case BackendMemory:
		s = NewMemoryStore()
	case BackendSqlite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		s, err = NewSqliteStore(cfg.Path)
	case BackendBolt:
		s, err = OpenBoltStore(cfg.Path)
	case BackendBadger:
		s, err = OpenBadgerStore(cfg.Path)
	case BackendRedis:
		if len(cfg.RedisAddrs) == 0 {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.RedisAddrs,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s = NewRedisStore(client, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(backend, s), nil
}
