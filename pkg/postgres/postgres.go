package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config is bound from POSTGRES_* environment variables. An empty DSN means
// Postgres is not configured.
type Config struct {
	DSN             string `envconfig:"POSTGRES_DSN"`
	MaxConns        int32  `envconfig:"POSTGRES_MAX_CONNS" default:"5"`
	ConnectTimeout  int    `envconfig:"POSTGRES_CONNECT_TIMEOUT" default:"5"`
	MaxConnIdleTime string `envconfig:"POSTGRES_MAX_CONN_IDLE_TIME" default:"5m"`
}

// Enabled reports whether a DSN was provided.
func (c *Config) Enabled() bool {
	return c.DSN != ""
}

// New creates a pool and pings it.
func (c *Config) New(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if c.MaxConns > 0 {
		cfg.MaxConns = c.MaxConns
	}
	if idle, err := time.ParseDuration(c.MaxConnIdleTime); err == nil && idle > 0 {
		cfg.MaxConnIdleTime = idle
	}

	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(c.ConnectTimeout)*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}
