package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig holds the pgxpool knobs. The API embeds it with the DB_ prefix;
// ConnString comes from DATABASE_URL and is set by the caller.
type PoolConfig struct {
	ConnString          string
	MaxConns            int32         `env:"MAX_CONNS"`             // 0 leaves the pgx default
	MinConns            int32         `env:"MIN_CONNS"`             // warm floor, must not exceed MaxConns
	MaxConnLifetime     time.Duration `env:"MAX_CONN_LIFETIME"`     // 0 leaves the pgx default
	MaxConnIdleTime     time.Duration `env:"MAX_CONN_IDLE_TIME"`    // 0 leaves the pgx default
	HealthCheckInterval time.Duration `env:"HEALTH_CHECK_INTERVAL"` // 0 leaves the pgx default
}

func (c PoolConfig) validate() error {
	if c.ConnString == "" {
		return errors.New("conn string is required")
	}
	if c.MaxConns < 0 || c.MinConns < 0 {
		return errors.New("pool sizes must not be negative")
	}
	if c.MaxConns > 0 && c.MinConns > c.MaxConns {
		return fmt.Errorf("min conns %d exceeds max conns %d", c.MinConns, c.MaxConns)
	}
	return nil
}

// NewPool builds a pgxpool.Pool and pings it so startup fails fast on a bad DSN.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse pgx pool config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckInterval
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// ClosePool closes pool. It accepts nil.
func ClosePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
