package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultApplicationName tags token store sessions in pg_stat_activity.
const DefaultApplicationName = "brokerauth"

// PostgresOptions describes the pool backing a token store.
type PostgresOptions struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	ConnMaxIdle time.Duration
	ConnMaxLife time.Duration
	// ApplicationName overrides DefaultApplicationName unless the DSN already sets one.
	ApplicationName string
}

// Postgres owns a pgx pool opened for the token store.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres opens a pool for opts.DSN and pings it. The pool is closed again
// when the ping fails so callers never hold a half-open handle.
func NewPostgres(ctx context.Context, opts PostgresOptions, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DSN == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	poolCfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolCfg.MinConns = opts.MinConns
	}
	if opts.ConnMaxIdle > 0 {
		poolCfg.MaxConnIdleTime = opts.ConnMaxIdle
	}
	if opts.ConnMaxLife > 0 {
		poolCfg.MaxConnLifetime = opts.ConnMaxLife
	}
	if _, set := poolCfg.ConnConfig.RuntimeParams["application_name"]; !set {
		name := opts.ApplicationName
		if name == "" {
			name = DefaultApplicationName
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = name
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres pool ready",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)
	return &Postgres{Pool: pool}, nil
}

// Close releases pool resources. Safe on a nil receiver.
func (p *Postgres) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}

// PoolHandle returns the underlying pgx pool.
func (p *Postgres) PoolHandle() *pgxpool.Pool {
	if p == nil {
		return nil
	}
	return p.Pool
}
