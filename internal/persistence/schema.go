package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// EnsureTokenSchema creates the token table and its expiry index when absent.
func EnsureTokenSchema(ctx context.Context, pool *pgxpool.Pool, table string, logger *zap.Logger) error {
	if pool == nil {
		return fmt.Errorf("ensure schema %s: no postgres pool", table)
	}

	ident := pgx.Identifier{table}.Sanitize()
	index := pgx.Identifier{table + "_expires_at_idx"}.Sanitize()
	statements := []string{
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            username   TEXT PRIMARY KEY,
            payload    JSONB NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            expires_at TIMESTAMPTZ NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`, ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (expires_at)`, index, ident),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema %s: %w", table, err)
		}
	}

	logger.Info("token schema ready", zap.String("table", table))
	return nil
}
