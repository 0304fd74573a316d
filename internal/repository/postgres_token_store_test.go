//go:build integration
// +build integration

package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/brokerauth/internal/persistence"
)

func TestPostgresTokenStoreContract(t *testing.T) {
	dsn := os.Getenv("BROKERAUTH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BROKERAUTH_TEST_POSTGRES_DSN not set")
	}

	runTokenStoreContract(t, func(t *testing.T, clock *fakeClock) (TokenStore, func(time.Duration)) {
		table := fmt.Sprintf("broker_tokens_test_%d", time.Now().UnixNano())
		store := NewPostgresTokenStore(persistence.PostgresOptions{DSN: dsn, MaxConns: 2}, table, nil)
		store.now = clock.Now
		t.Cleanup(func() {
			store.Close()
			ctx := context.Background()
			db, err := persistence.NewPostgres(ctx, persistence.PostgresOptions{DSN: dsn}, zap.NewNop())
			if err != nil {
				return
			}
			defer db.Close()
			_, _ = db.Pool.Exec(ctx, "DROP TABLE IF EXISTS "+store.ident)
		})
		return store, clock.Advance
	})
}
