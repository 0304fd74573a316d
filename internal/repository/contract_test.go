package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/spec-kit/brokerauth/internal/domain"
	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// openStore returns a fresh store whose notion of "now" follows clock, and a hook
// that moves the backend's own clock forward when it has one.
type openStore func(t *testing.T, clock *fakeClock) (TokenStore, func(time.Duration))

func fullRecord(clock *fakeClock, username string) *domain.TokenRecord {
	record := domain.NewTokenRecord(username, "base-"+username, clock.Now(), 7*time.Hour)
	if err := record.AttachTradingToken("trading-" + username); err != nil {
		panic(err)
	}
	return record
}

func runTokenStoreContract(t *testing.T, open openStore) {
	ctx := context.Background()

	t.Run("load missing is absent", func(t *testing.T) {
		store, _ := open(t, newFakeClock())
		got, err := store.Load(ctx, "nobody")
		if err != nil || got != nil {
			t.Fatalf("expected absent, got %v, %v", got, err)
		}
	})

	t.Run("save then load round trips", func(t *testing.T) {
		clock := newFakeClock()
		store, _ := open(t, clock)
		for _, record := range []*domain.TokenRecord{
			fullRecord(clock, "alice"),
			domain.NewTokenRecord("bob", "base-bob", clock.Now(), time.Hour),
			domain.NewTokenRecord("carol", "base-carol", clock.Now(), 0),
		} {
			if err := store.Save(ctx, record.Username, record); err != nil {
				t.Fatalf("save %s: %v", record.Username, err)
			}
			got, err := store.Load(ctx, record.Username)
			if err != nil {
				t.Fatalf("load %s: %v", record.Username, err)
			}
			if diff := cmp.Diff(record, got); diff != "" {
				t.Fatalf("record mismatch for %s (-want +got):\n%s", record.Username, diff)
			}
		}
	})

	t.Run("save overwrites without merge", func(t *testing.T) {
		clock := newFakeClock()
		store, _ := open(t, clock)
		if err := store.Save(ctx, "alice", fullRecord(clock, "alice")); err != nil {
			t.Fatalf("save full: %v", err)
		}
		baseOnly := domain.NewTokenRecord("alice", "fresh-base", clock.Now(), time.Hour)
		if err := store.Save(ctx, "alice", baseOnly); err != nil {
			t.Fatalf("save base: %v", err)
		}
		got, err := store.Load(ctx, "alice")
		if err != nil || got == nil {
			t.Fatalf("load: %v, %v", got, err)
		}
		if got.TradingToken != "" || got.Token != "fresh-base" {
			t.Fatalf("expected overwrite, got %+v", got)
		}
	})

	t.Run("expired record is absent", func(t *testing.T) {
		clock := newFakeClock()
		store, advance := open(t, clock)
		record := domain.NewTokenRecord("alice", "base", clock.Now(), time.Minute)
		if err := store.Save(ctx, "alice", record); err != nil {
			t.Fatalf("save: %v", err)
		}
		clock.Advance(time.Minute)
		got, err := store.Load(ctx, "alice")
		if err != nil || got != nil {
			t.Fatalf("expected expired record to be absent at the boundary, got %v, %v", got, err)
		}
		advance(2 * time.Minute)
		got, err = store.Load(ctx, "alice")
		if err != nil || got != nil {
			t.Fatalf("expected expired record to stay absent, got %v, %v", got, err)
		}
	})

	t.Run("saving an expired record leaves nothing", func(t *testing.T) {
		clock := newFakeClock()
		store, _ := open(t, clock)
		if err := store.Save(ctx, "alice", fullRecord(clock, "alice")); err != nil {
			t.Fatalf("save: %v", err)
		}
		stale := domain.NewTokenRecord("alice", "base", clock.Now().Add(-2*time.Hour), time.Hour)
		if err := store.Save(ctx, "alice", stale); err != nil {
			t.Fatalf("save stale: %v", err)
		}
		got, err := store.Load(ctx, "alice")
		if err != nil || got != nil {
			t.Fatalf("expected absent, got %v, %v", got, err)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		clock := newFakeClock()
		store, _ := open(t, clock)
		if err := store.Save(ctx, "alice", fullRecord(clock, "alice")); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := store.Save(ctx, "bob", fullRecord(clock, "bob")); err != nil {
			t.Fatalf("save: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := store.Delete(ctx, "alice"); err != nil {
				t.Fatalf("delete #%d: %v", i+1, err)
			}
		}
		if err := store.Delete(ctx, "never-saved"); err != nil {
			t.Fatalf("delete missing: %v", err)
		}
		if got, _ := store.Load(ctx, "alice"); got != nil {
			t.Fatalf("expected alice absent after delete, got %+v", got)
		}
		if got, _ := store.Load(ctx, "bob"); got == nil {
			t.Fatalf("delete must not touch other usernames")
		}
	})

	t.Run("invalid records are rejected", func(t *testing.T) {
		clock := newFakeClock()
		store, _ := open(t, clock)
		if err := store.Save(ctx, "alice", fullRecord(clock, "bob")); !apperrors.IsCode(err, apperrors.CodeValidation) {
			t.Fatalf("expected validation error for foreign record, got %v", err)
		}
		broken := &domain.TokenRecord{Username: "alice", TradingToken: "tt", CreatedAt: clock.Now()}
		if err := store.Save(ctx, "alice", broken); !apperrors.IsCode(err, apperrors.CodeValidation) {
			t.Fatalf("expected validation error for trading token without base, got %v", err)
		}
	})

	t.Run("operations after close fail distinctly", func(t *testing.T) {
		clock := newFakeClock()
		store, _ := open(t, clock)
		if err := store.Save(ctx, "alice", fullRecord(clock, "alice")); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("second close: %v", err)
		}
		if _, err := store.Load(ctx, "alice"); !errors.Is(err, ErrStoreClosed) {
			t.Fatalf("load after close: expected ErrStoreClosed, got %v", err)
		}
		if err := store.Save(ctx, "alice", fullRecord(clock, "alice")); !errors.Is(err, ErrStoreClosed) {
			t.Fatalf("save after close: expected ErrStoreClosed, got %v", err)
		}
		if err := store.Delete(ctx, "alice"); !errors.Is(err, ErrStoreClosed) {
			t.Fatalf("delete after close: expected ErrStoreClosed, got %v", err)
		}
		if err := store.Delete(ctx, "alice"); !apperrors.IsCode(err, apperrors.CodeStorageClosed) {
			t.Fatalf("expected storage closed code, got %v", err)
		}
	})
}
