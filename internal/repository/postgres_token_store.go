package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spec-kit/brokerauth/internal/domain"
	"github.com/spec-kit/brokerauth/internal/persistence"
	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// DefaultTokenTable is the table used when none is configured.
const DefaultTokenTable = "broker_tokens"

// PostgresTokenStore keeps one row per username. Expired rows are filtered by the
// query predicate and the table is created on first use.
type PostgresTokenStore struct {
	opts   persistence.PostgresOptions
	table  string
	ident  string
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	db          *persistence.Postgres
	schemaReady bool
	closed      bool
}

// NewPostgresTokenStore returns a store that connects on first use.
func NewPostgresTokenStore(opts persistence.PostgresOptions, table string, logger *zap.Logger) *PostgresTokenStore {
	if table == "" {
		table = DefaultTokenTable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresTokenStore{
		opts:   opts,
		table:  table,
		ident:  pgx.Identifier{table}.Sanitize(),
		logger: logger.With(zap.String("store", "postgres"), zap.String("table", table)),
		now:    time.Now,
	}
}

func (s *PostgresTokenStore) pool(ctx context.Context) (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, closedError()
	}
	if s.db == nil {
		db, err := persistence.NewPostgres(ctx, s.opts, s.logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.db = db
	}
	if !s.schemaReady {
		if err := persistence.EnsureTokenSchema(ctx, s.db.PoolHandle(), s.table, s.logger); err != nil {
			return nil, err
		}
		s.schemaReady = true
	}
	return s.db.PoolHandle(), nil
}

func (s *PostgresTokenStore) Save(ctx context.Context, username string, record *domain.TokenRecord) error {
	if err := checkRecord(username, record); err != nil {
		return err
	}
	data, err := encodeRecord(record)
	if err != nil {
		return apperrors.NewStorageWriteError(err)
	}
	pool, err := s.pool(ctx)
	if err != nil {
		if errors.Is(err, ErrStoreClosed) {
			return err
		}
		return apperrors.NewStorageWriteError(err)
	}

	if !record.IsValidAt(s.now()) {
		return s.deleteWith(ctx, pool, username)
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (username, payload, created_at, expires_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (username) DO UPDATE
        SET payload=EXCLUDED.payload, created_at=EXCLUDED.created_at,
            expires_at=EXCLUDED.expires_at, updated_at=NOW()`, s.ident)
	if _, err := pool.Exec(ctx, query,
		username,
		string(data),
		record.CreatedAt,
		record.ExpiresAt,
	); err != nil {
		return apperrors.NewStorageWriteError(fmt.Errorf("upsert token %s: %w", username, err))
	}
	return nil
}

func (s *PostgresTokenStore) Load(ctx context.Context, username string) (*domain.TokenRecord, error) {
	pool, err := s.pool(ctx)
	if err != nil {
		if errors.Is(err, ErrStoreClosed) {
			return nil, err
		}
		s.logger.Warn("postgres unavailable; treating as cache miss", zap.Error(err))
		return nil, nil
	}

	now := s.now()
	query := fmt.Sprintf(`
        SELECT payload FROM %s
        WHERE username=$1 AND (expires_at IS NULL OR expires_at > $2)`, s.ident)
	var payload []byte
	if err := pool.QueryRow(ctx, query, username, now).Scan(&payload); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn("postgres read failed; treating as cache miss", zap.String("username", username), zap.Error(err))
		}
		return nil, nil
	}

	record, err := decodeRecord(payload)
	if err != nil {
		s.logger.Warn("token record unreadable; treating as cache miss", zap.String("username", username), zap.Error(err))
		return nil, nil
	}
	if !usable(record, username, now) {
		return nil, nil
	}
	return record, nil
}

func (s *PostgresTokenStore) Delete(ctx context.Context, username string) error {
	pool, err := s.pool(ctx)
	if err != nil {
		if errors.Is(err, ErrStoreClosed) {
			return err
		}
		return apperrors.NewStorageWriteError(err)
	}
	return s.deleteWith(ctx, pool, username)
}

func (s *PostgresTokenStore) deleteWith(ctx context.Context, pool *pgxpool.Pool, username string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE username=$1`, s.ident)
	if _, err := pool.Exec(ctx, query, username); err != nil {
		return apperrors.NewStorageWriteError(fmt.Errorf("delete token %s: %w", username, err))
	}
	return nil
}

// Close releases the pool. It is safe to call more than once.
func (s *PostgresTokenStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.db.Close()
	s.db = nil
	return nil
}

func (s *PostgresTokenStore) Ping(ctx context.Context) error {
	pool, err := s.pool(ctx)
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}
