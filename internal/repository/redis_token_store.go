package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/brokerauth/internal/domain"
	"github.com/spec-kit/brokerauth/internal/persistence"
	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// DefaultRedisKeyPrefix namespaces token keys.
const DefaultRedisKeyPrefix = "brokerauth:token:"

// RedisTokenStore stores each record under its own key with a TTL matching the
// record expiry. Loads still check the expiry themselves, so a key whose TTL was
// reset or a skewed server clock never revives an expired record.
type RedisTokenStore struct {
	opts   persistence.RedisOptions
	prefix string
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	conn   *persistence.Redis
	closed bool
}

// NewRedisTokenStore returns a store that connects on first use.
func NewRedisTokenStore(opts persistence.RedisOptions, prefix string, logger *zap.Logger) *RedisTokenStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTokenStore{
		opts:   opts,
		prefix: prefix,
		logger: logger.With(zap.String("store", "redis")),
		now:    time.Now,
	}
}

func (s *RedisTokenStore) key(username string) string {
	return s.prefix + username
}

func (s *RedisTokenStore) client(ctx context.Context) (*redis.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, closedError()
	}
	if s.conn == nil {
		s.conn = persistence.NewRedis(ctx, s.opts, s.logger)
	}
	return s.conn.Client, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, username string, record *domain.TokenRecord) error {
	if err := checkRecord(username, record); err != nil {
		return err
	}
	data, err := encodeRecord(record)
	if err != nil {
		return apperrors.NewStorageWriteError(err)
	}
	client, err := s.client(ctx)
	if err != nil {
		return err
	}

	key := s.key(username)
	var ttl time.Duration
	if record.ExpiresAt != nil {
		ttl = record.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			if err := client.Del(ctx, key).Err(); err != nil {
				return apperrors.NewStorageWriteError(fmt.Errorf("redis del %s: %w", key, err))
			}
			return nil
		}
	}

	if err := client.Set(ctx, key, data, ttl).Err(); err != nil {
		return apperrors.NewStorageWriteError(fmt.Errorf("redis set %s: %w", key, err))
	}
	return nil
}

func (s *RedisTokenStore) Load(ctx context.Context, username string) (*domain.TokenRecord, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	data, err := client.Get(ctx, s.key(username)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("redis read failed; treating as cache miss", zap.String("username", username), zap.Error(err))
		}
		return nil, nil
	}

	record, err := decodeRecord(data)
	if err != nil {
		s.logger.Warn("token record unreadable; treating as cache miss", zap.String("username", username), zap.Error(err))
		return nil, nil
	}
	if !usable(record, username, s.now()) {
		return nil, nil
	}
	return record, nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, username string) error {
	client, err := s.client(ctx)
	if err != nil {
		return err
	}
	if err := client.Del(ctx, s.key(username)).Err(); err != nil {
		return apperrors.NewStorageWriteError(fmt.Errorf("redis del %s: %w", s.key(username), err))
	}
	return nil
}

// Close releases the client. It is safe to call more than once.
func (s *RedisTokenStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *RedisTokenStore) Ping(ctx context.Context) error {
	if _, err := s.client(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	return conn.Ping(ctx)
}
