package repository

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/brokerauth/internal/persistence"
)

// Backend names accepted by NewTokenStore.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// NewTokenStore builds the backend named by backend from its connection
// parameters. No connection is opened until the store is first used.
//
// Recognised parameters: path (file); addr, password, db, key_prefix (redis);
// dsn, table, max_conns (postgres).
func NewTokenStore(backend string, params map[string]string, logger *zap.Logger) (TokenStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if params == nil {
		params = map[string]string{}
	}

	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile, "local":
		return NewFileTokenStore(params["path"], logger), nil
	case BackendMemory:
		return NewFileTokenStore("", logger), nil
	case BackendRedis:
		db := 0
		if raw := params["db"]; raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				return nil, fmt.Errorf("redis storage: invalid db %q", raw)
			}
			db = parsed
		}
		addr := params["addr"]
		if addr == "" {
			addr = "127.0.0.1:6379"
		}
		return NewRedisTokenStore(persistence.RedisOptions{
			Addr:        addr,
			Password:    params["password"],
			DB:          db,
			DialTimeout: 5 * time.Second,
			ReadTimeout: 3 * time.Second,
		}, params["key_prefix"], logger), nil
	case BackendPostgres, "sql":
		dsn := params["dsn"]
		if dsn == "" {
			return nil, fmt.Errorf("postgres storage: dsn is required")
		}
		table := params["table"]
		if table == "" {
			table = DefaultTokenTable
		}
		if !tableNamePattern.MatchString(table) {
			return nil, fmt.Errorf("postgres storage: invalid table name %q", table)
		}
		opts := persistence.PostgresOptions{
			DSN:         dsn,
			MaxConns:    4,
			ConnMaxIdle: 30 * time.Second,
			ConnMaxLife: 5 * time.Minute,
		}
		if raw := params["max_conns"]; raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				return nil, fmt.Errorf("postgres storage: invalid max_conns %q", raw)
			}
			opts.MaxConns = int32(parsed)
		}
		return NewPostgresTokenStore(opts, table, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
