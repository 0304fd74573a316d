package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Broker   BrokerConfig
	Storage  StorageConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Operator OperatorConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// BrokerConfig describes how to reach the remote brokerage API.
type BrokerConfig struct {
	// Username is the brokerage identity resumed from the token store on start.
	Username         string
	BaseURL          string
	TimeoutSeconds   int
	MaxRetries       int
	RetryDelayMillis int
	// TokenPath and TradingTokenPath are JSONPath expressions locating the
	// tokens in the login and OTP exchange responses.
	TokenPath        string
	TradingTokenPath string
}

// StorageConfig selects a token storage backend and its connection parameters.
type StorageConfig struct {
	Backend string            `yaml:"backend"`
	Params  map[string]string `yaml:"params"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	// Format is "json" or "console".
	Format string
	// Output is a zap sink such as "stdout", "stderr" or a file path.
	Output string
}

// OutputOrDefault returns the configured sink, stdout when unset.
func (l LoggerConfig) OutputOrDefault() string {
	if l.Output == "" {
		return "stdout"
	}
	return l.Output
}

// AuthConfig defines token lifecycle parameters.
type AuthConfig struct {
	TokenExpiryHours        int
	RefreshThresholdMinutes int
	// PersistenceOptional keeps a session alive in memory when the store rejects a write.
	PersistenceOptional bool
}

// OperatorConfig protects the HTTP control surface.
type OperatorConfig struct {
	Username              string
	PasswordHash          string
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	storage, err := loadStorage()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "brokerauth"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Broker: BrokerConfig{
			Username:         os.Getenv("BROKER_USERNAME"),
			BaseURL:          getEnv("BROKER_BASE_URL", "https://api.dnse.com.vn"),
			TimeoutSeconds:   getEnvAsInt("BROKER_TIMEOUT_SECONDS", 30),
			MaxRetries:       getEnvAsInt("BROKER_MAX_RETRIES", 3),
			RetryDelayMillis: getEnvAsInt("BROKER_RETRY_DELAY_MILLIS", 1000),
			TokenPath:        getEnv("BROKER_TOKEN_PATH", "$.token"),
			TradingTokenPath: getEnv("BROKER_TRADING_TOKEN_PATH", "$.tradingToken"),
		},
		Storage: storage,
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		Auth: AuthConfig{
			TokenExpiryHours:        getEnvAsInt("AUTH_TOKEN_EXPIRY_HOURS", 7),
			RefreshThresholdMinutes: getEnvAsInt("AUTH_REFRESH_THRESHOLD_MINUTES", 30),
			PersistenceOptional:     getEnvAsBool("AUTH_PERSISTENCE_OPTIONAL", false),
		},
		Operator: OperatorConfig{
			Username:              getEnv("OPERATOR_USERNAME", "operator"),
			PasswordHash:          os.Getenv("OPERATOR_PASSWORD_HASH"),
			JWTSecret:             getEnv("OPERATOR_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("OPERATOR_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
	}

	return cfg, nil
}

func loadStorage() (StorageConfig, error) {
	storage := StorageConfig{
		Backend: getEnv("STORAGE_BACKEND", "file"),
		Params:  map[string]string{},
	}
	setParam(storage.Params, "path", "STORAGE_FILE_PATH")
	setParam(storage.Params, "addr", "REDIS_ADDR")
	setParam(storage.Params, "password", "REDIS_PASSWORD")
	setParam(storage.Params, "db", "REDIS_DB")
	setParam(storage.Params, "key_prefix", "STORAGE_KEY_PREFIX")
	setParam(storage.Params, "dsn", "POSTGRES_DSN")
	setParam(storage.Params, "table", "STORAGE_TABLE")
	setParam(storage.Params, "max_conns", "POSTGRES_MAX_CONNS")

	if path := os.Getenv("STORAGE_CONFIG_FILE"); path != "" {
		overlay, err := LoadStorageFile(path)
		if err != nil {
			return StorageConfig{}, err
		}
		storage = storage.Merge(overlay)
	}

	if db, ok := storage.Params["db"]; ok {
		if _, err := strconv.Atoi(db); err != nil {
			return StorageConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
	}
	return storage, nil
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// Timeout returns the per-request timeout for brokerage calls.
func (b BrokerConfig) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// RetryDelay returns the base backoff delay between transport retries.
func (b BrokerConfig) RetryDelay() time.Duration {
	if b.RetryDelayMillis <= 0 {
		return 0
	}
	return time.Duration(b.RetryDelayMillis) * time.Millisecond
}

// TokenExpiry returns how long a base token is trusted after login.
func (a AuthConfig) TokenExpiry() time.Duration {
	if a.TokenExpiryHours <= 0 {
		return 0
	}
	return time.Duration(a.TokenExpiryHours) * time.Hour
}

// RefreshThreshold returns the default window used by NeedsRefresh.
func (a AuthConfig) RefreshThreshold() time.Duration {
	if a.RefreshThresholdMinutes <= 0 {
		return 0
	}
	return time.Duration(a.RefreshThresholdMinutes) * time.Minute
}

func setParam(params map[string]string, name, key string) {
	if val := os.Getenv(key); val != "" {
		params[name] = val
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
