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
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Messaging MessagingConfig
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

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines identity-token parameters. Token issuance belongs to the
// external session collaborator; this service only verifies.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// MessagingConfig tunes the messaging core: send retries, reconnect backoff,
// presence expiry, and history paging.
type MessagingConfig struct {
	HistoryPageSize          int
	SendMaxAttempts          int
	SendBackoffMS            int
	SendBackoffMaxMS         int
	ReconnectBackoffMS       int
	ReconnectBackoffMaxMS    int
	AppendTimeoutSeconds     int
	TypingTTLSeconds         int
	HeartbeatIntervalSeconds int
	HeartbeatTimeoutSeconds  int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "case-messaging"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Messaging: MessagingConfig{
			HistoryPageSize:          getEnvAsInt("MSG_HISTORY_PAGE_SIZE", 50),
			SendMaxAttempts:          getEnvAsInt("MSG_SEND_MAX_ATTEMPTS", 4),
			SendBackoffMS:            getEnvAsInt("MSG_SEND_BACKOFF_MS", 250),
			SendBackoffMaxMS:         getEnvAsInt("MSG_SEND_BACKOFF_MAX_MS", 5000),
			ReconnectBackoffMS:       getEnvAsInt("MSG_RECONNECT_BACKOFF_MS", 500),
			ReconnectBackoffMaxMS:    getEnvAsInt("MSG_RECONNECT_BACKOFF_MAX_MS", 15000),
			AppendTimeoutSeconds:     getEnvAsInt("MSG_APPEND_TIMEOUT_SECONDS", 10),
			TypingTTLSeconds:         getEnvAsInt("MSG_TYPING_TTL_SECONDS", 6),
			HeartbeatIntervalSeconds: getEnvAsInt("MSG_HEARTBEAT_INTERVAL_SECONDS", 15),
			HeartbeatTimeoutSeconds:  getEnvAsInt("MSG_HEARTBEAT_TIMEOUT_SECONDS", 45),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// SendBackoff returns base/cap durations for send retries.
func (m MessagingConfig) SendBackoff() (time.Duration, time.Duration) {
	return time.Duration(m.SendBackoffMS) * time.Millisecond,
		time.Duration(m.SendBackoffMaxMS) * time.Millisecond
}

// ReconnectBackoff returns base/cap durations for resubscription attempts.
func (m MessagingConfig) ReconnectBackoff() (time.Duration, time.Duration) {
	return time.Duration(m.ReconnectBackoffMS) * time.Millisecond,
		time.Duration(m.ReconnectBackoffMaxMS) * time.Millisecond
}

// AppendTimeout bounds a single append round-trip to the store.
func (m MessagingConfig) AppendTimeout() time.Duration {
	return time.Duration(m.AppendTimeoutSeconds) * time.Second
}

// TypingTTL is how long a typing indicator survives without refresh.
func (m MessagingConfig) TypingTTL() time.Duration {
	return time.Duration(m.TypingTTLSeconds) * time.Second
}

// HeartbeatInterval is how often an open view re-announces its presence.
func (m MessagingConfig) HeartbeatInterval() time.Duration {
	return time.Duration(m.HeartbeatIntervalSeconds) * time.Second
}

// HeartbeatTimeout is how long after the last peer announcement the peer is
// considered offline.
func (m MessagingConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(m.HeartbeatTimeoutSeconds) * time.Second
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
