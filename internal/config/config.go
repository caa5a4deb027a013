package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the store service and the console.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Push     PushConfig
	Console  ConsoleConfig
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

// PostgresConfig holds the record store connection. An empty DSN leaves the
// store without a database, which only the health probe tolerates.
type PostgresConfig struct {
	DSN           string
	MaxConns      int32
	MinConns      int32
	ConnMaxIdle   time.Duration
	ConnMaxLife   time.Duration
	RunMigrations bool
	MigrationsDir string
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string
	Development bool
	// Output is a zap sink path such as "stdout", "stderr" or a file.
	Output string
}

// AuthConfig defines token verification parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// PushConfig configures the WebSocket hub and the event channel behind it.
type PushConfig struct {
	Addr        string
	Channel     string
	PingSeconds int
}

// ConsoleConfig configures a console session.
type ConsoleConfig struct {
	APIURL         string
	PushURL        string
	Token          string
	CacheGC        time.Duration
	FetchTimeout   time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	RequestTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-store"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:           os.Getenv("POSTGRES_DSN"),
			MaxConns:      int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:      int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			ConnMaxIdle:   getEnvAsDuration("POSTGRES_CONN_MAX_IDLE_SECONDS", time.Second, 30*time.Second),
			ConnMaxLife:   getEnvAsDuration("POSTGRES_CONN_MAX_LIFE_SECONDS", time.Second, 5*time.Minute),
			RunMigrations: getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir: getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
			Output:      getEnv("LOG_OUTPUT", "stdout"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Push: PushConfig{
			Addr:        getEnv("PUSH_ADDR", "0.0.0.0:8081"),
			Channel:     getEnv("PUSH_CHANNEL", "helpdesk:events"),
			PingSeconds: getEnvAsInt("PUSH_PING_SECONDS", 30),
		},
		Console: ConsoleConfig{
			APIURL:         getEnv("CONSOLE_API_URL", "http://127.0.0.1:8080/api/v1"),
			PushURL:        getEnv("CONSOLE_PUSH_URL", "ws://127.0.0.1:8081/ws"),
			Token:          os.Getenv("CONSOLE_TOKEN"),
			CacheGC:        getEnvAsDuration("CONSOLE_CACHE_GC_SECONDS", time.Second, 30*time.Second),
			FetchTimeout:   getEnvAsDuration("CONSOLE_FETCH_TIMEOUT_SECONDS", time.Second, 15*time.Second),
			ReconnectMin:   getEnvAsDuration("CONSOLE_RECONNECT_MIN_MS", time.Millisecond, 500*time.Millisecond),
			ReconnectMax:   getEnvAsDuration("CONSOLE_RECONNECT_MAX_MS", time.Millisecond, 30*time.Second),
			RequestTimeout: getEnvAsDuration("CONSOLE_REQUEST_TIMEOUT_SECONDS", time.Second, 20*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Console.ReconnectMax < c.Console.ReconnectMin {
		return fmt.Errorf("CONSOLE_RECONNECT_MAX_MS must not be below CONSOLE_RECONNECT_MIN_MS")
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("POSTGRES_MIN_CONNS (%d) exceeds POSTGRES_MAX_CONNS (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	return nil
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

// AccessTokenTTL returns the lifetime of issued tokens.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// PingInterval returns how often the hub pings sessions.
func (p PushConfig) PingInterval() time.Duration {
	if p.PingSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.PingSeconds) * time.Second
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

// getEnvAsDuration reads an integer count of unit.
func getEnvAsDuration(key string, unit, fallback time.Duration) time.Duration {
	n := getEnvAsInt(key, -1)
	if n < 0 {
		return fallback
	}
	return time.Duration(n) * unit
}
