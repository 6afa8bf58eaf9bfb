package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Backend     BackendConfig
	Session     SessionConfig
	Sync        SyncConfig
	Redis       RedisConfig
	Database    DatabaseConfig
	Log         LogConfig
}

// ServerConfig - локальный API для UI
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	APIToken     string // пусто - локальный API без авторизации
}

type BackendConfig struct {
	BaseURL        string // REST API бэкенда
	PushURL        string // websocket push-канал
	EnrichmentURL  string // API профилей, по умолчанию совпадает с BaseURL
	Token          string
	RequestTimeout time.Duration
}

type SessionConfig struct {
	UserID string // если пусто - берется из claims токена
}

type SyncConfig struct {
	SendTimeout      time.Duration
	TypingTTL        time.Duration
	TypingThrottle   time.Duration
	MatchWindow      time.Duration
	PageLimit        int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	TestMarker       string
	EventBufferSize  int
}

type RedisConfig struct {
	Addr       string // пусто - кэш профилей в памяти
	Password   string
	DB         int
	ProfileTTL time.Duration
}

type DatabaseConfig struct {
	DSN            string // пусто - журнал синхронизации отключен
	MaxConnections int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Загрузка .env файла (если существует)
	_ = godotenv.Load()

	baseURL := strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:5000/api"), "/")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8090),
			Host:         getEnv("SERVER_HOST", "127.0.0.1"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			APIToken:     getEnv("LOCAL_API_TOKEN", ""),
		},
		Backend: BackendConfig{
			BaseURL:        baseURL,
			PushURL:        getEnv("PUSH_URL", "ws://localhost:5000/ws"),
			EnrichmentURL:  strings.TrimRight(getEnv("ENRICHMENT_URL", baseURL), "/"),
			Token:          getEnv("BACKEND_TOKEN", ""),
			RequestTimeout: getEnvAsDuration("BACKEND_REQUEST_TIMEOUT", 10*time.Second),
		},
		Session: SessionConfig{
			UserID: getEnv("SESSION_USER_ID", ""),
		},
		Sync: SyncConfig{
			SendTimeout:      getEnvAsDuration("SYNC_SEND_TIMEOUT", 15*time.Second),
			TypingTTL:        getEnvAsDuration("SYNC_TYPING_TTL", 3*time.Second),
			TypingThrottle:   getEnvAsDuration("SYNC_TYPING_THROTTLE", 2*time.Second),
			MatchWindow:      getEnvAsDuration("SYNC_MATCH_WINDOW", 60*time.Second),
			PageLimit:        getEnvAsInt("SYNC_PAGE_LIMIT", 30),
			RetryMaxAttempts: getEnvAsInt("SYNC_RETRY_MAX_ATTEMPTS", 5),
			RetryBaseDelay:   getEnvAsDuration("SYNC_RETRY_BASE_DELAY", 500*time.Millisecond),
			RetryMaxDelay:    getEnvAsDuration("SYNC_RETRY_MAX_DELAY", 30*time.Second),
			TestMarker:       getEnv("SYNC_TEST_MARKER", "[seed]"),
			EventBufferSize:  getEnvAsInt("SYNC_EVENT_BUFFER_SIZE", 64),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", ""),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvAsInt("REDIS_DB", 0),
			ProfileTTL: getEnvAsDuration("REDIS_PROFILE_TTL", 24*time.Hour),
		},
		Database: DatabaseConfig{
			DSN:            getEnv("DATABASE_DSN", ""),
			MaxConnections: getEnvAsInt("DATABASE_MAX_CONNECTIONS", 4),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Backend.BaseURL == "" || c.Backend.PushURL == "" {
		return fmt.Errorf("backend and push URLs must be set")
	}
	if c.Backend.Token == "" && c.Session.UserID == "" {
		return fmt.Errorf("BACKEND_TOKEN or SESSION_USER_ID must be set")
	}
	if c.Sync.MatchWindow <= 0 {
		return fmt.Errorf("SYNC_MATCH_WINDOW must be positive")
	}
	if c.Sync.TypingTTL <= 0 {
		return fmt.Errorf("SYNC_TYPING_TTL must be positive")
	}
	if c.Sync.SendTimeout <= 0 {
		return fmt.Errorf("SYNC_SEND_TIMEOUT must be positive")
	}
	if c.Sync.PageLimit <= 0 || c.Sync.PageLimit > 100 {
		c.Sync.PageLimit = 30
	}
	if c.Sync.RetryMaxAttempts < 1 {
		c.Sync.RetryMaxAttempts = 1
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
