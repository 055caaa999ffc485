package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type EconomyConfig struct {
	InitialCoins                int64
	IdempotencyKeyRetentionDays int
	RakePercent                 int
}

type SessionConfig struct {
	ReconnectionGracePeriod time.Duration
	MaxConnectionsPerUser   int
}

type RateLimitConfig struct {
	MessagesPerMinute int
}

type GameLoopConfig struct {
	TickInterval      time.Duration
	DefaultTurnTimeout time.Duration
}

type SecurityConfig struct {
	RequireHTTPSInProduction bool
	MinimumAPIKeyLength      int
	EnforceAPIKeyValidation  bool
	AdminAPIKey              string
}

type Config struct {
	AppPort     string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	Economy   EconomyConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	GameLoop  GameLoopConfig
	Security  SecurityConfig
}

func Load() *Config {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	return &Config{
		AppPort:     port,
		DatabaseURL: dbURL,
		RedisURL:    redisURL,
		JWTSecret:   jwtSecret,

		Economy: EconomyConfig{
			InitialCoins:                envInt64("ECONOMY_INITIAL_COINS", 100),
			IdempotencyKeyRetentionDays: envInt("ECONOMY_IDEMPOTENCY_RETENTION_DAYS", 7),
			RakePercent:                 envInt("ECONOMY_RAKE_PERCENT", 3),
		},
		Session: SessionConfig{
			ReconnectionGracePeriod: envSeconds("SESSION_RECONNECT_GRACE_SECONDS", 30),
			MaxConnectionsPerUser:   envInt("SESSION_MAX_CONNECTIONS_PER_USER", 3),
		},
		RateLimit: RateLimitConfig{
			MessagesPerMinute: envInt("RATE_LIMIT_MESSAGES_PER_MINUTE", 60),
		},
		GameLoop: GameLoopConfig{
			TickInterval:       envMillis("GAME_LOOP_TICK_INTERVAL_MS", 5000),
			DefaultTurnTimeout: envSeconds("GAME_LOOP_TURN_TIMEOUT_SECONDS", 30),
		},
		Security: SecurityConfig{
			RequireHTTPSInProduction: envBool("SECURITY_REQUIRE_HTTPS_IN_PRODUCTION", false),
			MinimumAPIKeyLength:      envInt("SECURITY_MINIMUM_API_KEY_LENGTH", 32),
			EnforceAPIKeyValidation:  envBool("SECURITY_ENFORCE_API_KEY_VALIDATION", false),
			AdminAPIKey:              os.Getenv("ADMIN_API_KEY"),
		},
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

func envSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(envInt(key, fallbackSeconds)) * time.Second
}

func envMillis(key string, fallbackMillis int) time.Duration {
	return time.Duration(envInt(key, fallbackMillis)) * time.Millisecond
}
