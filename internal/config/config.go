package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	ServerPort      string
	RedisURL        string
	RedisKeyPrefix  string
	RateLimitRedis  string
	DatabaseURL     string
	JWTSecret       string
	AdminSecret     string
	StoreBackend    string
	ModelConfigFile string
	ProvidersFile   string
	ProxiesFile     string
	WebhookURL      string
	StreamBilling   string
	ModelsOwnedBy   string
	AuditQueueSize  int
}

func Load() (*Config, error) {
	godotenv.Load()

	queueSize, err := strconv.Atoi(getEnv("AUDIT_QUEUE_SIZE", "256"))
	if err != nil || queueSize <= 0 {
		return nil, fmt.Errorf("AUDIT_QUEUE_SIZE must be a positive integer")
	}

	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisKeyPrefix:  getEnv("REDIS_KEY_PREFIX", ""),
		RateLimitRedis:  getEnv("RATELIMIT_REDIS_URL", ""),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		JWTSecret:       getEnv("JWT_SECRET", "secret"),
		AdminSecret:     getEnv("ADMIN_SECRET", ""),
		StoreBackend:    getEnv("STORE_BACKEND", BackendRedis),
		ModelConfigFile: getEnv("MODEL_CONFIG_FILE", "model_multipliers.json"),
		ProvidersFile:   getEnv("PROVIDERS_FILE", "providers.yaml"),
		ProxiesFile:     getEnv("PROXIES_FILE", ""),
		WebhookURL:      getEnv("DISCORD_WEBHOOK_URL", ""),
		StreamBilling:   getEnv("STREAM_BILLING", "per_chunk"),
		ModelsOwnedBy:   getEnv("MODELS_OWNED_BY", "G4F.PRO"),
		AuditQueueSize:  queueSize,
	}

	switch cfg.StoreBackend {
	case BackendRedis, BackendMemory:
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendRedis, BackendMemory, cfg.StoreBackend)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}
