package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the application.
type Config struct {
	AppPort int

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	RedisHost     string
	RedisPort     int
	RedisPassword string

	EnableAuditLogging bool
}

// LoadConfig reads .env when present, then the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppPort:            envInt("APP_PORT", 8080),
		PostgresHost:       envStr("POSTGRES_HOST", "localhost"),
		PostgresPort:       envInt("POSTGRES_PORT", 5432),
		PostgresUser:       envStr("POSTGRES_USER", "gtmi_user"),
		PostgresPassword:   os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:         envStr("POSTGRES_DB", "gtmi_db"),
		RedisHost:          envStr("REDIS_HOST", "localhost"),
		RedisPort:          envInt("REDIS_PORT", 6379),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		EnableAuditLogging: envBool("ENABLE_AUDIT_LOGGING", true),
	}

	if cfg.PostgresPassword == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
