package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port string `validate:"required"`
}

type PostgresConfig struct {
	Host            string `validate:"required"`
	Port            string `validate:"required"`
	User            string `validate:"required"`
	Password        string `validate:"required"`
	DBName          string `validate:"required"`
	SSLMode         string `validate:"required"`
	MigrationsPath  string `validate:"required"`
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type StripeConfig struct {
	APIKey        string `validate:"required"`
	WebhookSecret string `validate:"required"`
}

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Stripe   StripeConfig
}

// NewConfig reads configuration from the environment, loading a .env file
// first when one exists.
func NewConfig() (*Config, error) {
	// Missing .env is fine: in containers everything comes from the real
	// environment.
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Port: envOrDefault("APP_PORT", "8080"),
		},
		Postgres: PostgresConfig{
			Host:            os.Getenv("DB_HOST"),
			Port:            envOrDefault("DB_PORT", "5432"),
			User:            os.Getenv("DB_USER"),
			Password:        os.Getenv("DB_PASSWORD"),
			DBName:          os.Getenv("DB_NAME"),
			SSLMode:         envOrDefault("DB_SSLMODE", "disable"),
			MigrationsPath:  envOrDefault("DB_MIGRATIONS_PATH", "migrations"),
			MaxConns:        int32(envIntOrDefault("DB_MAX_CONNS", 10)),
			MinConns:        int32(envIntOrDefault("DB_MIN_CONNS", 2)),
			MaxConnLifetime: envDurationOrDefault("DB_MAX_CONN_LIFETIME", 30*time.Minute),
		},
		Stripe: StripeConfig{
			APIKey:        os.Getenv("STRIPE_API_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
