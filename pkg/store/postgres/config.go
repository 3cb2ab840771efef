package postgres

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadConfigFromEnv loads postgres store configuration from environment
// variables, mirroring the STORE_DB_* convention used across the control
// plane's other environment-driven config.
func LoadConfigFromEnv(runID string) (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("STORE_DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid STORE_DB_PORT: %w", err)
	}

	maxOpen, _ := strconv.Atoi(getEnvOrDefault("STORE_DB_MAX_OPEN_CONNS", "25"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("STORE_DB_MAX_IDLE_CONNS", "10"))

	maxLifetime, err := time.ParseDuration(getEnvOrDefault("STORE_DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid STORE_DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("STORE_DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid STORE_DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := Config{
		Host:            getEnvOrDefault("STORE_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("STORE_DB_USER", "immune"),
		Password:        os.Getenv("STORE_DB_PASSWORD"),
		Database:        getEnvOrDefault("STORE_DB_NAME", "immune"),
		SSLMode:         getEnvOrDefault("STORE_DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
		RunID:           runID,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
