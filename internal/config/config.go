package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings one service binary needs. Fields that only
// apply to a subset of the services are left at their zero value elsewhere.
type Config struct {
	DBSource string
	Port     string
	Env      string

	// Orchestrator only: downstream service endpoints.
	LedgerBaseURL  string
	GatewayBaseURL string
	CallTimeout    time.Duration

	// Ledger engine only.
	CASRetries int
}

// Load reads configuration from the environment. A .env file is applied
// first if present; real environment variables win.
func Load(defaultPort string) (*Config, error) {
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	callTimeout, err := getEnvDuration("CALL_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		DBSource:       dbSource,
		Port:           getEnvString("SERVER_PORT", defaultPort),
		Env:            getEnvString("ENVIRONMENT", "development"),
		LedgerBaseURL:  getEnvString("LEDGER_BASE_URL", "http://localhost:8081"),
		GatewayBaseURL: getEnvString("GATEWAY_BASE_URL", "http://localhost:8082"),
		CallTimeout:    callTimeout,
		CASRetries:     getEnvInt("CAS_RETRIES", 3),
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
