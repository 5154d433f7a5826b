package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	StorageDriver string
	DatabaseURL   string
	LogLevel      string
	Environment   string
	OpsAddr       string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	TelegramToken      string
	OperatorTelegramID int64 // 0 disables operator alerts

	RedisURL                      string // empty disables cross-process cache invalidation
	DefinitionInvalidationChannel string

	CronSpecDefinitionRefresh string
	CronSpecRehydrateSweep    string

	RetryBaseDelay     time.Duration
	RetryMax           int
	DispatchRatePerSec float64
	SendTimeout        time.Duration
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.StorageDriver = strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverPostgres))
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case StorageDriverMemory:
	default:
		return nil, fmt.Errorf("invalid STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getEnv("ENVIRONMENT", "development"))
	cfg.OpsAddr = getEnv("OPS_ADDR", ":9090")

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	if cfg.SMTPPort, err = getEnvInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFrom = os.Getenv("SMTP_FROM")
	if cfg.SMTPHost != "" && cfg.SMTPFrom == "" {
		return nil, fmt.Errorf("SMTP_FROM is not set")
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if operatorIDStr := os.Getenv("OPERATOR_TELEGRAM_ID"); operatorIDStr != "" {
		cfg.OperatorTelegramID, err = strconv.ParseInt(operatorIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid OPERATOR_TELEGRAM_ID: %w", err)
		}
		if cfg.TelegramToken == "" {
			return nil, fmt.Errorf("TELEGRAM_TOKEN is not set but OPERATOR_TELEGRAM_ID is")
		}
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.DefinitionInvalidationChannel = getEnv("DEFINITION_INVALIDATION_CHANNEL", "status_definitions:invalidate")

	cfg.CronSpecDefinitionRefresh = getEnv("CRON_SPEC_DEFINITION_REFRESH", "*/10 * * * *") // every 10 minutes
	cfg.CronSpecRehydrateSweep = getEnv("CRON_SPEC_REHYDRATE_SWEEP", "*/15 * * * *")

	if cfg.RetryBaseDelay, err = getEnvDuration("RETRY_BASE_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryMax, err = getEnvInt("RETRY_MAX", 3); err != nil {
		return nil, err
	}
	if cfg.RetryMax < 0 {
		return nil, fmt.Errorf("RETRY_MAX must not be negative")
	}

	cfg.DispatchRatePerSec = 5
	if v := os.Getenv("DISPATCH_RATE_PER_SEC"); v != "" {
		cfg.DispatchRatePerSec, err = strconv.ParseFloat(v, 64)
		if err != nil || cfg.DispatchRatePerSec <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_RATE_PER_SEC %q", v)
		}
	}

	if cfg.SendTimeout, err = getEnvDuration("SEND_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
