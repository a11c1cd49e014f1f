package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultAppName           = "LumaLedger"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultReconcileInterval = time.Hour
	defaultFraudBudget       = 50 * time.Millisecond
	defaultDailyCountLimit   = 100
	defaultDailyAmountLimit  = "1000000.00"
	idemTTLSecondsEnvVar     = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar         = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar    = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar   = "SHUTDOWN_TIMEOUT"
	reconcileIntervalEnvVar  = "RECONCILE_INTERVAL"
	fraudBudgetEnvVar        = "FRAUD_CHECK_BUDGET"
	dailyCountEnvVar         = "DAILY_TRANSACTION_LIMIT"
	dailyAmountEnvVar        = "DAILY_AMOUNT_LIMIT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName           string
	AppEnv            string
	Port              string
	LogLevel          string
	DatabaseURL       string
	RedisURL          string
	ShutdownPeriod    time.Duration
	IdempotencyTTL    time.Duration
	ReconcileInterval time.Duration
	FraudBudget       time.Duration
	DailyCountLimit   int
	DailyAmountLimit  decimal.Decimal
}

// Load reads configuration values from the environment and populates a Config
// instance. DATABASE_URL and REDIS_URL are optional in development, where the
// service falls back to in-memory stores.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		ReconcileInterval: defaultReconcileInterval,
		FraudBudget:       defaultFraudBudget,
		DailyCountLimit:   defaultDailyCountLimit,
		DailyAmountLimit:  decimal.RequireFromString(defaultDailyAmountLimit),
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	if v := os.Getenv(reconcileIntervalEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", reconcileIntervalEnvVar, err)
		}
		cfg.ReconcileInterval = d
	}

	if v := os.Getenv(fraudBudgetEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", fraudBudgetEnvVar, err)
		}
		cfg.FraudBudget = d
	}

	if v := os.Getenv(dailyCountEnvVar); v != "" {
		count, err := strconv.Atoi(v)
		if err != nil || count <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", dailyCountEnvVar, v)
		}
		cfg.DailyCountLimit = count
	}

	if v := os.Getenv(dailyAmountEnvVar); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil || !amount.IsPositive() {
			return Config{}, fmt.Errorf("invalid %s: %q", dailyAmountEnvVar, v)
		}
		cfg.DailyAmountLimit = amount
	}

	if cfg.AppEnv == "production" {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set in production")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set in production")
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
