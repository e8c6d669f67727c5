// Package config loads the engine's immutable configuration from the
// environment once at startup. Risk parameters are hard limits: nothing in
// the trading API can change them at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Broker backends.
const (
	BrokerAlpaca = "alpaca"
	BrokerPaper  = "paper"
)

// Config holds all startup configuration. Loaded once; never mutated.
type Config struct {
	// Risk parameters
	InitialCapital     float64
	MaxDailyLossPct    float64
	MaxPositionSizePct float64
	MaxStopLossPct     float64
	TakeProfitPct      float64

	// Brokerage
	Broker        string
	BrokerTimeout time.Duration

	// Server
	Port         string
	DatabasePath string
	JWTSecret    string
	APIKey       string
	APISecret    string

	// Background risk sync
	SyncInterval time.Duration
}

// Load reads a .env file if present and builds the configuration from the
// environment, falling back to safe defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using system environment")
	}

	cfg := &Config{
		InitialCapital:     getEnvFloat("INITIAL_CAPITAL", 10000.0),
		MaxDailyLossPct:    getEnvFloat("MAX_DAILY_LOSS_PCT", 2.0),
		MaxPositionSizePct: getEnvFloat("MAX_POSITION_SIZE_PCT", 5.0),
		MaxStopLossPct:     getEnvFloat("MAX_STOP_LOSS_PCT", 3.0),
		TakeProfitPct:      getEnvFloat("TAKE_PROFIT_PCT", 10.0),

		Broker:        getEnvString("BROKER", BrokerPaper),
		BrokerTimeout: time.Duration(getEnvInt("BROKER_TIMEOUT_SEC", 10)) * time.Second,

		Port:         getEnvString("PORT", "8080"),
		DatabasePath: getEnvString("DB_PATH", "trades.db"),
		JWTSecret:    getEnvString("JWT_SECRET", "tradebot-secret-key"),
		APIKey:       getEnvString("API_KEY", "test-api-key"),
		APISecret:    getEnvString("API_SECRET", "test-api-secret"),

		SyncInterval: time.Duration(getEnvInt("RISK_SYNC_INTERVAL_SEC", 60)) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("INITIAL_CAPITAL must be positive, got %f", c.InitialCapital)
	}
	if c.MaxDailyLossPct <= 0 || c.MaxPositionSizePct <= 0 || c.MaxStopLossPct <= 0 {
		return fmt.Errorf("risk percentages must be positive")
	}

	switch c.Broker {
	case BrokerPaper:
	case BrokerAlpaca:
		// The Alpaca SDK reads these from the environment itself; fail fast
		// here instead of on the first brokerage call.
		for _, key := range []string{"APCA_API_KEY_ID", "APCA_API_SECRET_KEY"} {
			if os.Getenv(key) == "" {
				return fmt.Errorf("missing required environment variable %s for the alpaca broker", key)
			}
		}
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	return nil
}

func getEnvString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvFloat parses a float from the environment, tolerating % and $
// decoration users tend to include in risk settings.
func getEnvFloat(key string, fallback float64) float64 {
	raw, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(raw) == "" {
		return fallback
	}

	clean := strings.TrimSpace(strings.NewReplacer("%", "", "$", "", ",", "").Replace(raw))
	value, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Float64("default", fallback).
			Msg("invalid numeric config value, using default")
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(raw) == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Int("default", fallback).
			Msg("invalid integer config value, using default")
		return fallback
	}
	return value
}
