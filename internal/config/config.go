// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Model artifacts (read once at startup, immutable thereafter)
	StaticModelPath     string // gradient-boosted ensemble JSON
	SequentialModelPath string // recurrent model weights JSON
	NormParamsPath      string // normalization parameters YAML

	// History
	WindowSize int    // W: feature vectors per identity window
	RedisURL   string // optional, in-memory history store if not set

	// Hybrid aggregation
	StaticWeight     float64
	SequentialWeight float64

	// Verdict thresholds (inclusive-lower, higher-risk bucket on boundary)
	FlagThreshold  float64
	BlockThreshold float64

	// Domain rule tunables
	TrustedDevices          []string
	HighAmountThreshold     float64
	CriticalAmountThreshold float64
	VelocityLimit           int // transactions in the trailing hour
	UnusualHourStart        int
	UnusualHourEnd          int // exclusive
	MaxTravelSpeedKmh       float64
	RulesConfigPath         string // optional YAML overriding rule floors

	// Explanations
	TopFactors int

	// Side channels
	DatabaseURL  string // optional Postgres audit sink
	OTLPEndpoint string // optional tracing
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultWindowSize     = 10
	DefaultFlagThreshold  = 0.5
	DefaultBlockThreshold = 0.8
	DefaultHighAmount     = 10000
	DefaultCriticalAmount = 30000
	DefaultVelocityLimit  = 5
	DefaultUnusualStart   = 0
	DefaultUnusualEnd     = 6
	DefaultMaxTravelSpeed = 800
	DefaultTopFactors     = 5
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", DefaultPort),
		Env:      getEnv("ENV", DefaultEnv),
		LogLevel: getEnv("LOG_LEVEL", DefaultLogLevel),

		StaticModelPath:     getEnv("STATIC_MODEL_PATH", "artifacts/gbdt_model.json"),
		SequentialModelPath: getEnv("SEQUENTIAL_MODEL_PATH", "artifacts/gru_model.json"),
		NormParamsPath:      getEnv("NORM_PARAMS_PATH", "artifacts/norm_params.yaml"),

		WindowSize: int(getEnvInt64("WINDOW_SIZE", DefaultWindowSize)),
		RedisURL:   os.Getenv("REDIS_URL"), // Optional, uses in-memory if not set

		StaticWeight:     getEnvFloat("STATIC_WEIGHT", 0.5),
		SequentialWeight: getEnvFloat("SEQUENTIAL_WEIGHT", 0.5),

		FlagThreshold:  getEnvFloat("FLAG_THRESHOLD", DefaultFlagThreshold),
		BlockThreshold: getEnvFloat("BLOCK_THRESHOLD", DefaultBlockThreshold),

		TrustedDevices:          splitList(os.Getenv("TRUSTED_DEVICES")),
		HighAmountThreshold:     getEnvFloat("HIGH_AMOUNT_THRESHOLD", DefaultHighAmount),
		CriticalAmountThreshold: getEnvFloat("CRITICAL_AMOUNT_THRESHOLD", DefaultCriticalAmount),
		VelocityLimit:           int(getEnvInt64("VELOCITY_LIMIT", DefaultVelocityLimit)),
		UnusualHourStart:        int(getEnvInt64("UNUSUAL_HOUR_START", DefaultUnusualStart)),
		UnusualHourEnd:          int(getEnvInt64("UNUSUAL_HOUR_END", DefaultUnusualEnd)),
		MaxTravelSpeedKmh:       getEnvFloat("MAX_TRAVEL_SPEED_KMH", DefaultMaxTravelSpeed),
		RulesConfigPath:         os.Getenv("RULES_CONFIG_PATH"),

		TopFactors: int(getEnvInt64("TOP_FACTORS", DefaultTopFactors)),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.StaticModelPath == "" {
		return fmt.Errorf("STATIC_MODEL_PATH is required")
	}
	if c.SequentialModelPath == "" {
		return fmt.Errorf("SEQUENTIAL_MODEL_PATH is required")
	}
	if c.NormParamsPath == "" {
		return fmt.Errorf("NORM_PARAMS_PATH is required")
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("WINDOW_SIZE must be at least 1, got %d", c.WindowSize)
	}
	if math.Abs(c.StaticWeight+c.SequentialWeight-1.0) > 1e-9 {
		return fmt.Errorf("STATIC_WEIGHT + SEQUENTIAL_WEIGHT must sum to 1, got %.4f",
			c.StaticWeight+c.SequentialWeight)
	}
	if c.FlagThreshold <= 0 || c.FlagThreshold >= c.BlockThreshold || c.BlockThreshold > 1 {
		return fmt.Errorf("verdict thresholds must satisfy 0 < FLAG (%.2f) < BLOCK (%.2f) <= 1",
			c.FlagThreshold, c.BlockThreshold)
	}
	if c.HighAmountThreshold >= c.CriticalAmountThreshold {
		return fmt.Errorf("HIGH_AMOUNT_THRESHOLD (%.0f) must be below CRITICAL_AMOUNT_THRESHOLD (%.0f)",
			c.HighAmountThreshold, c.CriticalAmountThreshold)
	}
	if c.TopFactors < 0 {
		return fmt.Errorf("TOP_FACTORS must not be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
