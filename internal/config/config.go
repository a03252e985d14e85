// Package config loads process configuration from the environment and an optional .env file.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RateLimit is one endpoint quota
type RateLimit struct {
	Limit  int
	Window time.Duration
}

type Config struct {
	StoreDriver string
	MongoURI    string
	MongoDB     string
	DatabaseURL string
	RedisURI    string
	Port        string
	JWTSecret   string

	LogFormat string
	LogLevel  string

	SweepInterval time.Duration

	DraftRate    RateLimit
	SubmitRate   RateLimit
	ProgressRate RateLimit
	GeneralRate  RateLimit

	SubmitDuplicateLimit int
	SubmitDuplicateDecay time.Duration

	CompletionThresholdPercent int

	AnomalyBurstLimit int
	AnomalyMaxIPs     int

	CORSAllowedOrigins string
	// TrustedProxies is a comma separated list of IPs or CIDRs allowed to set X-Forwarded-For
	TrustedProxies string
}

// Load reads .env (when present) and then the process environment
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		StoreDriver: getEnv("STORE_DRIVER", "mongo"),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:     getEnv("MONGO_DB", "healthsurvey"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURI:    getEnv("REDIS_URI", "localhost:6379"),
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "super-secret-key-change-in-production"),

		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),

		SweepInterval: getDuration("SWEEP_INTERVAL", time.Hour),

		DraftRate:    RateLimit{Limit: getInt("RATE_DRAFT_LIMIT", 300), Window: getDuration("RATE_DRAFT_WINDOW", time.Hour)},
		SubmitRate:   RateLimit{Limit: getInt("RATE_SUBMIT_LIMIT", 10), Window: getDuration("RATE_SUBMIT_WINDOW", time.Hour)},
		ProgressRate: RateLimit{Limit: getInt("RATE_PROGRESS_LIMIT", 600), Window: getDuration("RATE_PROGRESS_WINDOW", time.Hour)},
		GeneralRate:  RateLimit{Limit: getInt("RATE_GENERAL_LIMIT", 1000), Window: getDuration("RATE_GENERAL_WINDOW", time.Hour)},

		SubmitDuplicateLimit: getInt("SUBMIT_DUPLICATE_LIMIT", 3),
		SubmitDuplicateDecay: getDuration("SUBMIT_DUPLICATE_DECAY", 10*time.Second),

		CompletionThresholdPercent: getInt("COMPLETION_THRESHOLD_PERCENT", 30),

		AnomalyBurstLimit: getInt("ANOMALY_BURST_LIMIT", 60),
		AnomalyMaxIPs:     getInt("ANOMALY_MAX_IPS", 3),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		TrustedProxies:     getEnv("TRUSTED_PROXIES", ""),
	}
}

// RedisAddr strips a redis:// scheme so the value can be used as a plain address
func (c *Config) RedisAddr() string {
	return strings.TrimPrefix(c.RedisURI, "redis://")
}

// Logger builds the process logger from LOG_FORMAT and LOG_LEVEL
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// getDuration accepts Go durations ("90s") or a bare number of seconds
func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
