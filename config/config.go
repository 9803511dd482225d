package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Port        string
	Env         string
	LogLevel    string
	FrontendURL string
	DatabaseURL string
	RedisURL    string

	KafkaBrokers    []string
	KafkaAlertTopic string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	AdminEmail   string

	LowStockThreshold int
	SuppressionWindow time.Duration
	CartMaxAge        time.Duration
	LockTimeout       time.Duration
	AlertQueueSize    int

	DailyReportAt    string
	LowStockSchedule string
	ExpirySchedule   string

	CartRateLimit float64
	CartRateBurst int
}

// LoadEnv loads .env from the working directory. A missing file is normal in
// production, where the environment is set directly; a malformed one is an error.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// ValidateEnv checks that critical environment variables are set.
// Returns an error if any critical variable is missing.
func ValidateEnv(logger *zap.Logger) error {
	var missing []string

	if os.Getenv("JWT_SECRET") == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if os.Getenv("DATABASE_URL") == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return fmt.Errorf("critical environment variables not set: %v", missing)
	}

	if os.Getenv("REDIS_URL") == "" {
		logger.Warn("REDIS_URL not set - low stock suppression is kept in process memory")
	}
	if os.Getenv("KAFKA_BROKERS") == "" {
		logger.Warn("KAFKA_BROKERS not set - alerts will not be published to Kafka")
	}
	if os.Getenv("FRONTEND_URL") == "" {
		logger.Warn("FRONTEND_URL not set - CORS may not work correctly")
	}
	for _, key := range []string{"SMTP_HOST", "SMTP_PORT", "SMTP_FROM", "ADMIN_EMAIL"} {
		if os.Getenv(key) == "" {
			logger.Warn(key + " not set - alert emails will not be sent")
		}
	}

	return nil
}

func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Load reads the configuration from the environment. Malformed numbers and
// durations fall back to their defaults with a warning.
func Load(logger *zap.Logger) Config {
	return Config{
		Port:        GetEnv("PORT", "8080"),
		Env:         GetEnv("ENV", "development"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		FrontendURL: GetEnv("FRONTEND_URL", "http://localhost:3000"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaAlertTopic: GetEnv("KAFKA_ALERT_TOPIC", "stock-alerts"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     os.Getenv("SMTP_PORT"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),
		AdminEmail:   GetEnv("ADMIN_EMAIL", "admin@example.com"),

		LowStockThreshold: getInt(logger, "LOW_STOCK_THRESHOLD", 5),
		SuppressionWindow: getDuration(logger, "LOW_STOCK_SUPPRESSION_WINDOW", time.Hour),
		CartMaxAge:        getDuration(logger, "CART_MAX_AGE", 24*time.Hour),
		LockTimeout:       getDuration(logger, "STOCK_LOCK_TIMEOUT", 5*time.Second),
		AlertQueueSize:    getInt(logger, "ALERT_QUEUE_SIZE", 256),

		DailyReportAt:    GetEnv("DAILY_REPORT_AT", "18:00"),
		LowStockSchedule: GetEnv("LOW_STOCK_SCHEDULE", "@every 10m"),
		ExpirySchedule:   GetEnv("CART_EXPIRY_SCHEDULE", "@hourly"),

		CartRateLimit: getFloat(logger, "CART_RATE_LIMIT", 5),
		CartRateBurst: getInt(logger, "CART_RATE_BURST", 20),
	}
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getInt(logger *zap.Logger, key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		logger.Warn("Invalid integer setting, using default", zap.String("key", key), zap.String("value", raw), zap.Int("default", def))
		return def
	}
	return v
}

func getFloat(logger *zap.Logger, key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		logger.Warn("Invalid number setting, using default", zap.String("key", key), zap.String("value", raw), zap.Float64("default", def))
		return def
	}
	return v
}

func getDuration(logger *zap.Logger, key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		logger.Warn("Invalid duration setting, using default", zap.String("key", key), zap.String("value", raw), zap.Duration("default", def))
		return def
	}
	return v
}
