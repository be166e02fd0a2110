// Package config loads environment configuration and initializes the
// Postgres and Redis connections. Every backend is optional: a missing
// database or Redis degrades the process to in-memory stores with a warning
// instead of refusing to start.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/emeka-okafor/kudipal/utils"
)

// Config is the full runtime configuration.
type Config struct {
	Port string
	Env  string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddr     string
	RedisPassword string

	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppBusinessID    string
	WhatsAppVerifyToken   string
	WhatsAppAppSecret     string

	FlowPrivateKey    string
	FlowKeyPassphrase string
	FlowTokenSecret   string
	FlowIDOnboarding  string
	FlowIDTransferPIN string
	FlowIDDataPlans   string

	DailyLimit      float64
	MonthlyLimit    float64
	TransferFeeFlat float64
	TransferFeeRate float64
	UtilityFeeFlat  float64

	WorkerPoolSize int
	HandlerTimeout time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	OpsEmail     string
}

// Load reads .env (if present) and the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		utils.LogInfo("No .env file found, using environment variables")
	}

	return &Config{
		Port: envOr("PORT", "8080"),
		Env:  envOr("ENV", "development"),

		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     envOr("DB_PORT", "5432"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		WhatsAppAccessToken:   os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		WhatsAppPhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		WhatsAppBusinessID:    os.Getenv("WHATSAPP_BUSINESS_ACCOUNT_ID"),
		WhatsAppVerifyToken:   os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		WhatsAppAppSecret:     os.Getenv("WHATSAPP_APP_SECRET"),

		FlowPrivateKey:    os.Getenv("FLOW_PRIVATE_KEY"),
		FlowKeyPassphrase: os.Getenv("FLOW_KEY_PASSPHRASE"),
		FlowTokenSecret:   os.Getenv("FLOW_TOKEN_SECRET"),
		FlowIDOnboarding:  os.Getenv("FLOW_ID_ONBOARDING"),
		FlowIDTransferPIN: os.Getenv("FLOW_ID_TRANSFER_PIN"),
		FlowIDDataPlans:   os.Getenv("FLOW_ID_DATA_PURCHASE"),

		DailyLimit:      envFloat("DAILY_LIMIT", 200_000),
		MonthlyLimit:    envFloat("MONTHLY_LIMIT", 1_000_000),
		TransferFeeFlat: envFloat("TRANSFER_FEE_FLAT", 10),
		TransferFeeRate: envFloat("TRANSFER_FEE_RATE", 0.005),
		UtilityFeeFlat:  envFloat("UTILITY_FEE_FLAT", 50),

		WorkerPoolSize: envInt("WORKER_POOL_SIZE", 16),
		HandlerTimeout: envDuration("HANDLER_TIMEOUT", 120*time.Second),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     envInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),
		OpsEmail:     os.Getenv("OPS_ALERT_EMAIL"),
	}
}

// HasDatabase reports whether Postgres is configured.
func (c *Config) HasDatabase() bool {
	return c.DBHost != "" && c.DBUser != "" && c.DBName != ""
}

// HasRedis reports whether Redis is configured.
func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		utils.LogWarn("Invalid %s=%q, using %v", key, raw, fallback)
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		utils.LogWarn("Invalid %s=%q, using %v", key, raw, fallback)
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		utils.LogWarn("Invalid %s=%q, using %v", key, raw, fallback)
		return fallback
	}
	return value
}
