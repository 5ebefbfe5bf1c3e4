package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	Port          string
	DBConn        string
	LogLevel      string
	JWTSecret     string
	EncryptionKey []byte

	AdminUsername     string
	AdminPasswordHash string // bcrypt; empty disables password login
	AdminTokenTTL     time.Duration

	Timezone       *time.Location
	ReminderCron   string
	AutoPayCron    string
	AutoPayWorkers int
	RailTimeout    time.Duration
	NotifyTimeout  time.Duration

	AuthNetURL            string
	AuthNetLoginID        string
	AuthNetTransactionKey string

	CryptoURL      string
	CryptoAPIKey   string
	CryptoCurrency string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	tzName := getEnv("SCHEDULER_TIMEZONE", "America/New_York")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_TIMEZONE %q: %w", tzName, err)
	}

	key, err := hex.DecodeString(getEnv("ENCRYPTION_KEY", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"))
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be hex: %w", err)
	}

	workers, err := getEnvInt("AUTOPAY_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	railTimeout, err := getEnvDuration("RAIL_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	notifyTimeout, err := getEnvDuration("NOTIFY_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	tokenTTL, err := getEnvDuration("ADMIN_TOKEN_TTL", 12*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DBConn:        getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=loans sslmode=disable"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:     getEnv("JWT_SECRET", "secret"),
		EncryptionKey: key,

		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		AdminTokenTTL:     tokenTTL,

		Timezone:       loc,
		ReminderCron:   getEnv("REMINDER_CRON", "0 9 * * *"),
		AutoPayCron:    getEnv("AUTOPAY_CRON", "0 10 * * *"),
		AutoPayWorkers: workers,
		RailTimeout:    railTimeout,
		NotifyTimeout:  notifyTimeout,

		AuthNetURL:            getEnv("AUTHNET_URL", "https://apitest.authorize.net/xml/v1/request.api"),
		AuthNetLoginID:        getEnv("AUTHNET_API_LOGIN_ID", ""),
		AuthNetTransactionKey: getEnv("AUTHNET_TRANSACTION_KEY", ""),

		CryptoURL:      getEnv("CRYPTO_URL", "https://api.commerce.coinbase.com"),
		CryptoAPIKey:   getEnv("CRYPTO_API_KEY", ""),
		CryptoCurrency: getEnv("CRYPTO_LOCAL_CURRENCY", "USD"),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SenderEmail:  getEnv("SENDER_EMAIL", "payments@example.com"),
	}

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be 32 bytes, got %d", len(cfg.EncryptionKey))
	}
	if cfg.AutoPayWorkers < 1 {
		return nil, fmt.Errorf("AUTOPAY_WORKERS must be positive")
	}
	for name, spec := range map[string]string{"REMINDER_CRON": cfg.ReminderCron, "AUTOPAY_CRON": cfg.AutoPayCron} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
