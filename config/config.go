package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSecret is the placeholder for JWT_SECRET and CARD_SECRET. It is
// only accepted when ENV is dev.
const DefaultSecret = "change-me-in-production"

const (
	ReferenceOrdered   = "ordered"
	ReferenceDelivered = "delivered"
)

type Config struct {
	ServiceName string
	Env         string
	Port        string

	DBDriver   string
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	DBPath     string
	DBDebug    bool

	JWTSecret  string
	JWTTTL     time.Duration
	CardSecret string

	AdminEmail    string
	AdminPassword string

	RabbitMQURL       string
	ReceiptExchange   string
	ReceiptQueue      string
	ReceiptRetryQueue string
	DeadLetterQueue   string
	ReceiptMaxRetries int
	ReceiptRetryDelay time.Duration

	ReceiptDir     string
	ReceiptBaseURL string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MailFrom     string

	RefundWindow        time.Duration
	RefundReferenceDate string
}

func LoadConfig() *Config {
	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "ecommerce-backend"),
		Env:         getEnv("ENV", "dev"),
		Port:        getEnv("PORT", "8080"),

		DBDriver:   getEnv("DB_DRIVER", "mysql"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: getEnvFromFile("DB_PASSWORD_FILE", "DB_PASSWORD", ""),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBName:     getEnv("DB_NAME", "ecommerce"),
		DBPath:     getEnv("DB_PATH", "ecommerce.db"),
		DBDebug:    getEnv("DB_DEBUG", "false") == "true",

		JWTSecret:  getEnvFromFile("JWT_SECRET_FILE", "JWT_SECRET", DefaultSecret),
		JWTTTL:     getEnvDuration("JWT_TTL", 24*time.Hour),
		CardSecret: getEnvFromFile("CARD_SECRET_FILE", "CARD_SECRET", DefaultSecret),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnvFromFile("ADMIN_PASSWORD_FILE", "ADMIN_PASSWORD", ""),

		RabbitMQURL:       getEnv("RABBITMQ_URL", ""),
		ReceiptExchange:   getEnv("RECEIPT_EXCHANGE", "receipts_exchange"),
		ReceiptQueue:      getEnv("RECEIPT_QUEUE", "receipt_queue"),
		ReceiptRetryQueue: getEnv("RECEIPT_RETRY_QUEUE", "receipt_retry_queue"),
		DeadLetterQueue:   getEnv("DEAD_LETTER_QUEUE", "dead_letter_queue"),
		ReceiptMaxRetries: getEnvInt("RECEIPT_MAX_RETRIES", 5),
		ReceiptRetryDelay: getEnvDuration("RECEIPT_RETRY_DELAY", 30*time.Second),

		ReceiptDir:     getEnv("RECEIPT_DIR", "receipts-data"),
		ReceiptBaseURL: getEnv("RECEIPT_BASE_URL", "http://localhost:8080/receipts"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnvFromFile("SMTP_PASSWORD_FILE", "SMTP_PASSWORD", ""),
		MailFrom:     getEnv("MAIL_FROM", "no-reply@example.com"),

		RefundWindow:        getEnvDuration("REFUND_WINDOW", 30*24*time.Hour),
		RefundReferenceDate: getEnv("REFUND_REFERENCE_DATE", ReferenceOrdered),
	}
}

// Validate rejects settings the service must not start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Env != "dev" {
		if c.JWTSecret == DefaultSecret || c.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("JWT_SECRET must be set when ENV is %q", c.Env))
		}
		if c.CardSecret == DefaultSecret || c.CardSecret == "" {
			errs = append(errs, fmt.Errorf("CARD_SECRET must be set when ENV is %q", c.Env))
		}
	}
	if c.RefundReferenceDate != ReferenceOrdered && c.RefundReferenceDate != ReferenceDelivered {
		errs = append(errs, fmt.Errorf("REFUND_REFERENCE_DATE must be %q or %q, got %q",
			ReferenceOrdered, ReferenceDelivered, c.RefundReferenceDate))
	}
	if c.RefundWindow <= 0 {
		errs = append(errs, fmt.Errorf("REFUND_WINDOW must be positive, got %s", c.RefundWindow))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFromFile(fileKey, envKey, defaultValue string) string {
	if filePath := os.Getenv(fileKey); filePath != "" {
		if content, err := os.ReadFile(filePath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return getEnv(envKey, defaultValue)
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("72h", "30s").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
