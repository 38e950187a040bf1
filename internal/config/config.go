// Package config loads runtime settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds application configuration.
type Config struct {
	Port      string
	MySQLDSN  string
	RedisAddr string
	LogLevel  string
	JWTSecret string

	// Loan business knobs.
	FinePerDay       int64
	MaxActiveLoans   int
	MaxRenewals      int
	MaxLoanDays      int
	RenewDefaultDays int

	// Overdue sweep ("" disables it).
	SweepSchedule string

	// Outgoing mail; reminders are skipped when SMTPHost is empty.
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
}

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		MySQLDSN:      getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/biblioteca?parseTime=true"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:     getEnv("JWT_SECRET", "secret"),
		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@daily"),
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnv("SMTP_PORT", "587"),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SenderEmail:   getEnv("SENDER_EMAIL", "library@localhost"),
	}

	var err error
	if cfg.FinePerDay, err = getEnvInt64("FINE_PER_DAY", 1000); err != nil {
		return nil, err
	}
	if cfg.MaxActiveLoans, err = getEnvInt("MAX_ACTIVE_LOANS", 5); err != nil {
		return nil, err
	}
	if cfg.MaxRenewals, err = getEnvInt("MAX_RENEWALS", 3); err != nil {
		return nil, err
	}
	if cfg.MaxLoanDays, err = getEnvInt("MAX_LOAN_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.RenewDefaultDays, err = getEnvInt("RENEW_DEFAULT_DAYS", 14); err != nil {
		return nil, err
	}

	if cfg.MySQLDSN == "" {
		return nil, fmt.Errorf("MYSQL_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.FinePerDay < 0 {
		return nil, fmt.Errorf("FINE_PER_DAY must not be negative")
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
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
