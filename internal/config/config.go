package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBFile             string
	APIAddr            string
	TokenExpiry        time.Duration
	PrivateIdleTimeout time.Duration
	DeleteLockout      time.Duration
	PollConfirmCutoff  time.Duration
	VAPIDPublicKey     string
	VAPIDPrivateKey    string
	PushSubscriber     string
}

func Load() (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_EXPIRY: %w", err)
	}
	idleTimeout, err := time.ParseDuration(getEnv("PRIVATE_IDLE_TIMEOUT", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRIVATE_IDLE_TIMEOUT: %w", err)
	}
	deleteLockout, err := time.ParseDuration(getEnv("DELETE_LOCKOUT", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DELETE_LOCKOUT: %w", err)
	}
	confirmCutoff, err := time.ParseDuration(getEnv("POLL_CONFIRM_CUTOFF", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_CONFIRM_CUTOFF: %w", err)
	}

	cfg := &Config{
		DBFile:             getEnv("PALAVER_DB", "palaver.db"),
		APIAddr:            getEnv("API_ADDR", ":8080"),
		TokenExpiry:        tokenExpiry,
		PrivateIdleTimeout: idleTimeout,
		DeleteLockout:      deleteLockout,
		PollConfirmCutoff:  confirmCutoff,
		VAPIDPublicKey:     os.Getenv("VAPID_PUBLIC"),
		VAPIDPrivateKey:    os.Getenv("VAPID_PRIVATE"),
		PushSubscriber:     getEnv("PUSH_SUBSCRIBER", "mailto:admin@localhost"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.PrivateIdleTimeout <= 0 {
		return fmt.Errorf("PRIVATE_IDLE_TIMEOUT must be greater than 0")
	}

	if c.DeleteLockout <= 0 {
		return fmt.Errorf("DELETE_LOCKOUT must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
