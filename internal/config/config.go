// Package config reads runtime configuration from environment variables,
// applies defaults, and validates values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the settlement core.
type Config struct {
	Port        int
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no cache layer

	// OperatorIDs is the set of actor ids granted operator privileges.
	OperatorIDs map[string]bool

	HoldTTL        time.Duration // initial hold lifetime
	ConfirmTTL     time.Duration // extension granted after a single confirmation
	ReservationTTL time.Duration // settlement window after dual confirmation
	ListingTTL     time.Duration // listing lifetime
	SweepInterval  time.Duration // reaper tick

	WebhookURL     string // empty → webhook notifications disabled
	WebhookTimeout time.Duration
	CacheTTL       time.Duration

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables. It returns an error
// for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	holdTTL, err := getDuration("HOLD_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid HOLD_TTL: %w", err)
	}
	confirmTTL, err := getDuration("CONFIRM_TTL", 60*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid CONFIRM_TTL: %w", err)
	}
	reservationTTL, err := getDuration("RESERVATION_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid RESERVATION_TTL: %w", err)
	}
	listingTTL, err := getDuration("LISTING_TTL", 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTING_TTL: %w", err)
	}
	sweepInterval, err := getDuration("SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}
	webhookTimeout, err := getDuration("WEBHOOK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
	}
	cacheTTL, err := getDuration("CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	readTimeout, err := getDuration("READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}
	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}
	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}
	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	if holdTTL <= 0 || confirmTTL <= 0 || reservationTTL <= 0 || listingTTL <= 0 {
		return nil, fmt.Errorf("TTL values must be positive")
	}
	if sweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive")
	}

	operators := make(map[string]bool)
	for _, id := range strings.Split(os.Getenv("OPERATOR_IDS"), ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			operators[id] = true
		}
	}

	return &Config{
		Port:            port,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		OperatorIDs:     operators,
		HoldTTL:         holdTTL,
		ConfirmTTL:      confirmTTL,
		ReservationTTL:  reservationTTL,
		ListingTTL:      listingTTL,
		SweepInterval:   sweepInterval,
		WebhookURL:      os.Getenv("WEBHOOK_URL"),
		WebhookTimeout:  webhookTimeout,
		CacheTTL:        cacheTTL,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}
