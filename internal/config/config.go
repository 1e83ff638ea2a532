package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for the auth core knobs.
const (
	DefaultMaxActiveSessions  = 3
	DefaultSessionLifetime    = 120 * time.Minute
	DefaultIdleWarning        = 10 * time.Minute
	DefaultFailureThreshold   = 5
	DefaultFailureDecayWindow = 15 * time.Minute
	DefaultListenAddr         = ":8080"
)

// Config holds environment-driven settings for the service.
type Config struct {
	ListenAddr string
	PGDSN      string

	// Session ledger.
	MaxActiveSessions int
	SessionLifetime   time.Duration
	IdleWarning       time.Duration

	// Login rate limiting.
	FailureThreshold   int
	FailureDecayWindow time.Duration
	RateLimitSalt      string

	// Session transport signing secret (HS256).
	TokenSecret string
}

// Load reads HELPDESK_* environment variables, applying defaults where unset.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:         envOr("HELPDESK_LISTEN_ADDR", DefaultListenAddr),
		PGDSN:              strings.TrimSpace(os.Getenv("HELPDESK_PG_DSN")),
		MaxActiveSessions:  DefaultMaxActiveSessions,
		SessionLifetime:    DefaultSessionLifetime,
		IdleWarning:        DefaultIdleWarning,
		FailureThreshold:   DefaultFailureThreshold,
		FailureDecayWindow: DefaultFailureDecayWindow,
		RateLimitSalt:      strings.TrimSpace(os.Getenv("HELPDESK_RATELIMIT_SALT")),
		TokenSecret:        strings.TrimSpace(os.Getenv("HELPDESK_AUTH_SECRET")),
	}

	var err error
	if cfg.MaxActiveSessions, err = envInt("HELPDESK_MAX_SESSIONS", cfg.MaxActiveSessions); err != nil {
		return Config{}, err
	}
	if cfg.SessionLifetime, err = envMinutes("HELPDESK_SESSION_LIFETIME_MIN", cfg.SessionLifetime); err != nil {
		return Config{}, err
	}
	if cfg.IdleWarning, err = envMinutes("HELPDESK_IDLE_WARNING_MIN", cfg.IdleWarning); err != nil {
		return Config{}, err
	}
	if cfg.FailureThreshold, err = envInt("HELPDESK_LOGIN_FAILURE_THRESHOLD", cfg.FailureThreshold); err != nil {
		return Config{}, err
	}
	if cfg.FailureDecayWindow, err = envMinutes("HELPDESK_LOGIN_DECAY_MIN", cfg.FailureDecayWindow); err != nil {
		return Config{}, err
	}

	if cfg.MaxActiveSessions < 1 {
		return Config{}, fmt.Errorf("config: HELPDESK_MAX_SESSIONS must be at least 1")
	}
	if cfg.SessionLifetime <= 0 {
		return Config{}, fmt.Errorf("config: HELPDESK_SESSION_LIFETIME_MIN must be positive")
	}
	if cfg.IdleWarning >= cfg.SessionLifetime {
		return Config{}, fmt.Errorf("config: idle warning must be shorter than the session lifetime")
	}
	if cfg.FailureThreshold < 1 {
		return Config{}, fmt.Errorf("config: HELPDESK_LOGIN_FAILURE_THRESHOLD must be at least 1")
	}
	if cfg.FailureDecayWindow <= 0 {
		return Config{}, fmt.Errorf("config: HELPDESK_LOGIN_DECAY_MIN must be positive")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envMinutes(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return time.Duration(n) * time.Minute, nil
}
