package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxActiveSessions != 3 {
		t.Fatalf("unexpected session cap: %d", cfg.MaxActiveSessions)
	}
	if cfg.SessionLifetime != 120*time.Minute {
		t.Fatalf("unexpected lifetime: %v", cfg.SessionLifetime)
	}
	if cfg.IdleWarning != 10*time.Minute {
		t.Fatalf("unexpected idle warning: %v", cfg.IdleWarning)
	}
	if cfg.FailureThreshold != 5 || cfg.FailureDecayWindow != 15*time.Minute {
		t.Fatalf("unexpected rate limit defaults: %d %v", cfg.FailureThreshold, cfg.FailureDecayWindow)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HELPDESK_MAX_SESSIONS", "5")
	t.Setenv("HELPDESK_SESSION_LIFETIME_MIN", "60")
	t.Setenv("HELPDESK_LOGIN_FAILURE_THRESHOLD", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxActiveSessions != 5 {
		t.Fatalf("override not applied: %d", cfg.MaxActiveSessions)
	}
	if cfg.SessionLifetime != time.Hour {
		t.Fatalf("override not applied: %v", cfg.SessionLifetime)
	}
	if cfg.FailureThreshold != 10 {
		t.Fatalf("override not applied: %d", cfg.FailureThreshold)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"HELPDESK_MAX_SESSIONS":            "0",
		"HELPDESK_SESSION_LIFETIME_MIN":    "-10",
		"HELPDESK_LOGIN_FAILURE_THRESHOLD": "abc",
		"HELPDESK_IDLE_WARNING_MIN":        "500",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}
