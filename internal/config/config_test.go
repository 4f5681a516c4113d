package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/casebridge_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.ConsentDefaultDays != 365 {
		t.Errorf("expected 365 day consent default, got %d", cfg.ConsentDefaultDays)
	}
	if cfg.AuditWriteTimeoutMS != 5000 {
		t.Errorf("expected 5000ms audit timeout, got %d", cfg.AuditWriteTimeoutMS)
	}
	if !cfg.IsDev() {
		t.Error("default env should be development")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("expected DATABASE_URL error, got %v", err)
	}
}

func TestValidateRequiresSigningKeyOutsideDev(t *testing.T) {
	cfg := &Config{Env: "production", ConsentDefaultDays: 365, AuditWriteTimeoutMS: 5000}
	if err := cfg.Validate(); err == nil {
		t.Error("production without signing key must be rejected")
	}

	cfg.AuthSigningKey = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("production with signing key should validate: %v", err)
	}

	dev := &Config{Env: "development", ConsentDefaultDays: 365, AuditWriteTimeoutMS: 5000}
	if err := dev.Validate(); err != nil {
		t.Errorf("development without signing key should validate: %v", err)
	}
}
