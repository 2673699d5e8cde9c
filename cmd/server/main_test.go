package main

import (
	"testing"

	"retailpos/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigRejectsConflictingStores(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:  "0123456789abcdef0123456789abcdef",
		DatabaseURL: "postgres://localhost/pos",
		SQLitePath:  "pos.db",
	})
	if err == nil {
		t.Fatalf("expected conflicting store config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
