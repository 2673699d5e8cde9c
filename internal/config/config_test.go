package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("ADMIN_BOOTSTRAP_PASSWORD", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.AdminBootstrapPassword != "" {
		t.Fatalf("expected empty ADMIN_BOOTSTRAP_PASSWORD when unset, got %q", cfg.AdminBootstrapPassword)
	}
}

func TestLoadDefaultsOfferMatchWindow(t *testing.T) {
	t.Setenv("OFFER_MATCH_WINDOW_SECONDS", "")
	if got := Load().OfferMatchWindowSeconds; got != 600 {
		t.Fatalf("default match window = %d, want 600", got)
	}

	t.Setenv("OFFER_MATCH_WINDOW_SECONDS", "-5")
	if got := Load().OfferMatchWindowSeconds; got != 600 {
		t.Fatalf("negative match window not clamped: %d", got)
	}

	t.Setenv("OFFER_MATCH_WINDOW_SECONDS", "120")
	if got := Load().OfferMatchWindowSeconds; got != 120 {
		t.Fatalf("match window override ignored: %d", got)
	}
}
