package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadFallsBackOnMalformedNumbers(t *testing.T) {
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "soon")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")
	t.Setenv("SYNC_INTERVAL_SECONDS", "0")

	cfg := Load()
	if cfg.ReportCacheTTLSeconds != 60 {
		t.Fatalf("expected default cache ttl, got %d", cfg.ReportCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token ttl, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.SyncIntervalSeconds != 0 {
		t.Fatalf("zero sync interval disables the loop and must be kept, got %d", cfg.SyncIntervalSeconds)
	}
}

func TestLoadDataMode(t *testing.T) {
	t.Setenv("DATA_MODE", "OFFLINE")
	t.Setenv("MIGRATE_ON_START", "true")
	t.Setenv("DEFAULT_CURRENCY", "usd")

	cfg := Load()
	if !cfg.Offline() {
		t.Fatalf("expected offline mode, got %q", cfg.DataMode)
	}
	if !cfg.MigrateOnStart {
		t.Fatalf("expected MIGRATE_ON_START to parse")
	}
	if cfg.DefaultCurrency != "USD" {
		t.Fatalf("expected upper-cased currency, got %q", cfg.DefaultCurrency)
	}

	t.Setenv("DATA_MODE", "sideways")
	if Load().Offline() {
		t.Fatalf("unknown modes must fall back to online")
	}
}

func TestReportLocationFallsBackToUTC(t *testing.T) {
	cfg := Config{ReportTimezone: "Mars/Olympus"}
	if cfg.ReportLocation() != time.UTC {
		t.Fatalf("expected UTC fallback")
	}
}
