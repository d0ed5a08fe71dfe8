package main

import (
	"context"
	"testing"

	"cajero/backend/internal/config"
	"cajero/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestOpenRepositoryWithoutDatabaseUsesSeededMemory(t *testing.T) {
	repo, reconciler, closers, err := openRepository(context.Background(), config.Config{DataMode: config.DataModeOnline})
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if reconciler != nil || len(closers) != 0 {
		t.Fatalf("memory store needs no reconciler or closers")
	}
	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", repo)
	}
	if _, err := repo.GetTenant(context.Background(), memory.SeedTenantID); err != nil {
		t.Fatalf("expected seeded tenant: %v", err)
	}
}
