package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_URL", "postgres://localhost/tenantcore")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TenantCacheTTL != 5*time.Minute {
		t.Fatalf("tenant cache ttl=%v", cfg.TenantCacheTTL)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("access ttl=%v", cfg.AccessTokenTTL)
	}
	if cfg.InvestorJWTSecret != "s3cret" {
		t.Fatalf("investor secret should default to JWT_SECRET, got %q", cfg.InvestorJWTSecret)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadListsAndValidate(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PUBLIC_PATHS", " /v1/status , ,/docs/*")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.PublicPaths) != 2 || cfg.PublicPaths[0] != "/v1/status" || cfg.PublicPaths[1] != "/docs/*" {
		t.Fatalf("public paths=%q", cfg.PublicPaths)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("brokers=%q", cfg.KafkaBrokers)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "192.0.2.1" {
		t.Fatalf("trusted proxies=%q", cfg.TrustedProxies)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET") || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("unexpected error: %v", err)
	}
}
