package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds process configuration read from the environment.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":9090"`

	DatabaseURL string `env:"DATABASE_URL"`
	// RedisURL selects the tenant cache backend; empty means in-process memory.
	RedisURL string `env:"REDIS_URL"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaAuditTopic string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"tenantcore.audit"`

	JWTSecret         string        `env:"JWT_SECRET"`
	InvestorJWTSecret string        `env:"INVESTOR_JWT_SECRET"`
	AccessTokenTTL    time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL   time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"336h"`

	TenantCacheTTL     time.Duration `env:"TENANT_CACHE_TTL" envDefault:"5m"`
	PermissionCacheTTL time.Duration `env:"PERMISSION_CACHE_TTL" envDefault:"0s"`
	PublicPaths        []string      `env:"PUBLIC_PATHS" envSeparator:","`
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is honored.
	TrustedProxies     []string      `env:"TRUSTED_PROXIES" envSeparator:","`

	RateLimitBurst     int   `env:"RATE_LIMIT_BURST" envDefault:"20"`
	RateLimitPerSecond int   `env:"RATE_LIMIT_PER_SECOND" envDefault:"5"`
	MaxBodyBytes       int64 `env:"MAX_BODY_BYTES" envDefault:"1048576"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file and parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.InvestorJWTSecret == "" {
		cfg.InvestorJWTSecret = cfg.JWTSecret
	}
	cfg.PublicPaths = compact(cfg.PublicPaths)
	cfg.KafkaBrokers = compact(cfg.KafkaBrokers)
	cfg.TrustedProxies = compact(cfg.TrustedProxies)
	return cfg, nil
}

// Validate reports settings the API server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.TenantCacheTTL <= 0 {
		errs = append(errs, errors.New("TENANT_CACHE_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
