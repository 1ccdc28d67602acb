package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenantcore.io/internal/audit"
	"tenantcore.io/internal/audit/kafkasink"
	"tenantcore.io/internal/auth"
	"tenantcore.io/internal/cache"
	"tenantcore.io/internal/config"
	"tenantcore.io/internal/gate"
	"tenantcore.io/internal/grpcapi"
	"tenantcore.io/internal/health"
	"tenantcore.io/internal/httpapi"
	"tenantcore.io/internal/migrate"
	"tenantcore.io/internal/obs"
	"tenantcore.io/internal/rbac"
	"tenantcore.io/internal/store/pg"
	"tenantcore.io/internal/tenant"
	"tenantcore.io/ops/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(os.Stdout, cfg.LogLevel)
	obs.SetLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), migrations.Schema(), migrations.Seeds())
	if err := mgr.Up(ctx); err != nil {
		return err
	}
	if err := mgr.Seed(ctx); err != nil {
		return err
	}

	var tenantCache cache.Cache = cache.NewMemory(nil)
	if cfg.RedisURL != "" {
		rc, err := cache.DialRedis(ctx, cfg.RedisURL, "tenantcore:")
		if err != nil {
			return err
		}
		defer rc.Close()
		tenantCache = rc
	}

	ledgerOpts := []audit.Option{audit.WithLogger(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := kafkasink.Dial(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		if err != nil {
			return err
		}
		defer sink.Close()
		ledgerOpts = append(ledgerOpts, audit.WithSink(sink))
	}

	tokenOpts := []auth.TokenOption{auth.WithAccessTTL(cfg.AccessTokenTTL), auth.WithRefreshTTL(cfg.RefreshTokenTTL)}
	userTokens, err := auth.NewTokenService(auth.PopulationUser, cfg.JWTSecret, store, tokenOpts...)
	if err != nil {
		return err
	}
	investorTokens, err := auth.NewTokenService(auth.PopulationInvestor, cfg.InvestorJWTSecret, store, tokenOpts...)
	if err != nil {
		return err
	}

	tenants := tenant.NewDirectory(store, tenantCache, tenant.WithTTL(cfg.TenantCacheTTL), tenant.WithLogger(logger))
	resolverOpts := []rbac.Option{rbac.WithLogger(logger)}
	if cfg.PermissionCacheTTL > 0 {
		resolverOpts = append(resolverOpts, rbac.WithCacheTTL(cfg.PermissionCacheTTL))
	}
	checker := health.New(store, tenantCache, health.WithVersion(version))
	trusted, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Deps{
		Users:       auth.NewAuthenticator(userTokens, store, logger),
		Investors:   auth.NewAuthenticator(investorTokens, store, logger),
		Tenants:     tenants,
		Permissions: rbac.NewResolver(store, resolverOpts...),
		Audit:       audit.New(store, ledgerOpts...),
		Health:      checker,
		Logger:      logger,
	}, httpapi.Options{
		PublicPaths:        cfg.PublicPaths,
		RateLimitBurst:     cfg.RateLimitBurst,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		Version:            version,
		TrustedProxies:     trusted,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcGate := gate.New(userTokens, tenants, nil, logger)
	grpcSrv := grpcapi.New(grpcGate, checker, logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("grpc listening", "addr", cfg.GRPCAddr)
		if err := grpcSrv.Serve(ctx, lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcSrv.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
