// Package grpcapi exposes the gRPC surface: standard health checking plus a
// unary interceptor that admits calls through the tenant gate.
package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"tenantcore.io/internal/auth"
	"tenantcore.io/internal/gate"
)

// ServiceName is reported by the health service.
const ServiceName = "tenantcore-api"

// ReadinessChecker is satisfied by *health.Checker.
type ReadinessChecker interface {
	Ready(ctx context.Context) bool
}

// Server wires the health service and the admission interceptor.
type Server struct {
	grpc      *grpc.Server
	health    *health.Server
	readiness ReadinessChecker
	interval  time.Duration
	logger    *slog.Logger
}

// New builds a server admitting calls through g. Register additional
// services on Server.GRPC before Serve.
func New(g *gate.Gate, readiness ReadinessChecker, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hs := health.NewServer()
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryAdmission(g)))
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, hs)
	return &Server{
		grpc:      srv,
		health:    hs,
		readiness: readiness,
		interval:  5 * time.Second,
		logger:    logger.With("component", "grpcapi"),
	}
}

// GRPC returns the underlying server.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// Serve publishes readiness and serves lis until Stop.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.refresh(ctx)
	go s.watch(ctx)
	return s.grpc.Serve(lis)
}

// Stop drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) watch(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.refresh(ctx)
		}
	}
}

// refresh mirrors the readiness probe into the health service.
func (s *Server) refresh(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil && !s.readiness.Ready(ctx) {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// UnaryAdmission admits every call except health checks. The bearer token
// is read from the "authorization" metadata key.
func UnaryAdmission(g *gate.Gate) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/"+healthpb.Health_ServiceDesc.ServiceName+"/") {
			return handler(ctx, req)
		}
		var authz string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				authz = v[0]
			}
		}
		ctx, _, err := g.AdmitContext(ctx, gate.Request{
			Path:          info.FullMethod,
			Authorization: authz,
			IPAddress:     peerIP(ctx),
		})
		if err != nil {
			return nil, StatusOf(err)
		}
		return handler(ctx, req)
	}
}

// StatusOf maps the security taxonomy to a gRPC status.
func StatusOf(err error) error {
	var ae *auth.Error
	if !errors.As(err, &ae) {
		return status.Error(codes.Internal, "internal error")
	}
	switch {
	case errors.Is(err, auth.ErrAuthentication):
		return status.Error(codes.Unauthenticated, ae.Message)
	case errors.Is(err, auth.ErrPaymentRequired):
		return status.Error(codes.FailedPrecondition, ae.Message)
	case errors.Is(err, auth.ErrAccountSuspended), errors.Is(err, auth.ErrAuthorization):
		return status.Error(codes.PermissionDenied, ae.Message)
	default:
		return status.Error(codes.Internal, ae.Message)
	}
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
