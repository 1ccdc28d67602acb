package grpcapi

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"tenantcore.io/internal/auth"
	"tenantcore.io/internal/cache"
	"tenantcore.io/internal/gate"
	"tenantcore.io/internal/obs"
	"tenantcore.io/internal/tenant"
)

type fakeReadiness struct{ ready atomic.Bool }

func (f *fakeReadiness) Ready(context.Context) bool { return f.ready.Load() }

type fixture struct {
	tokens *auth.TokenService
	store  *tenant.MemoryStore
	gate   *gate.Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := auth.NewTokenService(auth.PopulationUser, "secret", nil)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	store := tenant.NewMemoryStore()
	dir := tenant.NewDirectory(store, cache.NewMemory(nil), tenant.WithLogger(obs.Discard()))
	return &fixture{tokens: tokens, store: store, gate: gate.New(tokens, dir, nil, obs.Discard())}
}

func (f *fixture) incoming(t *testing.T, status tenant.Status) context.Context {
	t.Helper()
	tn, err := f.store.CreateTenant(context.Background(), tenant.Tenant{Name: "T", Status: status})
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	token, _, err := f.tokens.Issue(auth.SubjectClaims{UserID: "user-1", TenantID: tn.ID.String(), Role: "agent"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
}

func TestHealthMirrorsReadiness(t *testing.T) {
	f := newFixture(t)
	ready := &fakeReadiness{}
	ready.ready.Store(true)
	srv := New(f.gate, ready, obs.Discard())

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}

	ready.ready.Store(false)
	srv.refresh(ctx)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", resp.GetStatus())
	}
}

func TestUnaryAdmission(t *testing.T) {
	f := newFixture(t)
	interceptor := UnaryAdmission(f.gate)
	info := &grpc.UnaryServerInfo{FullMethod: "/tenantcore.v1.Accounts/Get"}

	var admitted gate.SecurityContext
	handler := func(ctx context.Context, _ any) (any, error) {
		admitted, _ = gate.FromContext(ctx)
		return "ok", nil
	}

	cases := []struct {
		name    string
		ctx     context.Context
		want    codes.Code
		reaches bool
	}{
		{"no metadata", context.Background(), codes.Unauthenticated, false},
		{"active tenant", f.incoming(t, tenant.StatusActive), codes.OK, true},
		{"suspended tenant", f.incoming(t, tenant.StatusSuspended), codes.FailedPrecondition, false},
		{"blocked tenant", f.incoming(t, tenant.StatusBlocked), codes.PermissionDenied, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			admitted = gate.SecurityContext{}
			_, err := interceptor(tc.ctx, nil, info, handler)
			if got := status.Code(err); got != tc.want {
				t.Fatalf("code = %v, want %v (%v)", got, tc.want, err)
			}
			if tc.reaches && admitted.UserID() != "user-1" {
				t.Fatalf("handler did not see the security context")
			}
			if !tc.reaches && !admitted.IsZero() {
				t.Fatalf("handler must not run on rejection")
			}
		})
	}
}

func TestHealthMethodsBypassAdmission(t *testing.T) {
	f := newFixture(t)
	interceptor := UnaryAdmission(f.gate)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	out, err := interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) { return "ok", nil })
	if err != nil || out != "ok" {
		t.Fatalf("health check should bypass admission: %v %v", out, err)
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{auth.Unauthenticated("x", nil), codes.Unauthenticated},
		{auth.Forbidden("x"), codes.PermissionDenied},
		{auth.AccountSuspended("blocked", "x"), codes.PermissionDenied},
		{auth.PaymentRequired("x"), codes.FailedPrecondition},
		{auth.TenantRequired("x"), codes.Internal},
		{context.DeadlineExceeded, codes.Internal},
	}
	for _, tc := range cases {
		if got := status.Code(StatusOf(tc.err)); got != tc.want {
			t.Fatalf("%v: got %v want %v", tc.err, got, tc.want)
		}
	}
}
