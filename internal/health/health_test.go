package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"tenantcore.io/internal/cache"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type downCache struct{ cache.Noop }

func (downCache) Ping(context.Context) error { return errors.New("connection refused") }
func (downCache) Name() string               { return "redis" }

func memory(heap, limit uint64) MemoryStats {
	return func() (uint64, uint64) { return heap, limit }
}

var (
	dbUp   = pingerFunc(func(context.Context) error { return nil })
	dbDown = pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") })
)

func TestOverall(t *testing.T) {
	cases := []struct {
		name string
		in   []Status
		want Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
		{"empty", nil, StatusHealthy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var checks []Check
			for _, s := range tc.in {
				checks = append(checks, Check{Status: s})
			}
			if got := Overall(checks); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestMemoryThresholds(t *testing.T) {
	cases := []struct {
		heap uint64
		want Status
	}{
		{50, StatusHealthy},
		{75, StatusHealthy},
		{76, StatusDegraded},
		{91, StatusUnhealthy},
	}
	for _, tc := range cases {
		c := New(dbUp, nil, WithMemoryStats(memory(tc.heap, 100)))
		if got := c.CheckMemory().Status; got != tc.want {
			t.Fatalf("heap %d: got %s want %s", tc.heap, got, tc.want)
		}
	}
	if got := New(dbUp, nil, WithMemoryStats(memory(1<<40, 0))).CheckMemory().Status; got != StatusHealthy {
		t.Fatalf("no limit should be healthy, got %s", got)
	}
}

func TestReadiness(t *testing.T) {
	mem := WithMemoryStats(memory(1, 100))
	if !New(dbUp, downCache{}, mem).Ready(context.Background()) {
		t.Fatalf("degraded cache should still be ready")
	}
	if New(dbDown, cache.Noop{}, mem).Ready(context.Background()) {
		t.Fatalf("database down should not be ready")
	}
	if New(nil, nil, mem).Ready(context.Background()) {
		t.Fatalf("missing database should not be ready")
	}
}

func TestLiveness(t *testing.T) {
	if !New(dbDown, nil, WithMemoryStats(memory(10, 100))).Alive() {
		t.Fatalf("liveness should ignore dependencies")
	}
	if New(dbUp, nil, WithMemoryStats(memory(95, 100))).Alive() {
		t.Fatalf("exhausted memory should not be alive")
	}
}

func TestReport(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	now := start
	c := New(dbUp, downCache{},
		WithMemoryStats(memory(10, 100)),
		WithVersion("1.2.3"),
		WithClock(func() time.Time { return now }),
	)
	now = start.Add(90 * time.Second)

	r := c.Report(context.Background())
	if r.Overall != StatusDegraded {
		t.Fatalf("expected degraded overall, got %s", r.Overall)
	}
	if len(r.Checks) != 3 || r.Checks[0].Name != "database" || r.Checks[1].Name != "cache" || r.Checks[2].Name != "memory" {
		t.Fatalf("unexpected checks: %+v", r.Checks)
	}
	if r.UptimeSeconds != 90 || r.Version != "1.2.3" {
		t.Fatalf("unexpected report: %+v", r)
	}
}
