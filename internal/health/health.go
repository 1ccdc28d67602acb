// Package health reports dependency health for probes and operators.
package health

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"tenantcore.io/internal/cache"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const (
	memoryUnhealthyPercent = 90
	memoryDegradedPercent  = 75
	defaultCheckTimeout    = 2 * time.Second
)

// Check is the result of probing one dependency.
type Check struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	LatencyMS float64        `json:"latency_ms,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Report aggregates every check.
type Report struct {
	Overall       Status    `json:"overall"`
	Checks        []Check   `json:"checks"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Version       string    `json:"version"`
}

// Pinger is anything that can prove it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryStats reports heap bytes in use and the soft limit.
type MemoryStats func() (heapBytes, limitBytes uint64)

type Checker struct {
	db      Pinger
	cache   cache.Cache
	memory  MemoryStats
	version string
	timeout time.Duration
	now     func() time.Time
	started time.Time
}

type Option func(*Checker)

func WithVersion(v string) Option { return func(c *Checker) { c.version = v } }

func WithMemoryStats(fn MemoryStats) Option { return func(c *Checker) { c.memory = fn } }

func WithClock(now func() time.Time) Option { return func(c *Checker) { c.now = now } }

func WithTimeout(d time.Duration) Option { return func(c *Checker) { c.timeout = d } }

// New builds a Checker. A nil cache is reported as disabled.
func New(db Pinger, c cache.Cache, opts ...Option) *Checker {
	ch := &Checker{
		db:      db,
		cache:   c,
		memory:  runtimeMemoryStats,
		timeout: defaultCheckTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(ch)
	}
	ch.started = ch.now()
	return ch
}

// Report runs every check concurrently.
func (c *Checker) Report(ctx context.Context) Report {
	checks := make([]Check, 3)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		checks[0] = c.CheckDatabase(ctx)
	}()
	go func() {
		defer wg.Done()
		checks[1] = c.CheckCache(ctx)
	}()
	checks[2] = c.CheckMemory()
	wg.Wait()

	now := c.now()
	return Report{
		Overall:       Overall(checks),
		Checks:        checks,
		Timestamp:     now.UTC(),
		UptimeSeconds: math.Round(now.Sub(c.started).Seconds()*100) / 100,
		Version:       c.version,
	}
}

// Ready means the database is healthy and the cache is at worst degraded.
func (c *Checker) Ready(ctx context.Context) bool {
	if c.CheckDatabase(ctx).Status != StatusHealthy {
		return false
	}
	return c.CheckCache(ctx).Status != StatusUnhealthy
}

// Alive means memory is not exhausted.
func (c *Checker) Alive() bool {
	return c.CheckMemory().Status != StatusUnhealthy
}

// Overall is unhealthy if any check is, degraded if any check is, else healthy.
func Overall(checks []Check) Status {
	overall := StatusHealthy
	for _, ch := range checks {
		switch ch.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

func (c *Checker) CheckDatabase(ctx context.Context) Check {
	if c.db == nil {
		return Check{Name: "database", Status: StatusUnhealthy, Message: "database not configured"}
	}
	latency, err := c.ping(ctx, c.db)
	if err != nil {
		return Check{Name: "database", Status: StatusUnhealthy, Message: err.Error(), LatencyMS: latency}
	}
	return Check{Name: "database", Status: StatusHealthy, Message: "database connection successful", LatencyMS: latency}
}

// CheckCache degrades rather than fails: lookups fall through to the store
// when the cache is down.
func (c *Checker) CheckCache(ctx context.Context) Check {
	if c.cache == nil || c.cache.Name() == "noop" {
		return Check{Name: "cache", Status: StatusHealthy, Message: "cache disabled", Details: map[string]any{"backend": "noop"}}
	}
	details := map[string]any{"backend": c.cache.Name()}
	latency, err := c.ping(ctx, c.cache)
	if err != nil {
		return Check{Name: "cache", Status: StatusDegraded, Message: err.Error(), LatencyMS: latency, Details: details}
	}
	return Check{Name: "cache", Status: StatusHealthy, Message: "cache connection successful", LatencyMS: latency, Details: details}
}

func (c *Checker) CheckMemory() Check {
	heap, limit := c.memory()
	heapMB := math.Round(float64(heap)/1024/1024*100) / 100
	if limit == 0 || limit >= math.MaxInt64 {
		return Check{
			Name:    "memory",
			Status:  StatusHealthy,
			Message: "no memory limit set",
			Details: map[string]any{"heap_used_mb": heapMB},
		}
	}
	percent := float64(heap) / float64(limit) * 100
	status := StatusHealthy
	switch {
	case percent > memoryUnhealthyPercent:
		status = StatusUnhealthy
	case percent > memoryDegradedPercent:
		status = StatusDegraded
	}
	return Check{
		Name:    "memory",
		Status:  status,
		Message: fmt.Sprintf("memory usage: %.1f%%", percent),
		Details: map[string]any{
			"heap_used_mb":   heapMB,
			"memory_percent": math.Round(percent*100) / 100,
		},
	}
}

func (c *Checker) ping(ctx context.Context, p Pinger) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := c.now()
	err := p.Ping(ctx)
	return math.Round(float64(c.now().Sub(start).Microseconds())/10) / 100, err
}

func runtimeMemoryStats() (uint64, uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	limit := debug.SetMemoryLimit(-1)
	if limit < 0 {
		limit = 0
	}
	return ms.HeapAlloc, uint64(limit)
}
