package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimiterRejectsWithRetryAfter(t *testing.T) {
	lim := NewRateLimiter(1, 1)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	lim.now = func() time.Time { return now }

	h := RequestID(lim.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	h.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("first request: %d", first.Code)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, req.Clone(req.Context()))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q", second.Header().Get("Retry-After"))
	}
	var body map[string]any
	if err := json.Unmarshal(second.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "rate limit exceeded" || body["request_id"] == nil {
		t.Fatalf("unexpected body: %v", body)
	}

	other := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	req2.RemoteAddr = "10.0.0.2:4000"
	h.ServeHTTP(other, req2)
	if other.Code != http.StatusOK {
		t.Fatalf("buckets must be per client, got %d", other.Code)
	}

	now = now.Add(time.Second)
	third := httptest.NewRecorder()
	h.ServeHTTP(third, req.Clone(req.Context()))
	if third.Code != http.StatusOK {
		t.Fatalf("bucket should refill, got %d", third.Code)
	}
}

func TestRateLimiterSweepsIdleBuckets(t *testing.T) {
	lim := NewRateLimiter(1, 1)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	lim.now = func() time.Time { return now }

	lim.Allow("a")
	now = now.Add(10 * time.Minute)
	lim.Allow("b")
	if _, ok := lim.buckets["a"]; ok {
		t.Fatalf("idle bucket was not swept")
	}
	if len(lim.buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(lim.buckets))
	}
}

func TestLoggingJSONWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestID(LoggingJSON(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	req := httptest.NewRequest(http.MethodGet, "/brew", nil)
	req.Header.Set("X-Request-ID", "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatalf("no log output")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, line)
	}
	for _, key := range []string{"time", "level", "msg", "request_id", "method", "path", "status", "duration_ms"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("missing key %q in %s", key, line)
		}
	}
	if m["msg"] != "request_complete" || m["request_id"] != "req-42" || m["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected log line: %s", line)
	}
}

func TestRequestIDEchoAndReplace(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get("X-Request-ID") != "abc" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rec.Header().Get("X-Request-ID"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if len(seen) == 0 || len(seen) > 128 || rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("oversized request id should be replaced, got %q", seen)
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodOptions, "/v1/me", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("local origin should be allowed")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin must not be echoed")
	}
}
