package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestCanonicalPath(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/v1/users/{userID}/roles", func(w http.ResponseWriter, req *http.Request) {})
	h := Instrument(r)

	capture := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			got = CanonicalPath(req)
		})
	}
	r2 := chi.NewRouter()
	r2.Use(capture)
	r2.Get("/v1/users/{userID}/roles", func(w http.ResponseWriter, req *http.Request) {})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/users/abc/roles", nil))
	r2.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/users/abc/roles", nil))
	if got != "/v1/users/{userID}/roles" {
		t.Fatalf("CanonicalPath=%q", got)
	}

	if p := CanonicalPath(httptest.NewRequest(http.MethodGet, "/nowhere", nil)); p != "unmatched" {
		t.Fatalf("expected unmatched, got %q", p)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"WARN":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"verbose": "INFO",
	}
	for input, want := range cases {
		if got := ParseLevel(input).String(); got != want {
			t.Fatalf("ParseLevel(%q)=%s, want %s", input, got, want)
		}
	}
}
