package gate

import (
	"net"
	"net/http"
)

// ErrorWriter renders an admission failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware admits every request not on the bypass list. Rejected requests
// never reach next.
func (g *Gate) Middleware(onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// match what the router sees; RawPath keeps %2F undecoded
			if r.Method == http.MethodOptions || g.Bypassed(r.URL.EscapedPath()) {
				g.countBypass()
				next.ServeHTTP(w, r)
				return
			}
			ctx, _, err := g.AdmitContext(r.Context(), Request{
				Path:          r.URL.Path,
				Authorization: r.Header.Get("Authorization"),
				IPAddress:     ClientIP(r),
			})
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the host of r.RemoteAddr. Forwarding headers are not
// read here; a trusted proxy layer rewrites RemoteAddr before the gate.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
