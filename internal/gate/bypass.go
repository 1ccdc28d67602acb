package gate

import (
	"path"
	"strings"
)

// DefaultPublicPaths are never intercepted: probes and the endpoints a
// caller uses to obtain a token in the first place.
var DefaultPublicPaths = []string{
	"/healthz",
	"/readyz",
	"/livez",
	"/metrics",
	"/v1/auth/login",
	"/v1/auth/register",
	"/v1/auth/refresh",
}

// BypassList matches request paths that skip admission. Entries ending in
// "/*" match by prefix. Configure before serving traffic.
type BypassList struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewBypassList returns a list containing paths.
func NewBypassList(paths ...string) *BypassList {
	b := &BypassList{exact: make(map[string]struct{})}
	b.MarkPublic(paths...)
	return b
}

// DefaultBypassList returns DefaultPublicPaths plus extra.
func DefaultBypassList(extra ...string) *BypassList {
	b := NewBypassList(DefaultPublicPaths...)
	b.MarkPublic(extra...)
	return b
}

// MarkPublic adds paths to the list.
func (b *BypassList) MarkPublic(paths ...string) {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(p, "/*"); ok {
			b.prefixes = append(b.prefixes, prefix+"/")
			continue
		}
		b.exact[cleanPath(p)] = struct{}{}
	}
}

// Match reports whether requestPath bypasses the gate. Paths with "." or
// ".." segments never match.
func (b *BypassList) Match(requestPath string) bool {
	if b == nil || hasDotSegment(requestPath) {
		return false
	}
	p := cleanPath(requestPath)
	if _, ok := b.exact[p]; ok {
		return true
	}
	for _, prefix := range b.prefixes {
		if strings.HasPrefix(p+"/", prefix) {
			return true
		}
	}
	return false
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func hasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}
