package obs

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationPrefix = "tenantcore.io/internal/"

// Tracer returns the named tracer for an internal package. Without a
// configured provider spans are no-ops.
func Tracer(pkg string) trace.Tracer {
	return otel.Tracer(instrumentationPrefix + pkg)
}
