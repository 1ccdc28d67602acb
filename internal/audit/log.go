package audit

import (
	"context"
	"log/slog"
	"strings"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// logUnchained writes the event as one structured line when it could not be
// chained, so the fact survives in the log pipeline.
func logUnchained(ctx context.Context, logger *slog.Logger, ev Event) {
	attrs := []any{
		"type", "audit",
		"chained", false,
		"tenant_id", ev.TenantID.String(),
		"actor_id", ev.ActorID,
		"actor_role", ev.ActorRole,
		"action", ev.Action,
		"resource_type", ev.ResourceType,
		"resource_id", ev.ResourceID,
		"success", ev.Success,
		"timestamp", FormatTimestamp(ev.Timestamp),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, "request_id", rid)
	}
	if src, ok := ev.Source.(HTTPSource); ok && src.RequestID != "" {
		attrs = append(attrs, "source_request_id", src.RequestID)
	}
	if len(ev.Details) > 0 {
		attrs = append(attrs, "details", ev.Details)
	}
	logger.InfoContext(ctx, "audit event", attrs...)
}
