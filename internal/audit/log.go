package audit

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"ascms.org/internal/auth"
	"ascms.org/internal/obs"
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

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry for an administrative or security-relevant action,
// enriched with the request id and the acting principal.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  event,
		"fields": map[string]any{},
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		entry["actor_id"] = p.UserID
		entry["actor_email"] = p.Email
		if p.GroupName != "" {
			entry["actor_group"] = p.GroupName
		}
	}
	if len(fields) > 0 {
		entry["fields"] = maps.Clone(fields)
	}
	obs.LogRequest(entry)
	return nil
}
