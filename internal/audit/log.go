package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"autoconfig.org/internal/obs"
)

type ctxKey string

const (
	runIDKey  ctxKey = "audit_run_id"
	tenantKey ctxKey = "audit_tenant"
)

// WithRunID attaches the workflow run identifier to the context for audit logging.
func WithRunID(ctx context.Context, runID string) context.Context {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run id attached by WithRunID.
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// WithTenant records the tenant a workflow operates on.
func WithTenant(ctx context.Context, tenant string) context.Context {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey, tenant)
}

func tenantFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(tenantKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with run and tenant context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zf := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := RunIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("run_id", rid))
	}
	if tenant := tenantFromContext(ctx); tenant != "" {
		zf = append(zf, zap.String("tenant", tenant))
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	zf = append(zf, zap.Any("fields", copyFields))

	obs.Logger().Info("audit", zf...)
	return nil
}
