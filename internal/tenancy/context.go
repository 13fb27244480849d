package tenancy

import "context"

type ctxKey string

const tenantKey ctxKey = "appointments.tenant_id"

// WithTenantID stores the authenticated tenant id in context. Only the
// credential middleware calls this; handlers read it back once and pass a
// Tenant value explicitly from there on.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantIDFromContext extracts the tenant id if present.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(tenantKey)
	if val == nil {
		return "", false
	}
	tenantID, ok := val.(string)
	return tenantID, ok && tenantID != ""
}
