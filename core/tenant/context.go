package tenant

import "context"

type ctxKey int

const tenantKey ctxKey = 1

// NewContext returns a context carrying the resolved tenant. The tenant is
// always passed explicitly through context, never held in package state.
func NewContext(ctx context.Context, tnt Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, tnt)
}

// FromContext extracts the resolved tenant from ctx.
func FromContext(ctx context.Context) (Tenant, bool) {
	tnt, ok := ctx.Value(tenantKey).(Tenant)
	return tnt, ok
}
