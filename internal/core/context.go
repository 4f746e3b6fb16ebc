package core

import "context"

type contextKey string

const ctxKeyOwner contextKey = "export_owner"

// systemOwner is recorded on changes made by background maintenance.
const systemOwner = "system"

// ContextWithOwner records the identity on whose behalf work is done.
func ContextWithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ctxKeyOwner, owner)
}

// OwnerFromContext returns the identity stored by ContextWithOwner.
func OwnerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyOwner).(string); ok {
		return v
	}
	return ""
}
