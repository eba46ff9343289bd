package opspilot

import (
	"context"
)

var instanceCtxKey = &contextKey{"instance"}
var userCtxKey = &contextKey{"session_user"}

type contextKey struct {
	name string
}

// WithInstance sets the application instance in the given context
func WithInstance(ctx context.Context, instance *Instance) context.Context {
	return context.WithValue(ctx, instanceCtxKey, instance)
}

// InstanceFromContext finds the application instance from the context.
func InstanceFromContext(ctx context.Context) (*Instance, bool) {
	raw, ok := ctx.Value(instanceCtxKey).(*Instance)
	return raw, ok && raw != nil
}

// WithSessionUser sets the SessionUser in the given context
func WithSessionUser(ctx context.Context, user *SessionUser) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// SessionUserFromContext finds the SessionUser from the context.
func SessionUserFromContext(ctx context.Context) (*SessionUser, bool) {
	raw, ok := ctx.Value(userCtxKey).(*SessionUser)
	return raw, ok && raw != nil
}

// IsManager reports whether the context user manages their team
func IsManager(ctx context.Context) bool {
	user, ok := SessionUserFromContext(ctx)
	return ok && user.IsManager()
}
