// Package auth carries the current user id through a request context.
// Authentication itself happens outside this service.
package auth

import "context"

type userKey struct{}

// UserSource resolves the current user. ok is false for anonymous requests.
type UserSource interface {
	CurrentUser(ctx context.Context) (userID string, ok bool)
}

// WithUser returns a context carrying userID. An empty id leaves ctx anonymous.
func WithUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, userID)
}

// FromContext returns the user stored by WithUser.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

// ContextSource is a UserSource backed by WithUser.
type ContextSource struct{}

func (ContextSource) CurrentUser(ctx context.Context) (string, bool) {
	return FromContext(ctx)
}

// Static always returns the same user. Empty means anonymous.
type Static string

func (s Static) CurrentUser(context.Context) (string, bool) {
	return string(s), s != ""
}
