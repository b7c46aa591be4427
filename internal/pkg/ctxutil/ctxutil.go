package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

type userIDKey struct{}

// WithUserID attaches the authenticated user id to the context.
// Set by the auth middleware, read by handlers and services.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

func UserID(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	id, ok := ctx.Value(userIDKey{}).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
