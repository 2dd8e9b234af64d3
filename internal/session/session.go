// Package session threads the acting user and the indexing flag through
// context.Context so that background continuations carry them explicitly.
package session

import (
	"context"

	"github.com/roach88/memberprop/internal/model"
)

type ctxKey int

const (
	actorKey ctxKey = iota
	indexingKey
)

// WithActor returns a context carrying the acting user.
func WithActor(ctx context.Context, actor model.User) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// Actor returns the acting user, if any.
func Actor(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(actorKey).(model.User)
	return u, ok
}

// WithIndexing marks the context as running a derived conversation
// recomputation rather than a direct user action.
func WithIndexing(ctx context.Context) context.Context {
	return context.WithValue(ctx, indexingKey, true)
}

// IsIndexing reports whether WithIndexing was applied.
func IsIndexing(ctx context.Context) bool {
	v, _ := ctx.Value(indexingKey).(bool)
	return v
}
