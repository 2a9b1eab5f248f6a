package affinity

import (
	"context"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
)

// contextKey scopes bindings to one ContextStore instance, so two stores
// never observe each other's values on the same context.
type contextKey struct{ store *ContextStore }

// ContextStore carries the binding inside a context.Context. Because
// contexts flow along a logical task and are captured at spawn points,
// code after a suspension observes the same current environment even
// when it resumes on a different goroutine, and concurrent sibling tasks
// never observe each other's binding.
type ContextStore struct {
	// name keeps instances non-zero-sized so each pointer stays unique
	// as a context key, and labels the store in diagnostics.
	name string
}

// NewContextStore returns a context-propagating store.
func NewContextStore() *ContextStore {
	return &ContextStore{name: "environment"}
}

func (s *ContextStore) Current(ctx context.Context) entities.EnvironmentHandle {
	v, _ := ctx.Value(contextKey{s}).(entities.EnvironmentHandle)
	return v
}

func (s *ContextStore) SetCurrent(ctx context.Context, env entities.EnvironmentHandle) context.Context {
	return context.WithValue(ctx, contextKey{s}, env)
}

func (s *ContextStore) Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{s}, entities.EnvironmentHandle(nil))
}
