package affinity

import (
	"context"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
)

// GlobalStore keeps the binding in a single shared slot.
//
// It performs no locking of its own: callers that mutate it from more
// than one goroutine must serialize access externally. Within a policy
// the dispatcher's mutex provides that serialization.
type GlobalStore struct {
	current entities.EnvironmentHandle
}

// NewGlobalStore returns an empty global store.
func NewGlobalStore() *GlobalStore {
	return &GlobalStore{}
}

func (s *GlobalStore) Current(context.Context) entities.EnvironmentHandle {
	return s.current
}

func (s *GlobalStore) SetCurrent(ctx context.Context, env entities.EnvironmentHandle) context.Context {
	s.current = env
	return ctx
}

func (s *GlobalStore) Clear(ctx context.Context) context.Context {
	s.current = nil
	return ctx
}
