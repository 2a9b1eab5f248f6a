package affinity

import (
	"context"
	"sync"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/internal/gid"
)

// GoroutineStore keeps one binding per goroutine, the Go rendering of a
// thread-local slot. Bindings are isolated by construction, so no
// external locking is needed.
//
// A binding set on goroutine A is invisible on goroutine B even when B
// logically continues A's work; use a ContextStore when bindings must
// follow a task across goroutines.
type GoroutineStore struct {
	slots sync.Map // goroutine id -> entities.EnvironmentHandle
}

// NewGoroutineStore returns an empty goroutine-local store.
func NewGoroutineStore() *GoroutineStore {
	return &GoroutineStore{}
}

func (s *GoroutineStore) Current(context.Context) entities.EnvironmentHandle {
	v, ok := s.slots.Load(gid.Current())
	if !ok {
		return nil
	}
	return v.(entities.EnvironmentHandle)
}

func (s *GoroutineStore) SetCurrent(ctx context.Context, env entities.EnvironmentHandle) context.Context {
	if env == nil {
		return s.Clear(ctx)
	}
	s.slots.Store(gid.Current(), env)
	return ctx
}

// Clear deletes the slot entirely so finished goroutines leave nothing
// behind in the map.
func (s *GoroutineStore) Clear(ctx context.Context) context.Context {
	s.slots.Delete(gid.Current())
	return ctx
}
