package affinity_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envkit-dev/envkit-sdk/affinity"
	"github.com/envkit-dev/envkit-sdk/domain/entities"
)

type handle string

func (h handle) EnvironmentID() string { return string(h) }

func TestStores_SetGetClear(t *testing.T) {
	tests := []struct {
		name  string
		store affinity.Store
	}{
		{"global", affinity.NewGlobalStore()},
		{"goroutine", affinity.NewGoroutineStore()},
		{"context", affinity.NewContextStore()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			require.Nil(t, tt.store.Current(ctx), "fresh store must be empty")

			ctx = tt.store.SetCurrent(ctx, handle("env-a"))
			got := tt.store.Current(ctx)
			require.NotNil(t, got)
			assert.Equal(t, "env-a", got.EnvironmentID())

			ctx = tt.store.Clear(ctx)
			assert.Nil(t, tt.store.Current(ctx))
		})
	}
}

func TestGoroutineStore_IsolatesConcurrentGoroutines(t *testing.T) {
	store := affinity.NewGoroutineStore()
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	mismatches := make(chan string, n)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mine := handle(fmt.Sprintf("env-%d", i))
			store.SetCurrent(ctx, mine)
			defer store.Clear(ctx)

			got := store.Current(ctx)
			if got == nil || got.EnvironmentID() != string(mine) {
				mismatches <- fmt.Sprintf("goroutine %d observed %v", i, got)
			}
		}()
	}
	wg.Wait()
	close(mismatches)

	for m := range mismatches {
		t.Error(m)
	}
}

func TestGoroutineStore_InvisibleAcrossGoroutines(t *testing.T) {
	store := affinity.NewGoroutineStore()
	ctx := store.SetCurrent(context.Background(), handle("env-a"))
	defer store.Clear(ctx)

	observed := make(chan entities.EnvironmentHandle, 1)
	go func() {
		observed <- store.Current(ctx)
	}()

	assert.Nil(t, <-observed, "another goroutine must not see this goroutine's binding")
}

func TestContextStore_SurvivesGoroutineHop(t *testing.T) {
	store := affinity.NewContextStore()
	ctx := store.SetCurrent(context.Background(), handle("env-a"))

	// Resume "the same task" on a different goroutine by handing the
	// context over, the way schedulers do.
	observed := make(chan entities.EnvironmentHandle, 1)
	go func(ctx context.Context) {
		observed <- store.Current(ctx)
	}(ctx)

	got := <-observed
	require.NotNil(t, got)
	assert.Equal(t, "env-a", got.EnvironmentID())
}

func TestContextStore_SiblingTasksAreIsolated(t *testing.T) {
	store := affinity.NewContextStore()
	parent := context.Background()

	ctxA := store.SetCurrent(parent, handle("env-a"))
	ctxB := store.SetCurrent(parent, handle("env-b"))

	assert.Equal(t, "env-a", store.Current(ctxA).EnvironmentID())
	assert.Equal(t, "env-b", store.Current(ctxB).EnvironmentID())
	assert.Nil(t, store.Current(parent), "parent scope must stay untouched")
}

func TestContextStore_InstancesDoNotShareBindings(t *testing.T) {
	first := affinity.NewContextStore()
	second := affinity.NewContextStore()

	ctx := first.SetCurrent(context.Background(), handle("env-a"))
	assert.Nil(t, second.Current(ctx))
}
