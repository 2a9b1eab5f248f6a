package wazerort_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/domain/errors"
	"github.com/envkit-dev/envkit-sdk/infrastructure/wazerort"
)

// emptyGuest is the smallest valid wasm module: magic and version, no
// exports. Enough to exercise lifecycle paths that never enter the
// guest.
var emptyGuest = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newRuntime(t *testing.T) *wazerort.Runtime {
	t.Helper()

	rt, err := wazerort.New(context.Background(), emptyGuest)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func TestNew_RejectsInvalidGuest(t *testing.T) {
	_, err := wazerort.New(context.Background(), []byte("not wasm"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "compile")
}

func TestCreateEnvironment_UniqueHandles(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	a, err := rt.CreateEnvironment(ctx)
	require.NoError(t, err)
	b, err := rt.CreateEnvironment(ctx)
	require.NoError(t, err)

	assert.False(t, entities.SameEnvironment(a, b))
}

func TestDisposeEnvironment_UnknownHandle(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	env, err := rt.CreateEnvironment(ctx)
	require.NoError(t, err)
	require.NoError(t, rt.DisposeEnvironment(ctx, env))
	assert.Error(t, rt.DisposeEnvironment(ctx, env))
}

type staticDispatcher struct {
	env entities.EnvironmentHandle
}

func (d staticDispatcher) CurrentEnvironment(context.Context) entities.EnvironmentHandle {
	return d.env
}

func TestRegisterPolicy_SingleSlot(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	require.NoError(t, rt.RegisterPolicy(ctx, staticDispatcher{}))

	err := rt.RegisterPolicy(ctx, staticDispatcher{})
	var conflict *errors.ConflictError
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, rt.UnregisterPolicy(ctx))
	var notRegistered *errors.NotRegisteredError
	require.ErrorAs(t, rt.UnregisterPolicy(ctx), &notRegistered)
}

func TestCurrentEnvironmentOfCaller(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	assert.Nil(t, rt.CurrentEnvironmentOfCaller(ctx))

	env, err := rt.CreateEnvironment(ctx)
	require.NoError(t, err)
	require.NoError(t, rt.RegisterPolicy(ctx, staticDispatcher{env: env}))

	assert.True(t, entities.SameEnvironment(env, rt.CurrentEnvironmentOfCaller(ctx)))
}

func TestRunInEnvironment_MissingRunExport(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	env, err := rt.CreateEnvironment(ctx)
	require.NoError(t, err)

	_, err = rt.RunInEnvironment(ctx, env, entities.SourceFromString("x = 1"))
	require.Error(t, err)
	assert.ErrorContains(t, err, `"run" not found`)
}

func TestRunInEnvironment_UnknownEnvironment(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	env, err := rt.CreateEnvironment(ctx)
	require.NoError(t, err)
	require.NoError(t, rt.DisposeEnvironment(ctx, env))

	_, err = rt.RunInEnvironment(ctx, env, entities.SourceFromString("x = 1"))
	assert.ErrorContains(t, err, "unknown environment")
}
