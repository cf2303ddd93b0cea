package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContexts(t *testing.T) *Contexts {
	t.Helper()
	d := newTestDirs(t)
	return NewContexts(d, NewStateStore(d))
}

func TestContexts_GetCreatesLazily(t *testing.T) {
	m := newTestContexts(t)
	assert.Empty(t, m.Active())

	ctx, err := m.Get("client-a")
	require.NoError(t, err)
	assert.Equal(t, "client-a", ctx.ClientID())
	assert.DirExists(t, ctx.WorkingDir())
	assert.Equal(t, []string{"client-a"}, m.Active())

	again, err := m.Get("client-a")
	require.NoError(t, err)
	assert.Same(t, ctx, again)
}

func TestContext_Variables(t *testing.T) {
	m := newTestContexts(t)
	ctx, err := m.Get("client-a")
	require.NoError(t, err)

	_, ok := ctx.GetVariable("missing")
	assert.False(t, ok)

	ctx.SetVariable("name", "alice")
	v, ok := ctx.GetVariable("name")
	require.True(t, ok)
	assert.Equal(t, "alice", v)

	assert.True(t, ctx.DeleteVariable("name"))
	assert.False(t, ctx.DeleteVariable("name"))
}

func TestContext_VariablesReturnsCopy(t *testing.T) {
	m := newTestContexts(t)
	ctx, err := m.Get("client-a")
	require.NoError(t, err)
	ctx.SetVariable("k", "v")

	snapshot := ctx.Variables()
	snapshot["k"] = "tampered"

	v, _ := ctx.GetVariable("k")
	assert.Equal(t, "v", v)
}

func TestContext_ExecutionCounter(t *testing.T) {
	m := newTestContexts(t)
	ctx, err := m.Get("client-a")
	require.NoError(t, err)

	assert.Equal(t, 1, ctx.IncrementExecutions())
	assert.Equal(t, 2, ctx.IncrementExecutions())

	stats := ctx.Stats()
	assert.Equal(t, 2, stats.Executions)
	assert.Equal(t, "client-a", stats.ClientID)
}

func TestContexts_PersistAndRehydrate(t *testing.T) {
	d := newTestDirs(t)
	state := NewStateStore(d)

	m := NewContexts(d, state)
	ctx, err := m.Get("client-a")
	require.NoError(t, err)
	ctx.SetVariable("greeting", "hello")
	require.NoError(t, m.Persist("client-a"))

	// A fresh manager over the same directories sees the saved bag.
	fresh := NewContexts(d, state)
	rehydrated, err := fresh.Get("client-a")
	require.NoError(t, err)
	v, ok := rehydrated.GetVariable("greeting")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestContexts_PersistUnknownClientIsNoop(t *testing.T) {
	m := newTestContexts(t)
	assert.NoError(t, m.Persist("never-seen"))
}

func TestContexts_Drop(t *testing.T) {
	m := newTestContexts(t)
	ctx, err := m.Get("client-a")
	require.NoError(t, err)
	ctx.SetVariable("k", "v")

	m.Drop("client-a")
	assert.Empty(t, m.Active())

	// Dropping loses in-memory state that was never persisted.
	fresh, err := m.Get("client-a")
	require.NoError(t, err)
	_, ok := fresh.GetVariable("k")
	assert.False(t, ok)
}
