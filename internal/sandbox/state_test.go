package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) (*Dirs, *StateStore) {
	t.Helper()
	d := newTestDirs(t)
	return d, NewStateStore(d)
}

func TestStateStore_LoadMissingIsEmpty(t *testing.T) {
	_, s := newTestState(t)

	vars, err := s.Load("client-a")
	require.NoError(t, err)
	assert.Empty(t, vars)
	assert.NotNil(t, vars)
}

func TestStateStore_SaveLoadRoundTrip(t *testing.T) {
	d, s := newTestState(t)

	in := map[string]any{"name": "alice", "count": float64(3), "flag": true}
	require.NoError(t, s.Save("client-a", in))

	out, err := s.Load("client-a")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// The bag lands inside the client's jail.
	jail, err := d.Jail("client-a")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(jail, stateFileName))
}

func TestStateStore_SaveNilWritesEmptyBag(t *testing.T) {
	_, s := newTestState(t)
	require.NoError(t, s.Save("client-a", nil))

	vars, err := s.Load("client-a")
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestStateStore_ClientsDoNotShareState(t *testing.T) {
	_, s := newTestState(t)
	require.NoError(t, s.Save("client-a", map[string]any{"k": "a"}))
	require.NoError(t, s.Save("client-b", map[string]any{"k": "b"}))

	a, err := s.Load("client-a")
	require.NoError(t, err)
	b, err := s.Load("client-b")
	require.NoError(t, err)
	assert.Equal(t, "a", a["k"])
	assert.Equal(t, "b", b["k"])
}

func TestStateStore_Clear(t *testing.T) {
	d, s := newTestState(t)
	require.NoError(t, s.Save("client-a", map[string]any{"k": "v"}))
	require.NoError(t, s.Clear("client-a"))

	vars, err := s.Load("client-a")
	require.NoError(t, err)
	assert.Empty(t, vars)

	jail, err := d.Jail("client-a")
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(jail, stateFileName))
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, s.Clear("client-a"), "clearing absent state is fine")
}
