package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// bcrypt.MinCost keeps the hashing fast in tests.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(filepath.Join(t.TempDir(), "clients.json"), bcrypt.MinCost)
}

func TestRegistry_CreateDefaults(t *testing.T) {
	reg := newTestRegistry(t)

	rec, err := reg.Create("alice", "s3cret", "alice@example.com", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ClientID)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, []string{"user"}, rec.Roles, "roles default to user")
	assert.True(t, rec.Enabled)
	assert.Nil(t, rec.LastLogin)
	assert.NotEqual(t, "s3cret", rec.PasswordHash, "password must never be stored raw")
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestRegistry_CreateRejectsDuplicateUsername(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Create("alice", "one", "", nil)
	require.NoError(t, err)

	_, err = reg.Create("alice", "two", "", nil)
	assert.ErrorIs(t, err, ErrExists)
}

func TestRegistry_CreateKeepsExplicitRoles(t *testing.T) {
	reg := newTestRegistry(t)

	rec, err := reg.Create("root", "pw", "", []string{"admin", "user"})
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "user"}, rec.Roles)
}

func TestRegistry_Authenticate(t *testing.T) {
	reg := newTestRegistry(t)
	created, err := reg.Create("alice", "s3cret", "", nil)
	require.NoError(t, err)

	rec, err := reg.Authenticate("alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, created.ClientID, rec.ClientID)
	require.NotNil(t, rec.LastLogin, "successful login stamps last_login")

	persisted, err := reg.Get(created.ClientID)
	require.NoError(t, err)
	assert.NotNil(t, persisted.LastLogin)
}

func TestRegistry_AuthenticateWrongPassword(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Create("alice", "s3cret", "", nil)
	require.NoError(t, err)

	_, err = reg.Authenticate("alice", "wrong")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestRegistry_AuthenticateUnknownUser(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Authenticate("ghost", "pw")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAuthentication)
}

func TestRegistry_AuthenticateDisabledAccount(t *testing.T) {
	reg := newTestRegistry(t)
	rec, err := reg.Create("alice", "s3cret", "", nil)
	require.NoError(t, err)
	require.NoError(t, reg.SetEnabled(rec.ClientID, false))

	_, err = reg.Authenticate("alice", "s3cret")
	assert.ErrorIs(t, err, ErrAuthentication, "disabled accounts fail exactly like bad passwords")
}

func TestRegistry_GetByUsername(t *testing.T) {
	reg := newTestRegistry(t)
	created, err := reg.Create("alice", "pw", "", nil)
	require.NoError(t, err)

	rec, err := reg.GetByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, created.ClientID, rec.ClientID)

	_, err = reg.GetByUsername("bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ListAndDelete(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.Create("alice", "pw", "", nil)
	require.NoError(t, err)
	_, err = reg.Create("bob", "pw", "", nil)
	require.NoError(t, err)

	records, err := reg.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, reg.Delete(a.ClientID))
	records, err = reg.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "bob", records[0].Username)

	assert.ErrorIs(t, reg.Delete(a.ClientID), ErrNotFound)
}

func TestRegistry_Roles(t *testing.T) {
	reg := newTestRegistry(t)
	rec, err := reg.Create("alice", "pw", "", nil)
	require.NoError(t, err)

	require.NoError(t, reg.AddRole(rec.ClientID, "admin"))
	require.NoError(t, reg.AddRole(rec.ClientID, "admin"), "re-adding is a no-op")

	got, err := reg.Get(rec.ClientID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user", "admin"}, got.Roles)

	require.NoError(t, reg.RemoveRole(rec.ClientID, "user"))
	got, err = reg.Get(rec.ClientID)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, got.Roles)
}

func TestRegistry_UpdateMetadataMerges(t *testing.T) {
	reg := newTestRegistry(t)
	rec, err := reg.Create("alice", "pw", "", nil)
	require.NoError(t, err)

	require.NoError(t, reg.UpdateMetadata(rec.ClientID, map[string]any{"team": "data", "tier": "gold"}))
	require.NoError(t, reg.UpdateMetadata(rec.ClientID, map[string]any{"tier": "platinum"}))

	got, err := reg.Get(rec.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "data", got.Metadata["team"], "untouched keys survive later updates")
	assert.Equal(t, "platinum", got.Metadata["tier"])
}

func TestRegistry_PersistsAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")

	first := NewRegistry(path, bcrypt.MinCost)
	created, err := first.Create("alice", "s3cret", "", nil)
	require.NoError(t, err)

	second := NewRegistry(path, bcrypt.MinCost)
	rec, err := second.Authenticate("alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, created.ClientID, rec.ClientID)
}

func TestRecord_HasRole(t *testing.T) {
	rec := Record{Roles: []string{"user", "auditor"}}
	assert.True(t, rec.HasRole("auditor"))
	assert.False(t, rec.HasRole("admin"))
}
