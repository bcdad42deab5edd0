package accounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altmanapp/altman/internal/crypto"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "accounts.json"), nil)
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load())
	assert.Empty(t, s.List())

	s.Add(Account{UserID: 1, Username: "alice", Cookie: "c1", Status: "OK"})
	s.Add(Account{UserID: 2, Username: "bob", Cookie: "c2", Status: "Banned"})
	require.NoError(t, s.Save())

	reloaded := NewStore(s.path, nil)
	require.NoError(t, reloaded.Load())
	list := reloaded.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Username)
	assert.Equal(t, "Banned", list[1].Status)
}

func TestStoreFilePermissions(t *testing.T) {
	s := newTestStore(t)
	s.Add(Account{UserID: 1, Username: "alice", Cookie: "secret"})
	require.NoError(t, s.Save())

	info, err := os.Stat(s.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestAddReplacesSameUserID(t *testing.T) {
	s := newTestStore(t)
	s.Add(Account{UserID: 1, Username: "alice"})
	s.Add(Account{UserID: 1, Username: "alice2"})

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "alice2", list[0].Username)
}

func TestGetUpdateDelete(t *testing.T) {
	s := newTestStore(t)
	s.Add(Account{UserID: 7, Username: "eve"})

	got, err := s.Get(7)
	require.NoError(t, err)
	assert.Equal(t, "eve", got.Username)

	_, err = s.Get(8)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Update(7, func(a *Account) { a.Note = "alt" }))
	got, _ = s.Get(7)
	assert.Equal(t, "alt", got.Note)

	assert.True(t, s.Delete(7))
	assert.False(t, s.Delete(7))
}

func TestIsBannedLikeStatus(t *testing.T) {
	for _, status := range []string{"Banned", "Warned", "Terminated"} {
		assert.True(t, IsBannedLikeStatus(status), status)
	}
	for _, status := range []string{"OK", "Offline", "InGame", ""} {
		assert.False(t, IsBannedLikeStatus(status), status)
	}
}

func TestEnsureHBAKeys(t *testing.T) {
	a := Account{UserID: 1, Username: "alice"}
	require.NoError(t, EnsureHBAKeys(&a, nil))
	assert.NotEmpty(t, a.HBAPrivateKey)

	_, err := crypto.ParsePrivateKey(a.HBAPrivateKey)
	require.NoError(t, err)

	// Idempotent: an existing key is kept.
	key := a.HBAPrivateKey
	require.NoError(t, EnsureHBAKeys(&a, nil))
	assert.Equal(t, key, a.HBAPrivateKey)
}

func TestMigrateToHBA(t *testing.T) {
	s := newTestStore(t)
	s.Add(Account{UserID: 1, Username: "alice"})
	s.Add(Account{UserID: 2, Username: "bob", HBAPrivateKey: "existing"})
	s.Add(Account{UserID: 3, Username: "carol"})

	assert.Equal(t, 2, s.MigrateToHBA())

	bob, _ := s.Get(2)
	assert.Equal(t, "existing", bob.HBAPrivateKey)
	alice, _ := s.Get(1)
	assert.NotEmpty(t, alice.HBAPrivateKey)
}

func TestAuthConfig(t *testing.T) {
	a := Account{Cookie: "c", HBAPrivateKey: "k", HBAEnabled: true}
	auth := a.Auth()
	assert.Equal(t, "c", auth.Cookie)
	assert.Equal(t, "k", auth.HBAPrivateKey)
	assert.True(t, auth.HBAEnabled)
}
