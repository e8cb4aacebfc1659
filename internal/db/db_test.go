package db_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hussein-Mazeh/passvault/internal/db"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "data", "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpen_CreatesDatabaseFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "vault.db")

	d, err := db.Open(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
	assert.Equal(t, dbPath, d.Path())
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := db.Open(context.Background(), "")
	assert.Error(t, err)
}

func TestOpen_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vault.db")
	ctx := context.Background()

	d, err := db.Open(ctx, dbPath)
	require.NoError(t, err)
	uid, err := d.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	require.NoError(t, d.StoreSecret(ctx, uid, "github", "envelope"))
	require.NoError(t, d.Close())

	d, err = db.Open(ctx, dbPath)
	require.NoError(t, err, "migrations must be idempotent")
	t.Cleanup(func() { _ = d.Close() })

	got, err := d.FetchSecret(ctx, uid, "github")
	require.NoError(t, err)
	assert.Equal(t, "envelope", got)
}

func TestUsers(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	n, err := d.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	id, err := d.CreateUser(ctx, "alice", "$argon2id$hash")
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = d.CreateUser(ctx, "alice", "other")
	assert.ErrorIs(t, err, db.ErrUserExists)

	u, err := d.UserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "$argon2id$hash", u.MasterHash)
	assert.False(t, u.CreatedAt.IsZero())

	_, err = d.UserByName(ctx, "bob")
	assert.ErrorIs(t, err, db.ErrNotFound)

	n, err = d.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSecrets_StoreFetchUpsert(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	uid, err := d.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)

	require.NoError(t, d.StoreSecret(ctx, uid, "github", "env-1"))
	got, err := d.FetchSecret(ctx, uid, "github")
	require.NoError(t, err)
	assert.Equal(t, "env-1", got)

	require.NoError(t, d.StoreSecret(ctx, uid, "github", "env-2"))
	got, err = d.FetchSecret(ctx, uid, "github")
	require.NoError(t, err)
	assert.Equal(t, "env-2", got)

	accounts, err := d.ListAccounts(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, accounts, 1, "upsert must not duplicate rows")
}

func TestSecrets_ScopedPerUser(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	alice, err := d.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	bob, err := d.CreateUser(ctx, "bob", "hash")
	require.NoError(t, err)

	require.NoError(t, d.StoreSecret(ctx, alice, "github", "alice-env"))

	_, err = d.FetchSecret(ctx, bob, "github")
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = d.FirstEnvelope(ctx, bob)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSecrets_UnknownUserRejected(t *testing.T) {
	d := openTestDB(t)

	err := d.StoreSecret(context.Background(), 999, "github", "env")
	assert.Error(t, err, "foreign key must be enforced")
}

func TestSecrets_ListFirstDelete(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	uid, err := d.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)

	for _, account := range []string{"zulip", "aws", "github"} {
		require.NoError(t, d.StoreSecret(ctx, uid, account, "env-"+account))
	}

	accounts, err := d.ListAccounts(ctx, uid)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, "aws", accounts[0].Name)
	assert.Equal(t, "github", accounts[1].Name)
	assert.Equal(t, "zulip", accounts[2].Name)
	assert.False(t, accounts[0].UpdatedAt.IsZero())

	first, err := d.FirstEnvelope(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "env-zulip", first)

	require.NoError(t, d.DeleteSecret(ctx, uid, "aws"))
	assert.ErrorIs(t, d.DeleteSecret(ctx, uid, "aws"), db.ErrNotFound)

	accounts, err = d.ListAccounts(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestNilHandle(t *testing.T) {
	var d *db.DB
	ctx := context.Background()

	_, err := d.CreateUser(ctx, "alice", "hash")
	assert.Error(t, err)
	_, err = d.FetchSecret(ctx, 1, "github")
	assert.Error(t, err)
	assert.NoError(t, d.Close())
	assert.Error(t, db.Migrate(d))
}

func TestReplaceMaster(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	uid, err := d.CreateUser(ctx, "alice", "old-hash")
	require.NoError(t, err)
	require.NoError(t, d.StoreSecret(ctx, uid, "github", "old-1"))
	require.NoError(t, d.StoreSecret(ctx, uid, "mail", "old-2"))

	require.NoError(t, d.ReplaceMaster(ctx, uid, "new-hash", map[string]string{
		"github": "new-1",
		"mail":   "new-2",
	}))

	u, err := d.UserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", u.MasterHash)

	got, err := d.FetchSecret(ctx, uid, "mail")
	require.NoError(t, err)
	assert.Equal(t, "new-2", got)
}

func TestReplaceMaster_UnknownAccountRollsBack(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	uid, err := d.CreateUser(ctx, "alice", "old-hash")
	require.NoError(t, err)
	require.NoError(t, d.StoreSecret(ctx, uid, "github", "old-1"))

	err = d.ReplaceMaster(ctx, uid, "new-hash", map[string]string{"missing": "x"})
	assert.ErrorIs(t, err, db.ErrNotFound)

	u, err := d.UserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "old-hash", u.MasterHash)
}

func TestEnvelopes(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	rows, err := d.Envelopes(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	bob, err := d.CreateUser(ctx, "bob", "h")
	require.NoError(t, err)
	alice, err := d.CreateUser(ctx, "alice", "h")
	require.NoError(t, err)
	require.NoError(t, d.StoreSecret(ctx, bob, "mail", "b1"))
	require.NoError(t, d.StoreSecret(ctx, alice, "zeta", "a2"))
	require.NoError(t, d.StoreSecret(ctx, alice, "beta", "a1"))

	rows, err = d.Envelopes(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, db.EnvelopeRow{UserID: alice, Username: "alice", Account: "beta", Envelope: "a1"}, rows[0])
	assert.Equal(t, "zeta", rows[1].Account)
	assert.Equal(t, "bob", rows[2].Username)
}
