package service_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hussein-Mazeh/passvault/internal/config"
	"github.com/Hussein-Mazeh/passvault/internal/db"
	"github.com/Hussein-Mazeh/passvault/internal/logger"
	"github.com/Hussein-Mazeh/passvault/internal/service"
	"github.com/Hussein-Mazeh/passvault/internal/vault"
	"github.com/Hussein-Mazeh/passvault/krypto"
)

const (
	aliceMaster = "vq8#Lm2!zR7&wKp4"
	bobMaster   = "T7^kzP2@xWq9!mRb"
)

// fastArgon keeps the verifier cheap in tests.
var fastArgon = krypto.Argon2Params{MemoryMB: 1, Time: 1, Parallelism: 1, SaltLen: krypto.SaltSize, KeyLen: 32}

func testConfig(dir string) *config.Config {
	return &config.Config{
		DataDir: dir,
		Policy:  config.Policy{MinStrength: 3},
	}
}

func newService(t *testing.T, dir string, logs *bytes.Buffer) *service.Service {
	t.Helper()
	log := logger.Nop()
	if logs != nil {
		log = logger.NewWithWriter(logs, -4)
	}
	s, err := service.New(context.Background(), testConfig(dir), log, service.WithArgon2Params(fastArgon))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newInitialised(t *testing.T) (*service.Service, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	s := newService(t, dir, nil)
	require.NoError(t, s.Init())
	return s, dir
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := service.New(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	s := newService(t, dir, nil)

	ok, err := s.Initialized()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Register(context.Background(), "alice", []byte(aliceMaster))
	assert.ErrorIs(t, err, service.ErrNotInitialized)
	assert.ErrorIs(t, s.Unlock(context.Background(), "alice", []byte(aliceMaster)), service.ErrNotInitialized)

	require.NoError(t, s.Init())
	before, err := os.ReadFile(filepath.Join(dir, "salt.bin"))
	require.NoError(t, err)
	require.NoError(t, s.Init())
	after, err := os.ReadFile(filepath.Join(dir, "salt.bin"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	ok, err = s.Initialized()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, dir, s.Dir())
}

func TestRegister(t *testing.T) {
	s, _ := newInitialised(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "  ", []byte(aliceMaster))
	assert.Error(t, err)

	_, err = s.Register(ctx, "alice", []byte("short"))
	var policyErr *service.PolicyError
	require.ErrorAs(t, err, &policyErr)
	assert.ErrorContains(t, err, "at least 12")

	id, err := s.Register(ctx, " alice ", []byte(aliceMaster))
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = s.Register(ctx, "alice", []byte(bobMaster))
	assert.ErrorIs(t, err, db.ErrUserExists)
}

func TestUnlockAndCRUD(t *testing.T) {
	s, _ := newInitialised(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", []byte(aliceMaster))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Add(ctx, "github", "hunter2"), vault.ErrLocked)

	require.NoError(t, s.Unlock(ctx, "alice", []byte(aliceMaster)))
	assert.True(t, s.IsUnlocked())
	assert.Equal(t, "alice", s.Username())

	require.NoError(t, s.Add(ctx, "github", "hunter2"))
	require.NoError(t, s.Add(ctx, "email", "p@ss"))
	require.NoError(t, s.Add(ctx, "github", "hunter3"))

	got, err := s.Get(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, "hunter3", got)

	accounts, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "email", accounts[0].Name)
	assert.Equal(t, "github", accounts[1].Name)

	require.NoError(t, s.Delete(ctx, "email"))
	assert.ErrorIs(t, s.Delete(ctx, "email"), db.ErrNotFound)

	s.Lock()
	assert.False(t, s.IsUnlocked())
	_, err = s.Get(ctx, "github")
	assert.ErrorIs(t, err, vault.ErrLocked)
	_, err = s.List(ctx)
	assert.ErrorIs(t, err, vault.ErrLocked)
}

func TestUnlock_InvalidCredentials(t *testing.T) {
	s, _ := newInitialised(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", []byte(aliceMaster))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Unlock(ctx, "alice", []byte(bobMaster)), service.ErrInvalidCredentials)
	assert.ErrorIs(t, s.Unlock(ctx, "mallory", []byte(aliceMaster)), service.ErrInvalidCredentials)
	assert.Error(t, s.Unlock(ctx, "alice", nil))
	assert.False(t, s.IsUnlocked())
}

func TestUsersShareSaltButNotKeys(t *testing.T) {
	s, _ := newInitialised(t)
	ctx := context.Background()

	for user, master := range map[string]string{"alice": aliceMaster, "bob": bobMaster} {
		_, err := s.Register(ctx, user, []byte(master))
		require.NoError(t, err)
		require.NoError(t, s.Unlock(ctx, user, []byte(master)))
		require.NoError(t, s.Add(ctx, "github", user+"-secret"))
	}

	require.NoError(t, s.Unlock(ctx, "alice", []byte(aliceMaster)))
	got, err := s.Get(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, "alice-secret", got)

	require.NoError(t, s.Unlock(ctx, "bob", []byte(bobMaster)))
	got, err = s.Get(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, "bob-secret", got)
}

func TestUnlock_ReplacedSaltIsDetected(t *testing.T) {
	s, dir := newInitialised(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", []byte(aliceMaster))
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, "alice", []byte(aliceMaster)))
	require.NoError(t, s.Add(ctx, "github", "hunter2"))
	s.Lock()

	// The verifier still accepts the password but the derived key no longer
	// opens the stored envelopes.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "salt.bin"), bytes.Repeat([]byte{7}, krypto.SaltSize), 0o600))

	err = s.Unlock(ctx, "alice", []byte(aliceMaster))
	assert.True(t, krypto.IsAuthentication(err), "got %v", err)
	assert.False(t, s.IsUnlocked())
}

func TestUnlock_MalformedOldestSecret(t *testing.T) {
	var logs bytes.Buffer
	dir := filepath.Join(t.TempDir(), "data")
	s := newService(t, dir, &logs)
	require.NoError(t, s.Init())
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", []byte(aliceMaster))
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, "alice", []byte(aliceMaster)))
	require.NoError(t, s.Add(ctx, "aaa-first", "first-secret"))
	require.NoError(t, s.Add(ctx, "zzz-second", "second-secret"))
	s.Lock()

	// Damage the oldest row from a second handle; the upsert keeps its id.
	other, err := db.Open(ctx, filepath.Join(dir, "vault.db"))
	require.NoError(t, err)
	user, err := other.UserByName(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, other.StoreSecret(ctx, user.ID, "aaa-first", "garbage"))
	require.NoError(t, other.Close())

	require.NoError(t, s.Unlock(ctx, "alice", []byte(aliceMaster)))
	assert.True(t, s.IsUnlocked())
	assert.Contains(t, logs.String(), "malformed")

	got, err := s.Get(ctx, "zzz-second")
	require.NoError(t, err)
	assert.Equal(t, "second-secret", got)

	_, err = s.Get(ctx, "aaa-first")
	assert.True(t, krypto.IsFormat(err), "got %v", err)

	// A wrong password is still refused by the verifier.
	s.Lock()
	assert.ErrorIs(t, s.Unlock(ctx, "alice", []byte(bobMaster)), service.ErrInvalidCredentials)
}

func TestChangeMaster(t *testing.T) {
	s, _ := newInitialised(t)
	ctx := context.Background()
	newMaster := "Hc5&uY8#eLn3$vDj"

	_, err := s.Register(ctx, "alice", []byte(aliceMaster))
	require.NoError(t, err)

	assert.ErrorIs(t, s.ChangeMaster(ctx, []byte(aliceMaster), []byte(newMaster)), vault.ErrLocked)

	require.NoError(t, s.Unlock(ctx, "alice", []byte(aliceMaster)))
	require.NoError(t, s.Add(ctx, "github", "hunter2"))
	require.NoError(t, s.Add(ctx, "email", "p@ss"))

	assert.ErrorIs(t, s.ChangeMaster(ctx, []byte(bobMaster), []byte(newMaster)), service.ErrInvalidCredentials)
	assert.Error(t, s.ChangeMaster(ctx, []byte(aliceMaster), []byte("weak")))

	require.NoError(t, s.ChangeMaster(ctx, []byte(aliceMaster), []byte(newMaster)))

	got, err := s.Get(ctx, "email")
	require.NoError(t, err)
	assert.Equal(t, "p@ss", got)

	s.Lock()
	assert.ErrorIs(t, s.Unlock(ctx, "alice", []byte(aliceMaster)), service.ErrInvalidCredentials)

	require.NoError(t, s.Unlock(ctx, "alice", []byte(newMaster)))
	got, err = s.Get(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestLogsNeverContainSecrets(t *testing.T) {
	var logs bytes.Buffer
	dir := filepath.Join(t.TempDir(), "data")
	s := newService(t, dir, &logs)
	ctx := context.Background()

	require.NoError(t, s.Init())
	_, err := s.Register(ctx, "alice", []byte(aliceMaster))
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, "alice", []byte(aliceMaster)))
	require.NoError(t, s.Add(ctx, "github", "hunter2"))
	_, err = s.Get(ctx, "github")
	require.NoError(t, err)

	out := logs.String()
	assert.Contains(t, out, "user registered")
	assert.NotContains(t, out, aliceMaster)
	assert.NotContains(t, out, "hunter2")
}
