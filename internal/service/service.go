package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Hussein-Mazeh/passvault/auth"
	"github.com/Hussein-Mazeh/passvault/internal/config"
	"github.com/Hussein-Mazeh/passvault/internal/db"
	"github.com/Hussein-Mazeh/passvault/internal/logger"
	"github.com/Hussein-Mazeh/passvault/internal/vault"
	"github.com/Hussein-Mazeh/passvault/krypto"
	"github.com/Hussein-Mazeh/passvault/store"
)

var (
	// ErrInvalidCredentials is returned by Unlock for an unknown user or a wrong master password.
	ErrInvalidCredentials = errors.New("invalid username or master password")

	// ErrNotInitialized is returned when the data directory has no salt yet.
	ErrNotInitialized = errors.New("vault not initialised; run pm init first")
)

// PolicyError reports a master password rejected by the password policy.
type PolicyError struct {
	Err error
}

func (e *PolicyError) Error() string { return "validate master password: " + e.Err.Error() }
func (e *PolicyError) Unwrap() error { return e.Err }

// Service exposes high-level vault operations for the CLI.
type Service struct {
	paths   store.Paths
	salts   *store.SaltStore
	deriver *krypto.KeyDeriver
	records *db.DB
	log     *logger.Logger

	policy auth.ValidateOptions
	argon  krypto.Argon2Params

	session  *vault.Session
	username string
}

// Option customises a Service.
type Option func(*Service)

// WithArgon2Params overrides the master hash parameters.
func WithArgon2Params(p krypto.Argon2Params) Option {
	return func(s *Service) { s.argon = p }
}

// New opens the vault in cfg.DataDir: the directory is created 0700 and the
// schema migrated. The salt is not touched until Init or the first unlock.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	paths := store.Paths{Dir: cfg.DataDir}
	if err := paths.EnsureDir(); err != nil {
		return nil, err
	}

	records, err := db.Open(ctx, paths.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open vault database: %w", err)
	}

	policy := auth.DefaultValidateOptions()
	policy.MinZXCVBNScore = cfg.Policy.MinStrength
	policy.EnableHIBP = cfg.Policy.CheckBreaches
	if cfg.Policy.HIBPBaseURL != "" {
		policy.Breaches = auth.NewHIBPClient(cfg.Policy.HIBPBaseURL)
	}

	salts := store.NewSaltStore(paths)
	s := &Service{
		paths:   paths,
		salts:   salts,
		deriver: krypto.NewKeyDeriver(salts),
		records: records,
		log:     log,
		policy:  policy,
		argon:   krypto.DefaultArgon2Params(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the data directory.
func (s *Service) Dir() string { return s.paths.Dir }

// Initialized reports whether the salt file exists.
func (s *Service) Initialized() (bool, error) {
	return s.salts.Exists()
}

// Init creates the salt if it is missing. Running it again is a no-op.
func (s *Service) Init() error {
	existed, err := s.salts.Exists()
	if err != nil {
		return err
	}
	if _, err := s.salts.GetOrCreateSalt(); err != nil {
		return fmt.Errorf("create salt: %w", err)
	}
	if !existed {
		s.log.Info("vault initialised", "dir", s.paths.Dir)
	}
	return nil
}

// Register validates master against the password policy and creates the user.
// The caller owns master and should wipe it.
func (s *Service) Register(ctx context.Context, username string, master []byte) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, errors.New("username is required")
	}
	if len(master) == 0 {
		return 0, errors.New("master password cannot be empty")
	}
	if err := s.requireInitialized(); err != nil {
		return 0, err
	}

	opts := s.policy
	opts.UserInputs = []string{username}
	if err := auth.ValidateMasterPasswordAdvanced(ctx, string(master), opts); err != nil {
		return 0, &PolicyError{Err: err}
	}

	hash, err := krypto.HashMaster(master, s.argon)
	if err != nil {
		return 0, fmt.Errorf("hash master password: %w", err)
	}

	id, err := s.records.CreateUser(ctx, username, hash)
	if err != nil {
		return 0, err
	}
	s.log.Info("user registered", "user", username, "id", id)
	return id, nil
}

// Unlock checks master against the stored verifier and opens a session for
// username, replacing any current session. An existing secret is opened
// before returning so a key mismatch is reported here, not on first use.
// A malformed secret does not block the unlock; it fails on its own Get.
func (s *Service) Unlock(ctx context.Context, username string, master []byte) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}

	user, err := s.checkMaster(ctx, username, master)
	if err != nil {
		return err
	}

	sess, err := vault.Unlock(ctx, s.deriver, s.records, user.ID, master)
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	switch err := sess.Verify(ctx); {
	case err == nil:
	case krypto.IsFormat(err):
		// The verifier already accepted master; a damaged row is not a key mismatch.
		s.log.Warn("oldest stored secret is malformed; key check skipped", "user", user.Username, "err", err)
	default:
		sess.Close()
		if krypto.IsAuthentication(err) {
			s.log.Warn("stored secret rejected the derived key", "user", user.Username)
		}
		return err
	}

	s.Lock()
	s.session = sess
	s.username = user.Username
	s.log.Debug("session unlocked", "user", user.Username)
	return nil
}

// ChangeMaster re-seals every secret of the unlocked user under a key derived
// from newMaster and replaces the stored verifier. The change is atomic; on
// success the current session switches to the new key.
func (s *Service) ChangeMaster(ctx context.Context, oldMaster, newMaster []byte) error {
	if s.session == nil {
		return vault.ErrLocked
	}
	if len(newMaster) == 0 {
		return errors.New("new master password cannot be empty")
	}

	user, err := s.checkMaster(ctx, s.username, oldMaster)
	if err != nil {
		return err
	}

	opts := s.policy
	opts.UserInputs = []string{user.Username}
	if err := auth.ValidateMasterPasswordAdvanced(ctx, string(newMaster), opts); err != nil {
		return &PolicyError{Err: err}
	}

	accounts, err := s.records.ListAccounts(ctx, user.ID)
	if err != nil {
		return err
	}

	next, err := vault.Unlock(ctx, s.deriver, s.records, user.ID, newMaster)
	if err != nil {
		return fmt.Errorf("unlock with new master: %w", err)
	}

	resealed := make(map[string]string, len(accounts))
	for _, a := range accounts {
		plain, err := s.session.FetchSecret(ctx, a.Name)
		if err != nil {
			next.Close()
			return err
		}
		envelope, err := next.Seal(plain)
		if err != nil {
			next.Close()
			return err
		}
		resealed[a.Name] = envelope
	}

	hash, err := krypto.HashMaster(newMaster, s.argon)
	if err != nil {
		next.Close()
		return fmt.Errorf("hash master password: %w", err)
	}
	if err := s.records.ReplaceMaster(ctx, user.ID, hash, resealed); err != nil {
		next.Close()
		return err
	}

	s.session.Close()
	s.session = next
	s.log.Info("master password changed", "user", user.Username, "resealed", len(resealed))
	return nil
}

// Add stores secret under account for the unlocked user, replacing any previous value.
func (s *Service) Add(ctx context.Context, account, secret string) error {
	if s.session == nil {
		return vault.ErrLocked
	}
	account = strings.TrimSpace(account)
	if err := s.session.StoreSecret(ctx, account, secret); err != nil {
		return err
	}
	s.log.Debug("secret stored", "user", s.username, "account", account)
	return nil
}

// Get returns the secret stored under account.
func (s *Service) Get(ctx context.Context, account string) (string, error) {
	if s.session == nil {
		return "", vault.ErrLocked
	}
	return s.session.FetchSecret(ctx, strings.TrimSpace(account))
}

// List returns the account names of the unlocked user.
func (s *Service) List(ctx context.Context) ([]db.Account, error) {
	if s.session == nil {
		return nil, vault.ErrLocked
	}
	return s.records.ListAccounts(ctx, s.session.UserID())
}

// Delete removes account for the unlocked user.
func (s *Service) Delete(ctx context.Context, account string) error {
	if s.session == nil {
		return vault.ErrLocked
	}
	account = strings.TrimSpace(account)
	if err := s.records.DeleteSecret(ctx, s.session.UserID(), account); err != nil {
		return err
	}
	s.log.Debug("secret deleted", "user", s.username, "account", account)
	return nil
}

// IsUnlocked reports whether a session is open.
func (s *Service) IsUnlocked() bool { return s.session != nil }

// Username returns the user of the open session, or "".
func (s *Service) Username() string { return s.username }

// Lock destroys the session key.
func (s *Service) Lock() {
	if s.session == nil {
		return
	}
	s.session.Close()
	s.session = nil
	s.username = ""
}

// Close locks the vault and closes the database.
func (s *Service) Close() error {
	s.Lock()
	return s.records.Close()
}

func (s *Service) requireInitialized() error {
	ok, err := s.salts.Exists()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInitialized
	}
	return nil
}

func (s *Service) checkMaster(ctx context.Context, username string, master []byte) (db.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(master) == 0 {
		return db.User{}, errors.New("username and master password are required")
	}

	user, err := s.records.UserByName(ctx, username)
	if errors.Is(err, db.ErrNotFound) {
		return db.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return db.User{}, err
	}

	ok, err := krypto.VerifyMaster(master, user.MasterHash)
	if err != nil {
		return db.User{}, fmt.Errorf("verify master password: %w", err)
	}
	if !ok {
		s.log.Warn("master password rejected", "user", username)
		return db.User{}, ErrInvalidCredentials
	}
	return user, nil
}
