package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is a row of the users table. MasterHash is a verifier, never the key.
type User struct {
	ID         int64
	Username   string
	MasterHash string
	CreatedAt  time.Time
}

// CreateUser inserts a user and returns its ID. A duplicate username yields ErrUserExists.
func (d *DB) CreateUser(ctx context.Context, username, masterHash string) (int64, error) {
	if d == nil || d.sql == nil {
		return 0, fmt.Errorf("database handle is nil")
	}

	res, err := d.sql.ExecContext(ctx,
		`INSERT INTO users (username, master_hash) VALUES (?, ?)`,
		username, masterHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("create user %q: %w", username, ErrUserExists)
		}
		return 0, fmt.Errorf("create user %q: %w", username, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("fetch user id: %w", err)
	}
	return id, nil
}

// UserByName returns the user with the given username or ErrNotFound.
func (d *DB) UserByName(ctx context.Context, username string) (User, error) {
	if d == nil || d.sql == nil {
		return User{}, fmt.Errorf("database handle is nil")
	}

	var (
		u         User
		createdAt string
	)
	err := d.sql.QueryRowContext(ctx,
		`SELECT id, username, master_hash, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&u.ID, &u.Username, &u.MasterHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("select user %q: %w", username, err)
	}

	u.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return User{}, fmt.Errorf("parse created_at for user %q: %w", username, err)
	}
	return u, nil
}

// CountUsers returns the number of registered users.
func (d *DB) CountUsers(ctx context.Context) (int, error) {
	if d == nil || d.sql == nil {
		return 0, fmt.Errorf("database handle is nil")
	}

	var n int
	if err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// parseTime accepts the layouts SQLite uses for CURRENT_TIMESTAMP as read back
// through the modernc driver.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ReplaceMaster swaps the user's master hash and re-sealed envelopes in one
// transaction. envelopes maps account name to its new envelope; every account
// must already exist.
func (d *DB) ReplaceMaster(ctx context.Context, userID int64, masterHash string, envelopes map[string]string) (err error) {
	if d == nil || d.sql == nil {
		return fmt.Errorf("database handle is nil")
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin master rotation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE users SET master_hash = ? WHERE id = ?`, masterHash, userID)
	if err != nil {
		return fmt.Errorf("update master hash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}

	for account, envelope := range envelopes {
		res, err := tx.ExecContext(ctx,
			`UPDATE passwords SET encrypted_password = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE user_id = ? AND account_name = ?`,
			envelope, userID, account,
		)
		if err != nil {
			return fmt.Errorf("reseal %q: %w", account, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("secret %q: %w", account, ErrNotFound)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit master rotation: %w", err)
	}
	return nil
}
