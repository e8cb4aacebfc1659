package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Account is a stored secret's metadata. The envelope itself is only returned
// by FetchSecret.
type Account struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoreSecret inserts or replaces the envelope for (userID, account).
// The envelope is opaque text; it is never inspected here.
func (d *DB) StoreSecret(ctx context.Context, userID int64, account, envelope string) error {
	if d == nil || d.sql == nil {
		return fmt.Errorf("database handle is nil")
	}

	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO passwords (user_id, account_name, encrypted_password)
		 VALUES (?, ?, ?)
		 ON CONFLICT(user_id, account_name)
		 DO UPDATE SET encrypted_password = excluded.encrypted_password, updated_at = CURRENT_TIMESTAMP`,
		userID, account, envelope,
	)
	if err != nil {
		return fmt.Errorf("store secret %q: %w", account, err)
	}
	return nil
}

// FetchSecret returns the envelope for (userID, account) or ErrNotFound.
func (d *DB) FetchSecret(ctx context.Context, userID int64, account string) (string, error) {
	if d == nil || d.sql == nil {
		return "", fmt.Errorf("database handle is nil")
	}

	var envelope string
	err := d.sql.QueryRowContext(ctx,
		`SELECT encrypted_password FROM passwords WHERE user_id = ? AND account_name = ?`,
		userID, account,
	).Scan(&envelope)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("secret %q: %w", account, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("fetch secret %q: %w", account, err)
	}
	return envelope, nil
}

// FirstEnvelope returns the oldest envelope stored for userID, or ErrNotFound
// when the user has no secrets.
func (d *DB) FirstEnvelope(ctx context.Context, userID int64) (string, error) {
	if d == nil || d.sql == nil {
		return "", fmt.Errorf("database handle is nil")
	}

	var envelope string
	err := d.sql.QueryRowContext(ctx,
		`SELECT encrypted_password FROM passwords WHERE user_id = ? ORDER BY id LIMIT 1`,
		userID,
	).Scan(&envelope)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("fetch first envelope: %w", err)
	}
	return envelope, nil
}

// ListAccounts returns the accounts of userID ordered by name.
func (d *DB) ListAccounts(ctx context.Context, userID int64) ([]Account, error) {
	if d == nil || d.sql == nil {
		return nil, fmt.Errorf("database handle is nil")
	}

	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, account_name, created_at, updated_at
		 FROM passwords
		 WHERE user_id = ?
		 ORDER BY account_name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var (
			a                    Account
			createdAt, updatedAt string
		)
		if err := rows.Scan(&a.ID, &a.Name, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %q: %w", a.Name, err)
		}
		if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at for %q: %w", a.Name, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows: %w", err)
	}
	return out, nil
}

// DeleteSecret removes (userID, account). It returns ErrNotFound if nothing was deleted.
func (d *DB) DeleteSecret(ctx context.Context, userID int64, account string) error {
	if d == nil || d.sql == nil {
		return fmt.Errorf("database handle is nil")
	}

	res, err := d.sql.ExecContext(ctx,
		`DELETE FROM passwords WHERE user_id = ? AND account_name = ?`,
		userID, account,
	)
	if err != nil {
		return fmt.Errorf("delete secret %q: %w", account, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("secret %q: %w", account, ErrNotFound)
	}
	return nil
}

// EnvelopeRow is one stored envelope with its owner, for offline inspection.
type EnvelopeRow struct {
	UserID   int64
	Username string
	Account  string
	Envelope string
}

// Envelopes returns every stored envelope ordered by user and account.
func (d *DB) Envelopes(ctx context.Context) ([]EnvelopeRow, error) {
	if d == nil || d.sql == nil {
		return nil, fmt.Errorf("database handle is nil")
	}

	rows, err := d.sql.QueryContext(ctx,
		`SELECT p.user_id, u.username, p.account_name, p.encrypted_password
		 FROM passwords p JOIN users u ON u.id = p.user_id
		 ORDER BY u.username, p.account_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()

	var out []EnvelopeRow
	for rows.Next() {
		var r EnvelopeRow
		if err := rows.Scan(&r.UserID, &r.Username, &r.Account, &r.Envelope); err != nil {
			return nil, fmt.Errorf("scan envelope row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate envelope rows: %w", err)
	}
	return out, nil
}
