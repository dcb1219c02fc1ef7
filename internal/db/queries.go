package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"cloudcrate/internal/errs"
)

// nowUnix returns the current Unix timestamp in seconds.
func nowUnix() int64 { return time.Now().Unix() }

// isUniqueViolation identifies SQLite unique-constraint errors.
// modernc/sqlite surfaces them as strings containing these markers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique constraint") || strings.Contains(s, "constraint failed")
}

// CreateAccount inserts a new account and returns it with its ID set.
// A duplicate email yields errs.ErrConflict.
func (d *DB) CreateAccount(ctx context.Context, a *Account) error {
	if a.Email == "" || a.PassHash == "" || a.RootPath == "" {
		return errors.New("email, password hash, and root path are required")
	}
	now := nowUnix()
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO accounts(email, name, password_hash, root_path, admin, storage_used, storage_limit, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
`, a.Email, a.Name, a.PassHash, a.RootPath, boolToInt(a.Admin), a.StorageUsed, a.StorageLimit, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrConflict
		}
		return err
	}
	a.ID, err = res.LastInsertId()
	a.CreatedAt = now
	a.UpdatedAt = now
	return err
}

// GetAccountByEmail looks up an account by email.
func (d *DB) GetAccountByEmail(ctx context.Context, email string) (*Account, bool, error) {
	var a Account
	var admin int
	err := d.sql.QueryRowContext(ctx, `
SELECT id, email, name, password_hash, root_path, admin, storage_used, storage_limit, created_at, updated_at
FROM accounts WHERE email=?
`, email).Scan(&a.ID, &a.Email, &a.Name, &a.PassHash, &a.RootPath, &admin, &a.StorageUsed, &a.StorageLimit, &a.CreatedAt, &a.UpdatedAt)
	if err == nil {
		a.Admin = admin != 0
		return &a, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// DeleteAccount removes an account; its device sessions cascade.
func (d *DB) DeleteAccount(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid account id")
	}
	_, err := d.sql.ExecContext(ctx, `DELETE FROM accounts WHERE id=?`, id)
	return err
}

// SetPasswordHash updates an account's credential hash.
func (d *DB) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	if id <= 0 || hash == "" {
		return errors.New("invalid account id or hash")
	}
	_, err := d.sql.ExecContext(ctx, `UPDATE accounts SET password_hash=?, updated_at=? WHERE id=?`, hash, nowUnix(), id)
	return err
}

// AddStorageUsed applies a signed delta to the usage counter as a single
// atomic update, clamped at zero.
func (d *DB) AddStorageUsed(ctx context.Context, id int64, delta int64) error {
	if id <= 0 {
		return errors.New("invalid account id")
	}
	_, err := d.sql.ExecContext(ctx, `
UPDATE accounts SET storage_used=MAX(0, storage_used+?), updated_at=? WHERE id=?
`, delta, nowUnix(), id)
	return err
}

// SetStorageUsed overwrites the usage counter (reconciliation).
func (d *DB) SetStorageUsed(ctx context.Context, id int64, used int64) error {
	if id <= 0 || used < 0 {
		return errors.New("invalid account id or usage")
	}
	_, err := d.sql.ExecContext(ctx, `UPDATE accounts SET storage_used=?, updated_at=? WHERE id=?`, used, nowUnix(), id)
	return err
}

// SetStorageLimit updates an account's quota limit.
func (d *DB) SetStorageLimit(ctx context.Context, id int64, limit int64) error {
	if id <= 0 || limit <= 0 {
		return errors.New("invalid account id or limit")
	}
	_, err := d.sql.ExecContext(ctx, `UPDATE accounts SET storage_limit=?, updated_at=? WHERE id=?`, limit, nowUnix(), id)
	return err
}

// ListAccounts returns a page of account summaries sorted by name.
// The projection excludes the credential hash and root path.
func (d *DB) ListAccounts(ctx context.Context, skip, limit int) ([]AccountSummary, error) {
	if skip < 0 || limit <= 0 {
		return nil, errors.New("invalid pagination")
	}
	rows, err := d.sql.QueryContext(ctx, `
SELECT email, name, admin, storage_used, storage_limit, created_at
FROM accounts ORDER BY name ASC, email ASC LIMIT ? OFFSET ?
`, limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountSummary
	for rows.Next() {
		var s AccountSummary
		var admin int
		if err := rows.Scan(&s.Email, &s.Name, &admin, &s.StorageUsed, &s.StorageLimit, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Admin = admin != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertDeviceSession stores the current refresh token for a device and
// bumps its last-used timestamp.
func (d *DB) UpsertDeviceSession(ctx context.Context, s *DeviceSession) error {
	if s.AccountID <= 0 || s.DeviceID == "" || s.RefreshToken == "" {
		return errors.New("invalid device session")
	}
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO device_sessions(account_id, device_id, refresh_token, last_used, expires_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(account_id, device_id) DO UPDATE SET
  refresh_token=excluded.refresh_token,
  last_used=excluded.last_used,
  expires_at=excluded.expires_at
`, s.AccountID, s.DeviceID, s.RefreshToken, s.LastUsed, s.ExpiresAt)
	return err
}

// GetDeviceSession looks up one device's session.
func (d *DB) GetDeviceSession(ctx context.Context, accountID int64, deviceID string) (*DeviceSession, bool, error) {
	var s DeviceSession
	err := d.sql.QueryRowContext(ctx, `
SELECT account_id, device_id, refresh_token, last_used, expires_at
FROM device_sessions WHERE account_id=? AND device_id=?
`, accountID, deviceID).Scan(&s.AccountID, &s.DeviceID, &s.RefreshToken, &s.LastUsed, &s.ExpiresAt)
	if err == nil {
		return &s, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// CountDeviceSessions returns the number of devices registered for an account.
func (d *DB) CountDeviceSessions(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_sessions WHERE account_id=?`, accountID).Scan(&n)
	return n, err
}

// OldestDeviceSession returns the least-recently-used device session.
// Ties on last_used break deterministically by ascending device id.
func (d *DB) OldestDeviceSession(ctx context.Context, accountID int64) (*DeviceSession, bool, error) {
	var s DeviceSession
	err := d.sql.QueryRowContext(ctx, `
SELECT account_id, device_id, refresh_token, last_used, expires_at
FROM device_sessions WHERE account_id=?
ORDER BY last_used ASC, device_id ASC LIMIT 1
`, accountID).Scan(&s.AccountID, &s.DeviceID, &s.RefreshToken, &s.LastUsed, &s.ExpiresAt)
	if err == nil {
		return &s, true, nil
	}
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	return nil, false, err
}

// DeleteDeviceSession evicts one device.
func (d *DB) DeleteDeviceSession(ctx context.Context, accountID int64, deviceID string) error {
	if accountID <= 0 || deviceID == "" {
		return errors.New("invalid device session key")
	}
	_, err := d.sql.ExecContext(ctx, `DELETE FROM device_sessions WHERE account_id=? AND device_id=?`, accountID, deviceID)
	return err
}

// DeleteAccountDeviceSessions clears every device session (logout-all).
func (d *DB) DeleteAccountDeviceSessions(ctx context.Context, accountID int64) error {
	if accountID <= 0 {
		return errors.New("invalid account id")
	}
	_, err := d.sql.ExecContext(ctx, `DELETE FROM device_sessions WHERE account_id=?`, accountID)
	return err
}

// DeleteExpiredDeviceSessions removes sessions past their expiry.
func (d *DB) DeleteExpiredDeviceSessions(ctx context.Context, now int64) (int64, error) {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM device_sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// boolToInt maps booleans to SQLite-friendly integer flags.
func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
