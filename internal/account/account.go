// Package account implements account lifecycle and credential verification:
// login, admin-driven registration, deletion, storage limit administration,
// and the paginated account listing.
package account

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"cloudcrate/internal/auth"
	"cloudcrate/internal/db"
	"cloudcrate/internal/errs"
	"cloudcrate/internal/quota"
	"cloudcrate/internal/validate"
)

// Supervisor coordinates the account store, the credential manager, the
// quota ledger, and the on-disk account roots.
type Supervisor struct {
	DB           *db.DB
	Auth         *auth.Manager
	Ledger       *quota.Ledger
	Fs           afero.Fs
	DataDir      string
	DefaultLimit int64
	Argon2       auth.Argon2Params
	Logger       *slog.Logger
}

// RegisterParams are the fields of an admin registration request.
type RegisterParams struct {
	Email        string
	Name         string
	Password     string
	Admin        bool
	StorageLimit int64
}

// Login verifies the password and mints a credential pair. Unknown emails
// and wrong passwords are indistinguishable to the caller.
func (s *Supervisor) Login(ctx context.Context, email, password, deviceID string) (*db.Account, auth.Pair, error) {
	acc, err := s.VerifyPassword(ctx, email, password)
	if err != nil {
		return nil, auth.Pair{}, err
	}
	pair, err := s.Auth.Login(ctx, acc, deviceID)
	if err != nil {
		return nil, auth.Pair{}, err
	}
	return acc, pair, nil
}

// VerifyPassword authenticates an email/password pair. Used at login and as
// the step-up check before destructive self-service operations.
func (s *Supervisor) VerifyPassword(ctx context.Context, email, password string) (*db.Account, error) {
	acc, ok, err := s.DB.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrUnauthorized
	}
	match, err := auth.VerifyPassword(password, acc.PassHash)
	if err != nil {
		return nil, err
	}
	if !match {
		return nil, errs.ErrUnauthorized
	}
	return acc, nil
}

// Register creates an account and its root directory under the data dir.
// The directory name is the email with spaces stripped. When the directory
// already exists with content, the usage counter is reconciled to the true
// subtree size instead of starting at zero.
func (s *Supervisor) Register(ctx context.Context, p RegisterParams) (*db.Account, error) {
	if err := validate.Email(p.Email); err != nil {
		return nil, err
	}
	if err := validate.Name(p.Name); err != nil {
		return nil, err
	}
	if err := validate.Password(p.Password); err != nil {
		return nil, err
	}
	limit := p.StorageLimit
	if limit == 0 {
		limit = s.DefaultLimit
	}
	if err := validate.StorageLimit(limit); err != nil {
		return nil, err
	}

	root := filepath.Join(s.DataDir, strings.ReplaceAll(p.Email, " ", ""))
	preExisting := true
	if _, err := s.Fs.Stat(root); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		preExisting = false
	}
	if err := s.Fs.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(p.Password, s.Argon2)
	if err != nil {
		return nil, err
	}
	acc := &db.Account{
		Email:        p.Email,
		Name:         p.Name,
		PassHash:     hash,
		RootPath:     root,
		Admin:        p.Admin,
		StorageLimit: limit,
	}
	if err := s.DB.CreateAccount(ctx, acc); err != nil {
		if !preExisting {
			_ = s.Fs.RemoveAll(root)
		}
		return nil, err
	}

	if preExisting {
		size, err := s.Ledger.Reconcile(ctx, s.Fs, acc.ID, root)
		if err != nil {
			return nil, fmt.Errorf("reconcile pre-existing root: %w", err)
		}
		acc.StorageUsed = size
		s.Logger.Info("registered account over pre-existing root",
			"email", acc.Email, "storage_used", size)
	} else {
		s.Logger.Info("registered account", "email", acc.Email, "admin", acc.Admin)
	}
	return acc, nil
}

// ChangePassword rotates the caller's credential after a fresh password
// check, then clears every device session so outstanding refresh tokens
// stop working.
func (s *Supervisor) ChangePassword(ctx context.Context, email, current, next string) error {
	acc, err := s.VerifyPassword(ctx, email, current)
	if err != nil {
		return err
	}
	if err := validate.Password(next); err != nil {
		return err
	}
	hash, err := auth.HashPassword(next, s.Argon2)
	if err != nil {
		return err
	}
	if err := s.DB.SetPasswordHash(ctx, acc.ID, hash); err != nil {
		return err
	}
	if err := s.DB.DeleteAccountDeviceSessions(ctx, acc.ID); err != nil {
		return err
	}
	s.Logger.Info("changed account password", "email", acc.Email)
	return nil
}

// DeleteSelf removes the caller's own account after a fresh password check.
// Device sessions cascade with the row; deleteData additionally removes the
// on-disk root.
func (s *Supervisor) DeleteSelf(ctx context.Context, email, password string, deleteData bool) error {
	acc, err := s.VerifyPassword(ctx, email, password)
	if err != nil {
		return err
	}
	return s.remove(ctx, acc, deleteData)
}

// DeleteByEmail removes any account by email (admin operation).
func (s *Supervisor) DeleteByEmail(ctx context.Context, email string, deleteData bool) error {
	acc, ok, err := s.DB.GetAccountByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotFound
	}
	return s.remove(ctx, acc, deleteData)
}

func (s *Supervisor) remove(ctx context.Context, acc *db.Account, deleteData bool) error {
	if err := s.DB.DeleteAccount(ctx, acc.ID); err != nil {
		return err
	}
	if deleteData {
		if err := s.Fs.RemoveAll(acc.RootPath); err != nil {
			return err
		}
	}
	s.Logger.Info("deleted account", "email", acc.Email, "data_removed", deleteData)
	return nil
}

// SetStorageLimit updates an account's quota limit (admin operation).
func (s *Supervisor) SetStorageLimit(ctx context.Context, email string, limit int64) error {
	if err := validate.StorageLimit(limit); err != nil {
		return err
	}
	acc, ok, err := s.DB.GetAccountByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotFound
	}
	return s.DB.SetStorageLimit(ctx, acc.ID, limit)
}

// Reconcile recomputes an account's usage counter from disk (admin repair).
func (s *Supervisor) Reconcile(ctx context.Context, email string) (int64, error) {
	acc, ok, err := s.DB.GetAccountByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errs.ErrNotFound
	}
	return s.Ledger.Reconcile(ctx, s.Fs, acc.ID, acc.RootPath)
}

// List returns one page of account summaries, sorted by name. Pages are
// 1-based; the projection excludes credential hashes and root paths.
func (s *Supervisor) List(ctx context.Context, page, limit int) ([]db.AccountSummary, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return s.DB.ListAccounts(ctx, (page-1)*limit, limit)
}
