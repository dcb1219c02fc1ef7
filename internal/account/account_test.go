package account

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"cloudcrate/internal/auth"
	"cloudcrate/internal/db"
	"cloudcrate/internal/errs"
	"cloudcrate/internal/quota"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	d, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Supervisor{
		DB: d,
		Auth: &auth.Manager{
			Store: d,
			Tokens: &auth.Tokens{
				AccessSecret:  []byte("access-secret"),
				RefreshSecret: []byte("refresh-secret"),
				AccessTTL:     30 * time.Minute,
				RefreshTTL:    30 * 24 * time.Hour,
			},
			DeviceCap: 10,
			Logger:    logger,
		},
		Ledger:       &quota.Ledger{Store: d},
		Fs:           afero.NewOsFs(),
		DataDir:      t.TempDir(),
		DefaultLimit: 10 << 20,
		Argon2:       auth.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32},
		Logger:       logger,
	}
}

func TestRegisterCreatesRoot(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	acc, err := s.Register(ctx, RegisterParams{
		Email: "alice@example.com", Name: "Alice", Password: "hunter22",
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(s.DataDir, "alice@example.com"), acc.RootPath)
	require.Equal(t, s.DefaultLimit, acc.StorageLimit)
	require.False(t, acc.Admin)

	st, err := os.Stat(acc.RootPath)
	require.NoError(t, err)
	require.True(t, st.IsDir())

	// The stored hash verifies the original password.
	got, err := s.VerifyPassword(ctx, "alice@example.com", "hunter22")
	require.NoError(t, err)
	require.Equal(t, acc.ID, got.ID)
}

func TestRegisterValidation(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	_, err := s.Register(ctx, RegisterParams{Email: "not-an-email", Name: "A", Password: "hunter22"})
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.Register(ctx, RegisterParams{Email: "a@example.com", Name: "A", Password: "short"})
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.Register(ctx, RegisterParams{Email: "a@example.com", Name: "", Password: "hunter22"})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	_, err := s.Register(ctx, RegisterParams{Email: "dup@example.com", Name: "A", Password: "hunter22"})
	require.NoError(t, err)
	_, err = s.Register(ctx, RegisterParams{Email: "dup@example.com", Name: "B", Password: "hunter22"})
	require.ErrorIs(t, err, errs.ErrConflict)

	// The first registrant's data survives the failed duplicate.
	_, statErr := os.Stat(filepath.Join(s.DataDir, "dup@example.com"))
	require.NoError(t, statErr)
}

func TestRegisterReconcilesPreExistingRoot(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	root := filepath.Join(s.DataDir, "bob@example.com")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.bin"), make([]byte, 4096), 0o644))

	acc, err := s.Register(ctx, RegisterParams{Email: "bob@example.com", Name: "Bob", Password: "hunter22"})
	require.NoError(t, err)

	want, err := quota.TreeSize(s.Fs, root)
	require.NoError(t, err)
	require.Equal(t, want, acc.StorageUsed)

	stored, ok, err := s.DB.GetAccountByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, stored.StorageUsed)
}

func TestLogin(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	_, err := s.Register(ctx, RegisterParams{Email: "c@example.com", Name: "C", Password: "hunter22", Admin: true})
	require.NoError(t, err)

	acc, pair, err := s.Login(ctx, "c@example.com", "hunter22", "")
	require.NoError(t, err)
	require.NotEmpty(t, pair.Access)
	require.NotEmpty(t, pair.Refresh)
	require.NotEmpty(t, pair.DeviceID)

	claims, err := s.Auth.Tokens.ParseAccess(pair.Access)
	require.NoError(t, err)
	require.Equal(t, acc.Email, claims.Email)
	require.Equal(t, acc.RootPath, claims.Root)
	require.True(t, claims.Admin)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	_, err := s.Register(ctx, RegisterParams{Email: "d@example.com", Name: "D", Password: "hunter22"})
	require.NoError(t, err)

	_, _, err = s.Login(ctx, "d@example.com", "wrong-pass", "")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, _, err = s.Login(ctx, "ghost@example.com", "hunter22", "")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestChangePassword(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	acc, err := s.Register(ctx, RegisterParams{Email: "i@example.com", Name: "I", Password: "hunter22"})
	require.NoError(t, err)
	_, _, err = s.Login(ctx, "i@example.com", "hunter22", "")
	require.NoError(t, err)

	// Step-up check: the wrong current password refuses the change.
	err = s.ChangePassword(ctx, "i@example.com", "wrong-pass", "betterpass")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	err = s.ChangePassword(ctx, "i@example.com", "hunter22", "nope")
	require.ErrorIs(t, err, errs.ErrValidation)

	require.NoError(t, s.ChangePassword(ctx, "i@example.com", "hunter22", "betterpass"))
	_, err = s.VerifyPassword(ctx, "i@example.com", "hunter22")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	got, err := s.VerifyPassword(ctx, "i@example.com", "betterpass")
	require.NoError(t, err)
	require.Equal(t, acc.ID, got.ID)

	// Every device session is revoked with the old credential.
	n, err := s.DB.CountDeviceSessions(ctx, acc.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDeleteSelf(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	acc, err := s.Register(ctx, RegisterParams{Email: "e@example.com", Name: "E", Password: "hunter22"})
	require.NoError(t, err)

	// Step-up check: the wrong password refuses the deletion.
	err = s.DeleteSelf(ctx, "e@example.com", "wrong-pass", true)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	require.NoError(t, s.DeleteSelf(ctx, "e@example.com", "hunter22", true))
	_, ok, err := s.DB.GetAccountByEmail(ctx, "e@example.com")
	require.NoError(t, err)
	require.False(t, ok)
	_, statErr := os.Stat(acc.RootPath)
	require.True(t, os.IsNotExist(statErr))
}

func TestDeleteByEmailKeepsDataWhenAsked(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	acc, err := s.Register(ctx, RegisterParams{Email: "f@example.com", Name: "F", Password: "hunter22"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteByEmail(ctx, "f@example.com", false))
	_, statErr := os.Stat(acc.RootPath)
	require.NoError(t, statErr, "data should survive when deleteData is false")

	err = s.DeleteByEmail(ctx, "ghost@example.com", false)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSetStorageLimit(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	_, err := s.Register(ctx, RegisterParams{Email: "g@example.com", Name: "G", Password: "hunter22"})
	require.NoError(t, err)

	require.NoError(t, s.SetStorageLimit(ctx, "g@example.com", 123456))
	acc, _, err := s.DB.GetAccountByEmail(ctx, "g@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(123456), acc.StorageLimit)

	require.ErrorIs(t, s.SetStorageLimit(ctx, "g@example.com", -1), errs.ErrValidation)
	require.ErrorIs(t, s.SetStorageLimit(ctx, "ghost@example.com", 10), errs.ErrNotFound)
}

func TestReconcileRepairsCounter(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	acc, err := s.Register(ctx, RegisterParams{Email: "h@example.com", Name: "H", Password: "hunter22"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(acc.RootPath, "f.bin"), make([]byte, 1000), 0o644))

	size, err := s.Reconcile(ctx, "h@example.com")
	require.NoError(t, err)
	want, err := quota.TreeSize(s.Fs, acc.RootPath)
	require.NoError(t, err)
	require.Equal(t, want, size)

	stored, _, err := s.DB.GetAccountByEmail(ctx, "h@example.com")
	require.NoError(t, err)
	require.Equal(t, want, stored.StorageUsed)
}

func TestListPaginates(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	for _, n := range []string{"Alice", "Bob", "Carol"} {
		_, err := s.Register(ctx, RegisterParams{
			Email: n + "@example.com", Name: n, Password: "hunter22",
		})
		require.NoError(t, err)
	}

	page1, err := s.List(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.Equal(t, "Alice", page1[0].Name)
	require.Equal(t, "Bob", page1[1].Name)

	page2, err := s.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	require.Equal(t, "Carol", page2[0].Name)
}
