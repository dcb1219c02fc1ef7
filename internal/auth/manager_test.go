package auth

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cloudcrate/internal/db"
	"cloudcrate/internal/errs"
)

// fakeStore is an in-memory SessionStore with deterministic LRU selection.
type fakeStore struct {
	accounts map[string]*db.Account
	sessions map[int64]map[string]*db.DeviceSession
}

var _ SessionStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: map[string]*db.Account{},
		sessions: map[int64]map[string]*db.DeviceSession{},
	}
}

func (f *fakeStore) GetAccountByEmail(_ context.Context, email string) (*db.Account, bool, error) {
	a, ok := f.accounts[email]
	return a, ok, nil
}

func (f *fakeStore) UpsertDeviceSession(_ context.Context, s *db.DeviceSession) error {
	m := f.sessions[s.AccountID]
	if m == nil {
		m = map[string]*db.DeviceSession{}
		f.sessions[s.AccountID] = m
	}
	cpy := *s
	m[s.DeviceID] = &cpy
	return nil
}

func (f *fakeStore) GetDeviceSession(_ context.Context, accountID int64, deviceID string) (*db.DeviceSession, bool, error) {
	s, ok := f.sessions[accountID][deviceID]
	return s, ok, nil
}

func (f *fakeStore) CountDeviceSessions(_ context.Context, accountID int64) (int, error) {
	return len(f.sessions[accountID]), nil
}

func (f *fakeStore) OldestDeviceSession(_ context.Context, accountID int64) (*db.DeviceSession, bool, error) {
	m := f.sessions[accountID]
	if len(m) == 0 {
		return nil, false, nil
	}
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m[ids[i]], m[ids[j]]
		if a.LastUsed != b.LastUsed {
			return a.LastUsed < b.LastUsed
		}
		return a.DeviceID < b.DeviceID
	})
	return m[ids[0]], true, nil
}

func (f *fakeStore) DeleteDeviceSession(_ context.Context, accountID int64, deviceID string) error {
	delete(f.sessions[accountID], deviceID)
	return nil
}

func (f *fakeStore) DeleteAccountDeviceSessions(_ context.Context, accountID int64) error {
	delete(f.sessions, accountID)
	return nil
}

func newTestManager(store SessionStore, cap int) *Manager {
	return &Manager{
		Store: store,
		Tokens: &Tokens{
			AccessSecret:  []byte("access-secret"),
			RefreshSecret: []byte("refresh-secret"),
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
		},
		DeviceCap: cap,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testAcc(store *fakeStore) *db.Account {
	acc := &db.Account{
		ID: 1, Email: "u@example.com", Name: "U",
		RootPath: "/srv/accounts/u", StorageLimit: 1000,
	}
	store.accounts[acc.Email] = acc
	return acc
}

func TestLoginGeneratesDeviceID(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, 3)
	acc := testAcc(store)

	pair, err := m.Login(context.Background(), acc, "")
	require.NoError(t, err)
	require.NotEmpty(t, pair.DeviceID)
	require.NotEmpty(t, pair.Access)
	require.NotEmpty(t, pair.Refresh)

	claims, err := m.Tokens.ParseAccess(pair.Access)
	require.NoError(t, err)
	require.Equal(t, acc.Email, claims.Email)
	require.Equal(t, acc.RootPath, claims.Root)
	require.False(t, claims.Admin)

	sess, ok, err := store.GetDeviceSession(context.Background(), acc.ID, pair.DeviceID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pair.Refresh, sess.RefreshToken)
}

func TestLoginEvictsLRUAtCap(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, 2)
	acc := testAcc(store)
	ctx := context.Background()

	p1, err := m.Login(ctx, acc, "dev-1")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = m.Login(ctx, acc, "dev-2")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	// Third, new device at cap: dev-1 is the LRU victim.
	_, err = m.Login(ctx, acc, "dev-3")
	require.NoError(t, err)

	n, err := store.CountDeviceSessions(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	_, ok, _ := store.GetDeviceSession(ctx, acc.ID, "dev-1")
	require.False(t, ok, "dev-1 should have been evicted")

	// The evicted device's refresh token no longer works.
	_, err = m.Refresh(ctx, p1.Refresh)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestLoginKnownDeviceDoesNotEvict(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, 2)
	acc := testAcc(store)
	ctx := context.Background()

	_, err := m.Login(ctx, acc, "dev-1")
	require.NoError(t, err)
	_, err = m.Login(ctx, acc, "dev-2")
	require.NoError(t, err)

	// Re-login from a known device at cap must not evict anyone.
	_, err = m.Login(ctx, acc, "dev-1")
	require.NoError(t, err)
	n, _ := store.CountDeviceSessions(ctx, acc.ID)
	require.Equal(t, 2, n)
}

func TestRefreshRotates(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, 3)
	acc := testAcc(store)
	ctx := context.Background()

	p1, err := m.Login(ctx, acc, "dev-1")
	require.NoError(t, err)

	p2, err := m.Refresh(ctx, p1.Refresh)
	require.NoError(t, err)
	require.Equal(t, "dev-1", p2.DeviceID)
	require.NotEmpty(t, p2.Access)

	sess, ok, _ := store.GetDeviceSession(ctx, acc.ID, "dev-1")
	require.True(t, ok)
	require.Equal(t, p2.Refresh, sess.RefreshToken)
}

func TestRefreshStaleTokenEvictsDevice(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, 3)
	acc := testAcc(store)
	ctx := context.Background()

	p1, err := m.Login(ctx, acc, "dev-1")
	require.NoError(t, err)
	// Rotation makes p1's refresh value stale.
	_, err = m.Refresh(ctx, p1.Refresh)
	require.NoError(t, err)

	_, err = m.Refresh(ctx, p1.Refresh)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	// Possible compromise: the whole device session is gone.
	_, ok, _ := store.GetDeviceSession(ctx, acc.ID, "dev-1")
	require.False(t, ok)
}

func TestRefreshRejectsForgedToken(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, 3)
	testAcc(store)

	forged := &Tokens{
		AccessSecret:  []byte("other-access"),
		RefreshSecret: []byte("other-refresh"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Minute,
	}
	tok, _, err := forged.IssueRefresh("u@example.com", "dev-1")
	require.NoError(t, err)

	_, err = m.Refresh(context.Background(), tok)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, 3)
	acc := testAcc(store)
	ctx := context.Background()

	short := &Tokens{
		AccessSecret:  m.Tokens.AccessSecret,
		RefreshSecret: m.Tokens.RefreshSecret,
		AccessTTL:     time.Minute,
		RefreshTTL:    -time.Minute,
	}
	tok, _, err := short.IssueRefresh(acc.Email, "dev-1")
	require.NoError(t, err)

	_, err = m.Refresh(ctx, tok)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestRevokeAll(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, 5)
	acc := testAcc(store)
	ctx := context.Background()

	for _, dev := range []string{"a", "b", "c"} {
		_, err := m.Login(ctx, acc, dev)
		require.NoError(t, err)
	}
	require.NoError(t, m.RevokeAll(ctx, acc))
	n, _ := store.CountDeviceSessions(ctx, acc.ID)
	require.Equal(t, 0, n)
}
