// Package auth implements password hashing and the rotating multi-device
// token scheme: short-lived access tokens plus one refresh token per device,
// with least-recently-used eviction at the device cap.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"

	"cloudcrate/internal/db"
	"cloudcrate/internal/errs"
)

// SessionStore is the slice of the persistence layer the manager needs.
type SessionStore interface {
	GetAccountByEmail(ctx context.Context, email string) (*db.Account, bool, error)
	UpsertDeviceSession(ctx context.Context, s *db.DeviceSession) error
	GetDeviceSession(ctx context.Context, accountID int64, deviceID string) (*db.DeviceSession, bool, error)
	CountDeviceSessions(ctx context.Context, accountID int64) (int, error)
	OldestDeviceSession(ctx context.Context, accountID int64) (*db.DeviceSession, bool, error)
	DeleteDeviceSession(ctx context.Context, accountID int64, deviceID string) error
	DeleteAccountDeviceSessions(ctx context.Context, accountID int64) error
}

// Pair is an access/refresh credential pair together with the device the
// refresh half is bound to.
type Pair struct {
	Access   string
	Refresh  string
	DeviceID string
}

// Manager issues and rotates credential pairs.
type Manager struct {
	Store     SessionStore
	Tokens    *Tokens
	DeviceCap int
	Logger    *slog.Logger
}

// Login mints a credential pair for an authenticated account. When deviceID
// is empty a fresh opaque id is generated. A new device arriving at the cap
// evicts the session with the smallest last-used timestamp.
func (m *Manager) Login(ctx context.Context, acc *db.Account, deviceID string) (Pair, error) {
	isNew := false
	if deviceID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return Pair{}, err
		}
		deviceID = id.String()
		isNew = true
	} else {
		_, known, err := m.Store.GetDeviceSession(ctx, acc.ID, deviceID)
		if err != nil {
			return Pair{}, err
		}
		isNew = !known
	}

	if isNew {
		n, err := m.Store.CountDeviceSessions(ctx, acc.ID)
		if err != nil {
			return Pair{}, err
		}
		if n >= m.DeviceCap {
			if err := m.evictLRU(ctx, acc); err != nil {
				return Pair{}, err
			}
		}
	}

	return m.rotate(ctx, acc, deviceID)
}

// Refresh validates a presented refresh token and rotates the pair. A stale
// value for a known device signals possible compromise: the device session
// is evicted and the request fails.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	claims, err := m.Tokens.ParseRefresh(refreshToken)
	if err != nil {
		return Pair{}, err
	}

	acc, ok, err := m.Store.GetAccountByEmail(ctx, claims.Email)
	if err != nil {
		return Pair{}, err
	}
	if !ok {
		return Pair{}, errs.ErrUnauthorized
	}

	sess, ok, err := m.Store.GetDeviceSession(ctx, acc.ID, claims.DeviceID)
	if err != nil {
		return Pair{}, err
	}
	if !ok {
		// Unknown or already-evicted device.
		return Pair{}, errs.ErrUnauthorized
	}
	if sess.RefreshToken != refreshToken {
		m.Logger.Warn("stale refresh token presented, evicting device",
			"email", acc.Email, "device_id", claims.DeviceID)
		if err := m.Store.DeleteDeviceSession(ctx, acc.ID, claims.DeviceID); err != nil {
			return Pair{}, err
		}
		return Pair{}, errs.ErrUnauthorized
	}

	return m.rotate(ctx, acc, claims.DeviceID)
}

// RevokeAll clears every device session for the account (logout-all).
func (m *Manager) RevokeAll(ctx context.Context, acc *db.Account) error {
	return m.Store.DeleteAccountDeviceSessions(ctx, acc.ID)
}

func (m *Manager) rotate(ctx context.Context, acc *db.Account, deviceID string) (Pair, error) {
	access, err := m.Tokens.IssueAccess(acc)
	if err != nil {
		return Pair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, exp, err := m.Tokens.IssueRefresh(acc.Email, deviceID)
	if err != nil {
		return Pair{}, fmt.Errorf("issue refresh token: %w", err)
	}
	err = m.Store.UpsertDeviceSession(ctx, &db.DeviceSession{
		AccountID:    acc.ID,
		DeviceID:     deviceID,
		RefreshToken: refresh,
		LastUsed:     time.Now().UnixNano(),
		ExpiresAt:    exp.Unix(),
	})
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh, DeviceID: deviceID}, nil
}

func (m *Manager) evictLRU(ctx context.Context, acc *db.Account) error {
	victim, ok, err := m.Store.OldestDeviceSession(ctx, acc.ID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	m.Logger.Info("device cap reached, evicting least-recently-used session",
		"email", acc.Email, "device_id", victim.DeviceID)
	return m.Store.DeleteDeviceSession(ctx, acc.ID, victim.DeviceID)
}
