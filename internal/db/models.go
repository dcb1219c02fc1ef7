// Package db defines persistence models for CloudCrate.
package db

// Account represents a registered identity with its storage root and quota
// counters. StorageUsed tracks the recursive byte size of the root subtree
// and is the source of truth for quota admission.
type Account struct {
	ID           int64
	Email        string
	Name         string
	PassHash     string
	RootPath     string
	Admin        bool
	StorageUsed  int64
	StorageLimit int64
	CreatedAt    int64
	UpdatedAt    int64
}

// DeviceSession records one client installation's current refresh
// credential. Exactly one value per (account, device) is valid at a time;
// LastUsed drives least-recently-used eviction at the device cap.
type DeviceSession struct {
	AccountID    int64
	DeviceID     string
	RefreshToken string
	LastUsed     int64
	ExpiresAt    int64
}

// AccountSummary is the admin listing projection. The credential hash and
// root path are deliberately excluded.
type AccountSummary struct {
	Email        string
	Name         string
	Admin        bool
	StorageUsed  int64
	StorageLimit int64
	CreatedAt    int64
}
