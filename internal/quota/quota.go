// Package quota tracks per-account storage usage. The persisted counter is
// the single source of truth for admission decisions; full recursive
// recomputation exists only for registration-time sizing and admin repair.
package quota

import (
	"context"
	"os"

	"github.com/spf13/afero"

	"cloudcrate/internal/errs"
)

// Store is the slice of the persistence layer the ledger writes through.
type Store interface {
	AddStorageUsed(ctx context.Context, accountID int64, delta int64) error
	SetStorageUsed(ctx context.Context, accountID int64, used int64) error
}

// Counters is the usage/limit pair read from an account record.
type Counters struct {
	Used  int64
	Limit int64
}

// Ledger admits or rejects operations against an account's quota and
// persists counter updates after successful mutations.
type Ledger struct {
	Store Store
}

// CanAdmit reports whether extra bytes fit under the limit, evaluated
// against the pre-operation counter.
func (l *Ledger) CanAdmit(c Counters, extra int64) bool {
	return c.Used+extra <= c.Limit
}

// Admit returns a QuotaError carrying usage, limit, and attempted size when
// the extra bytes do not fit.
func (l *Ledger) Admit(c Counters, extra int64) error {
	if !l.CanAdmit(c, extra) {
		return &errs.QuotaError{Used: c.Used, Limit: c.Limit, Attempted: extra}
	}
	return nil
}

// Full reports whether the account is at or over its limit. Creation of new
// entries is refused once full, independent of the entry's size.
func (l *Ledger) Full(c Counters) bool {
	return c.Used >= c.Limit
}

// Commit applies a signed byte delta to the persisted counter.
func (l *Ledger) Commit(ctx context.Context, accountID int64, delta int64) error {
	if delta == 0 {
		return nil
	}
	return l.Store.AddStorageUsed(ctx, accountID, delta)
}

// Reconcile recomputes the true recursive size of root and overwrites the
// persisted counter. Used when a registered root pre-exists with content,
// and exposed as an administrative repair operation.
func (l *Ledger) Reconcile(ctx context.Context, fsys afero.Fs, accountID int64, root string) (int64, error) {
	size, err := TreeSize(fsys, root)
	if err != nil {
		return 0, err
	}
	if err := l.Store.SetStorageUsed(ctx, accountID, size); err != nil {
		return 0, err
	}
	return size, nil
}

// TreeSize returns the recursive byte size of a file or directory subtree.
// Directory entries contribute their own reported size as well.
func TreeSize(fsys afero.Fs, path string) (int64, error) {
	var total int64
	err := afero.Walk(fsys, path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
