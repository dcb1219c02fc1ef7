// Package errs contains sentinel errors shared across layers so handlers
// can map failures to stable HTTP statuses.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested account or path does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a missing, invalid, expired, or revoked credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates a valid identity without sufficient privilege,
	// or an operation refused by policy (e.g. acting on the account root).
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a uniqueness violation: duplicate account email
	// or an existing file/folder at the target name.
	ErrConflict = errors.New("already exists")

	// ErrValidation indicates a malformed or missing request field.
	ErrValidation = errors.New("invalid value")

	// ErrPathTraversal indicates a client path that escapes the account root.
	ErrPathTraversal = errors.New("path escapes root")
)

// QuotaError reports a rejected operation together with the numbers the
// client needs to react: current usage, the limit, and the attempted size.
type QuotaError struct {
	Used      int64
	Limit     int64
	Attempted int64
}

func (e *QuotaError) Error() string { return "storage limit reached" }

// IsQuota reports whether err is a quota rejection.
func IsQuota(err error) (*QuotaError, bool) {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
