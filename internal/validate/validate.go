// Package validate contains simple input validation helpers for
// account-facing request fields.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"cloudcrate/internal/errs"
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[a-zA-Z]{2,}$`)

// Email validates an account email address for length and shape.
func Email(s string) error {
	if len(s) < 6 || len(s) > 256 || !emailRe.MatchString(strings.ToLower(s)) {
		return fmt.Errorf("%w: 'email' must be a valid address", errs.ErrValidation)
	}
	return nil
}

// Name validates an account display name (1-32 characters).
func Name(s string) error {
	if len(s) == 0 || len(s) > 32 {
		return fmt.Errorf("%w: 'name' must be 1-32 characters", errs.ErrValidation)
	}
	return nil
}

// Password validates a plaintext password (6-64 characters).
func Password(s string) error {
	if len(s) < 6 || len(s) > 64 {
		return fmt.Errorf("%w: 'password' must be 6-64 characters", errs.ErrValidation)
	}
	return nil
}

// StorageLimit validates a storage limit in bytes.
func StorageLimit(v int64) error {
	if v <= 0 {
		return fmt.Errorf("%w: 'storageLimit' must be a positive byte count", errs.ErrValidation)
	}
	return nil
}

// EntryName validates a file or folder name supplied by a client.
// Path separators and traversal markers are rejected.
func EntryName(s string) error {
	if s == "" || s == "." || s == ".." {
		return fmt.Errorf("%w: 'name' must be a plain file or folder name", errs.ErrValidation)
	}
	if strings.ContainsAny(s, "/\\") || strings.ContainsRune(s, 0) {
		return fmt.Errorf("%w: 'name' must not contain path separators", errs.ErrValidation)
	}
	return nil
}
