// Package sandbox maps untrusted client path segments onto a real
// filesystem path confined to an account's root directory.
package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"cloudcrate/internal/errs"
)

// Path is a resolved location inside an account's root. IsRoot is set when
// the client supplied no segments, so destructive operations can refuse to
// act on the root itself.
type Path struct {
	Local    string
	Segments []string
	IsRoot   bool
}

// Dir returns the parent directory of the resolved path.
func (p Path) Dir() string { return filepath.Dir(p.Local) }

// Base returns the final element of the resolved path.
func (p Path) Base() string { return filepath.Base(p.Local) }

// Resolve joins client-supplied segments onto root. Any segment equal to
// ".." is rejected outright; the joined result is additionally cleaned and
// prefix-checked against the canonical root, and existing symlink
// components under root are refused.
func Resolve(root string, segments []string) (Path, error) {
	if root == "" {
		return Path{}, errors.New("root is required")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return Path{}, err
	}
	rootAbs = filepath.Clean(rootAbs)

	for _, seg := range segments {
		if err := checkSegment(seg); err != nil {
			return Path{}, err
		}
	}

	joined := filepath.Join(append([]string{rootAbs}, segments...)...)
	joined = filepath.Clean(joined)
	if !isWithin(rootAbs, joined) {
		return Path{}, errs.ErrPathTraversal
	}
	if hasSymlinkComponent(rootAbs, joined) {
		return Path{}, errs.ErrPathTraversal
	}

	return Path{
		Local:    joined,
		Segments: append([]string(nil), segments...),
		IsRoot:   len(segments) == 0,
	}, nil
}

// ResolveName resolves a single new-entry name under an already resolved
// directory. It rejects names that are empty, dots, or contain separators.
func ResolveName(dir Path, name string) (Path, error) {
	if err := checkSegment(name); err != nil {
		return Path{}, err
	}
	return Path{
		Local:    filepath.Join(dir.Local, name),
		Segments: append(append([]string(nil), dir.Segments...), name),
		IsRoot:   false,
	}, nil
}

func checkSegment(seg string) error {
	if seg == ".." {
		return errs.ErrPathTraversal
	}
	if seg == "" || seg == "." {
		return errs.ErrValidation
	}
	if strings.ContainsAny(seg, "/\\") || strings.ContainsRune(seg, 0) {
		return errs.ErrValidation
	}
	return nil
}

func isWithin(root, candidate string) bool {
	if root == candidate {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(candidate, root)
}

// hasSymlinkComponent walks each existing component between root and the
// resolved path and refuses symlinks. Components that do not exist yet
// cannot be traversed and are fine.
func hasSymlinkComponent(rootAbs, fullPath string) bool {
	rel, err := filepath.Rel(rootAbs, fullPath)
	if err != nil {
		return true
	}
	rel = filepath.Clean(rel)
	if rel == "." {
		return false
	}
	cur := rootAbs
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "" || part == "." {
			continue
		}
		cur = filepath.Join(cur, part)
		st, err := os.Lstat(cur)
		if err != nil {
			return false
		}
		if st.Mode()&os.ModeSymlink != 0 {
			return true
		}
	}
	return false
}
