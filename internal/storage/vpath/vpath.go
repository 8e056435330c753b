// Package vpath validates and resolves user-supplied paths against the
// storage root. Every accepted path resolves, after following symlinks, to a
// location inside the root.
package vpath

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/homedrive/backend/internal/storage/errs"
)

// TrashDirName is the reserved trash directory at the storage root. Only the
// trash manager writes there; ordinary operations must not target it.
const TrashDirName = ".trash"

// MaxNameLength bounds a single path segment, matching common filesystem
// limits.
const MaxNameLength = 255

// Validator sandboxes virtual paths to a canonical storage root.
type Validator struct {
	root string
}

// New creates a validator for root. The root must exist and be a directory;
// it is resolved through symlinks once so later prefix checks compare
// canonical paths.
func New(root string) (*Validator, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", root)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	return &Validator{root: abs}, nil
}

// Root returns the canonical absolute storage root.
func (v *Validator) Root() string { return v.root }

// Resolve validates a virtual path and returns its canonical absolute form.
// The path may name a not-yet-existing entry; symlinks along the existing
// prefix are followed before the containment check.
func (v *Validator) Resolve(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) {
		return "", errs.ErrPathTraversal
	}
	if strings.HasPrefix(raw, "/") || filepath.IsAbs(raw) {
		return "", errs.ErrPathTraversal
	}
	// Clean with a leading slash so ".." can never climb above the root;
	// any surviving ".." means the raw path tried to escape.
	clean := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(raw, "\\", "/")), "/")
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".." {
			return "", errs.ErrPathTraversal
		}
	}
	if clean == "" || clean == "." {
		return v.root, nil
	}

	abs := filepath.Join(v.root, filepath.FromSlash(clean))
	resolved, err := evalExisting(abs)
	if err != nil {
		return "", errs.IO("resolve", err)
	}
	if !v.Contains(resolved) {
		return "", errs.ErrPathTraversal
	}
	return resolved, nil
}

// ResolveDestination is Resolve plus the reserved-name policy: the trash
// directory is never a valid destination for ordinary operations.
func (v *Validator) ResolveDestination(raw string) (string, error) {
	abs, err := v.Resolve(raw)
	if err != nil {
		return "", err
	}
	if v.IsTrash(abs) {
		return "", errs.ErrForbidden
	}
	return abs, nil
}

// ValidateName rejects names that are empty, contain path separators or NUL
// bytes, are dot entries, or exceed the length limit.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid name %q: %w", name, errs.ErrPathTraversal)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name too long (max %d bytes): %w", MaxNameLength, errs.ErrPathTraversal)
	}
	if strings.ContainsAny(name, "/\\") || strings.ContainsRune(name, 0) {
		return fmt.Errorf("invalid name %q: %w", name, errs.ErrPathTraversal)
	}
	return nil
}

// Contains reports whether abs is the root or strictly inside it.
func (v *Validator) Contains(abs string) bool {
	if abs == v.root {
		return true
	}
	return strings.HasPrefix(abs, v.root+string(filepath.Separator))
}

// IsTrash reports whether abs is the trash directory or inside it.
func (v *Validator) IsTrash(abs string) bool {
	trash := filepath.Join(v.root, TrashDirName)
	return abs == trash || strings.HasPrefix(abs, trash+string(filepath.Separator))
}

// TrashDir returns the canonical trash directory path.
func (v *Validator) TrashDir() string {
	return filepath.Join(v.root, TrashDirName)
}

// Relative converts a canonical absolute path back to its slash-separated
// virtual form. The root maps to "".
func (v *Validator) Relative(abs string) string {
	rel, err := filepath.Rel(v.root, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// evalExisting resolves symlinks over the longest existing prefix of abs and
// rejoins the non-existing remainder, so paths for entries about to be
// created still get containment-checked against real locations.
func evalExisting(abs string) (string, error) {
	remainder := ""
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			if remainder == "" {
				return resolved, nil
			}
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		if remainder == "" {
			remainder = filepath.Base(current)
		} else {
			remainder = filepath.Join(filepath.Base(current), remainder)
		}
		current = parent
	}
}
