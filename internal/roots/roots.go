// Package roots confines filesystem access to a configured allow-list of
// directory roots. Every client-supplied path must pass through Guard.Resolve
// before any filesystem call is made with it.
package roots

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AccessDeniedError reports a path falling outside every allowed root.
// Requested carries the canonical form of the rejected path.
type AccessDeniedError struct {
	Requested string
	Roots     []string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s is outside allowed directories", e.Requested)
}

// Guard validates paths against an immutable set of allowed roots.
type Guard struct {
	roots []string
}

// New builds a Guard from the configured directories. Each entry is
// home-expanded, made absolute, and symlink-resolved; it must exist and be
// a directory. The set is fixed for the lifetime of the Guard.
func New(dirs []string) (*Guard, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("at least one allowed directory is required")
	}

	roots := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(expandHome(dir))
		if err != nil {
			return nil, fmt.Errorf("resolve allowed directory %s: %w", dir, err)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("resolve allowed directory %s: %w", dir, err)
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return nil, fmt.Errorf("stat allowed directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("allowed directory %s is not a directory", dir)
		}
		roots = append(roots, strings.TrimRight(resolved, string(os.PathSeparator)))
	}

	return &Guard{roots: roots}, nil
}

// Roots returns a copy of the configured allow-list.
func (g *Guard) Roots() []string {
	out := make([]string, len(g.roots))
	copy(out, g.roots)
	return out
}

// Resolve canonicalizes a client-supplied path and verifies it is contained
// in one of the allowed roots. It returns the canonical absolute path to
// operate on, or an *AccessDeniedError. No filesystem state is modified.
func (g *Guard) Resolve(p string) (string, error) {
	abs, err := filepath.Abs(expandHome(p))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	resolved := canonicalize(abs)

	for _, root := range g.roots {
		if contains(root, resolved) {
			return resolved, nil
		}
	}
	return "", &AccessDeniedError{Requested: resolved, Roots: g.Roots()}
}

// Contains reports whether an already-canonical path lies under one of the
// allowed roots. Used for defense-in-depth re-checks on walk results.
func (g *Guard) Contains(canonical string) bool {
	for _, root := range g.roots {
		if contains(root, canonical) {
			return true
		}
	}
	return false
}

// contains is a segment-wise prefix test: the root must end exactly at a
// separator boundary of the candidate, so /data/foo never admits
// /data/foobar. Comparison is case-insensitive for compatibility with the
// original service contract.
func contains(root, p string) bool {
	r := strings.ToLower(root)
	c := strings.ToLower(p)
	if r == c {
		return true
	}
	return strings.HasPrefix(c, r+string(os.PathSeparator))
}

// canonicalize resolves symlinks in as much of the path as exists. For a
// path whose tail does not exist yet (a file about to be created), the
// nearest existing ancestor is resolved and the remainder re-joined, so a
// symlinked parent cannot smuggle a new file outside the allowed roots.
func canonicalize(abs string) string {
	path := filepath.Clean(abs)
	suffix := ""
	for {
		resolved, err := filepath.EvalSymlinks(path)
		if err == nil {
			return filepath.Join(resolved, suffix)
		}
		if !os.IsNotExist(err) {
			return filepath.Join(path, suffix)
		}
		parent := filepath.Dir(path)
		if parent == path {
			return filepath.Join(path, suffix)
		}
		suffix = filepath.Join(filepath.Base(path), suffix)
		path = parent
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}
