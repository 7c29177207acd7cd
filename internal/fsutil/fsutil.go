package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrOutsideRoot = errors.New("path outside root")
	ErrInvalidName = errors.New("invalid name")
)

// Normalize takes a user path like "", ".", "/a/b", "a//b", "..\\x" and
// returns a slash-based relative path with no leading or trailing slash, no
// ".." and no null bytes ("" means root). It never fails and is idempotent.
func Normalize(p string) string {
	for {
		next := normalizeOnce(p)
		if next == p {
			return next
		}
		p = next
	}
}

func normalizeOnce(p string) string {
	p = strings.ReplaceAll(p, "\x00", "")
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	// "....//" collapses to "../" after one pass, so strip until stable.
	for {
		stripped := strings.ReplaceAll(p, "../", "")
		stripped = strings.ReplaceAll(stripped, "..", "")
		if stripped == p {
			break
		}
		p = stripped
	}
	segs := strings.Split(p, "/")
	out := segs[:0]
	for _, s := range segs {
		if s == "" || s == "." {
			continue
		}
		out = append(out, s)
	}
	return strings.Join(out, "/")
}

// IsValidEntryName reports whether name is usable as a single path component.
func IsValidEntryName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

// JoinRel joins a normalized parent path and an entry name.
func JoinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// ContainedInRoot resolves both paths through symlinks and reports whether
// candidate is root or lies below it. Unresolvable paths are never contained.
func ContainedInRoot(candidate, root string) bool {
	c, err := canonical(candidate)
	if err != nil {
		return false
	}
	r, err := canonical(root)
	if err != nil {
		return false
	}
	return within(c, r)
}

func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func within(p, root string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// Guard confines path resolution to one root directory.
type Guard struct {
	root string
}

// NewGuard resolves root to a canonical directory path.
func NewGuard(root string) (*Guard, error) {
	r, err := canonical(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	st, err := os.Stat(r)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", r)
	}
	return &Guard{root: r}, nil
}

func (g *Guard) Root() string { return g.root }

// Abs maps a relative path to its location under root without touching the
// filesystem.
func (g *Guard) Abs(rel string) string {
	rel = Normalize(rel)
	if rel == "" {
		return g.root
	}
	return filepath.Join(g.root, filepath.FromSlash(rel))
}

// Rel returns the slash-separated path of abs relative to root.
func (g *Guard) Rel(abs string) (string, bool) {
	r, err := filepath.Rel(g.root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	if r == "." {
		return "", true
	}
	return filepath.ToSlash(r), true
}

// Contains reports whether an existing path resolves inside root.
func (g *Guard) Contains(abs string) bool {
	return ContainedInRoot(abs, g.root)
}

// ContainsPending judges a path that may not exist yet by resolving its
// deepest existing ancestor and re-attaching the missing tail.
func (g *Guard) ContainsPending(abs string) bool {
	abs = filepath.Clean(abs)
	var tail []string
	cur := abs
	for {
		if _, err := os.Lstat(cur); err == nil {
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return false
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
	resolved, err := canonical(cur)
	if err != nil {
		return false
	}
	for i := len(tail) - 1; i >= 0; i-- {
		if tail[i] == ".." {
			return false
		}
		resolved = filepath.Join(resolved, tail[i])
	}
	return within(resolved, g.root)
}

// Resolve returns the absolute path for rel after confirming it exists and
// resolves inside root. The returned path is not symlink-resolved, so callers
// act on links themselves rather than their targets.
func (g *Guard) Resolve(rel string) (string, error) {
	abs := g.Abs(rel)
	if _, err := os.Lstat(abs); err != nil {
		return "", err
	}
	if !g.Contains(abs) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

// ResolveDir is Resolve restricted to directories.
func (g *Guard) ResolveDir(rel string) (string, error) {
	abs, err := g.Resolve(rel)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !st.IsDir() {
		return "", fmt.Errorf("%s: %w", Normalize(rel), errNotDir)
	}
	return abs, nil
}

var errNotDir = errors.New("not a directory")

// IsNotDir reports whether err came from ResolveDir on a non-directory.
func IsNotDir(err error) bool { return errors.Is(err, errNotDir) }

// ResolveEntry returns the absolute path of the existing entry name inside
// directory rel. Only rel is normalized: name must already be a valid entry
// name and is joined verbatim, so "a...b" stays "a...b".
func (g *Guard) ResolveEntry(rel, name string) (string, error) {
	if !IsValidEntryName(name) {
		return "", ErrInvalidName
	}
	abs := filepath.Join(g.Abs(rel), name)
	if _, err := os.Lstat(abs); err != nil {
		return "", err
	}
	if !g.Contains(abs) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

// SplitEntry splits a slash path into its normalized directory and its last
// component, which is returned untouched for ResolveEntry to validate.
func SplitEntry(p string) (dir, name string) {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return Normalize(p[:i]), p[i+1:]
}

// ResolveParentChild validates name and the containment of its parent
// directory, returning the parent and the (possibly missing) child path.
func (g *Guard) ResolveParentChild(rel, name string) (parent, child string, err error) {
	if !IsValidEntryName(name) {
		return "", "", ErrInvalidName
	}
	parent, err = g.ResolveDir(rel)
	if err != nil {
		return "", "", err
	}
	return parent, filepath.Join(parent, name), nil
}
