// Package fileops performs mutating file operations confined to the root.
// Every target is resolved through fsutil.Guard and re-checked right before
// the filesystem call that changes it.
package fileops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"filedeck/internal/fsutil"
)

// maxTreeDepth bounds recursive copy and delete.
const maxTreeDepth = 256

type Options struct {
	// MaxUploadSize is the per-file upload ceiling in bytes.
	MaxUploadSize int64
	// AllowedExtensions lists lower-case extensions without dots; "*" allows
	// everything.
	AllowedExtensions []string
	// MaxEditSize caps files returned by ReadFile.
	MaxEditSize int64
}

type Engine struct {
	guard *fsutil.Guard
	opts  Options
	log   *zap.Logger
}

func New(guard *fsutil.Guard, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 50 << 20
	}
	if len(opts.AllowedExtensions) == 0 {
		opts.AllowedExtensions = []string{"*"}
	}
	if opts.MaxEditSize <= 0 {
		opts.MaxEditSize = 5 << 20
	}
	return &Engine{guard: guard, opts: opts, log: log}
}

func (e *Engine) Guard() *fsutil.Guard { return e.guard }

// entry resolves name inside directory rel, which must already exist.
func (e *Engine) entry(rel, name string) (string, error) {
	abs, err := e.guard.ResolveEntry(rel, name)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	return abs, err
}

func exists(abs string) bool {
	_, err := os.Lstat(abs)
	return err == nil
}

// CreateDirectory makes rel/name with mode 0755.
func (e *Engine) CreateDirectory(rel, name string) error {
	_, child, err := e.guard.ResolveParentChild(rel, name)
	if err != nil {
		return pathErr(err)
	}
	if exists(child) {
		return ErrExists
	}
	if !e.guard.ContainsPending(child) {
		return fsutil.ErrOutsideRoot
	}
	if err := os.MkdirAll(child, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", name, err)
	}
	e.log.Info("directory created", zap.String("path", fsutil.JoinRel(fsutil.Normalize(rel), name)))
	return nil
}

// pathErr folds parent-directory resolution failures into ErrDestMissing.
func pathErr(err error) error {
	if errors.Is(err, fs.ErrNotExist) || fsutil.IsNotDir(err) {
		return ErrDestMissing
	}
	return err
}

// Delete removes rel/name; directories are removed depth-first.
func (e *Engine) Delete(rel, name string) error {
	abs, err := e.entry(rel, name)
	if err != nil {
		return err
	}
	if abs == e.guard.Root() {
		return ErrRootProtected
	}
	if err := removeTree(abs, 0); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	e.log.Info("deleted", zap.String("path", fsutil.JoinRel(fsutil.Normalize(rel), name)))
	return nil
}

// removeTree never follows symlinks: a link is unlinked, not its target.
func removeTree(abs string, depth int) error {
	if depth > maxTreeDepth {
		return ErrTooDeep
	}
	st, err := os.Lstat(abs)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return os.Remove(abs)
	}
	ents, err := os.ReadDir(abs)
	if err != nil {
		return err
	}
	for _, ent := range ents {
		if err := removeTree(filepath.Join(abs, ent.Name()), depth+1); err != nil {
			return err
		}
	}
	return os.Remove(abs)
}

// DeleteMultiple deletes each name under rel, continuing past failures.
func (e *Engine) DeleteMultiple(names []string, rel string) BatchResult {
	var res BatchResult
	for _, name := range names {
		if err := e.Delete(rel, name); err != nil {
			e.log.Warn("delete failed", zap.String("name", name), zap.Error(err))
			res.add(name, false, Message(err))
			continue
		}
		res.add(name, true, "Deleted")
	}
	return res.finish("Deleted", "delete")
}

// Rename renames rel/oldName to rel/newName within the same directory.
func (e *Engine) Rename(rel, oldName, newName string) error {
	if !fsutil.IsValidEntryName(newName) {
		return fsutil.ErrInvalidName
	}
	src, err := e.entry(rel, oldName)
	if err != nil {
		return err
	}
	if src == e.guard.Root() {
		return ErrRootProtected
	}
	dst := filepath.Join(filepath.Dir(src), newName)
	if dstSt, err := os.Lstat(dst); err == nil {
		// Allow case-only renames on case-insensitive filesystems.
		srcSt, _ := os.Lstat(src)
		if srcSt == nil || !strings.EqualFold(oldName, newName) || !os.SameFile(srcSt, dstSt) {
			return ErrExists
		}
	}
	if !e.guard.ContainsPending(dst) {
		return fsutil.ErrOutsideRoot
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename %s: %w", oldName, err)
	}
	e.log.Info("renamed", zap.String("from", oldName), zap.String("to", newName))
	return nil
}

var modePattern = regexp.MustCompile(`^0?[0-7]{3}$`)

// ChangePermissions applies an octal mode string such as "755" or "0644".
func (e *Engine) ChangePermissions(rel, name, mode string) error {
	if !modePattern.MatchString(mode) {
		return ErrInvalidMode
	}
	abs, err := e.entry(rel, name)
	if err != nil {
		return err
	}
	bits, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return ErrInvalidMode
	}
	if !e.guard.Contains(abs) {
		return fsutil.ErrOutsideRoot
	}
	if err := os.Chmod(abs, os.FileMode(bits)); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	e.log.Info("permissions changed", zap.String("name", name), zap.String("mode", mode))
	return nil
}

// ReadFile returns the contents of a regular file up to MaxEditSize.
func (e *Engine) ReadFile(rel, name string) ([]byte, error) {
	abs, err := e.entry(rel, name)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, ErrNotAFile
	}
	if st.Size() > e.opts.MaxEditSize {
		return nil, ErrTooLarge
	}
	return os.ReadFile(abs)
}

// WriteFile replaces the contents of an existing regular file, keeping its
// mode.
func (e *Engine) WriteFile(rel, name string, content []byte) error {
	abs, err := e.entry(rel, name)
	if err != nil {
		return err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return ErrNotAFile
	}
	// Write through links so the link itself survives the rename below.
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return err
	}
	if !e.guard.Contains(abs) {
		return fsutil.ErrOutsideRoot
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".save-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, st.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	e.log.Info("file saved", zap.String("name", name), zap.Int("bytes", len(content)))
	return nil
}
