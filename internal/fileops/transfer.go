package fileops

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"filedeck/internal/fsutil"
)

type transferKind int

const (
	transferCopy transferKind = iota
	transferMove
)

// CopyItem copies the entry name of directory srcDir into the existing
// directory destRel, keeping its name.
func (e *Engine) CopyItem(srcDir, name, destRel string) error {
	return e.transfer(transferCopy, srcDir, name, destRel)
}

// MoveItem moves the entry name of directory srcDir into the existing
// directory destRel.
func (e *Engine) MoveItem(srcDir, name, destRel string) error {
	return e.transfer(transferMove, srcDir, name, destRel)
}

func (e *Engine) transfer(kind transferKind, srcDir, name, destRel string) error {
	if name == "" && fsutil.Normalize(srcDir) == "" {
		return ErrRootProtected
	}
	src, err := e.entry(srcDir, name)
	if err != nil {
		return err
	}
	srcRel := fsutil.JoinRel(fsutil.Normalize(srcDir), name)
	dest, err := e.guard.ResolveDir(destRel)
	switch {
	case errors.Is(err, fs.ErrNotExist), fsutil.IsNotDir(err):
		return ErrDestMissing
	case err != nil:
		return err
	}

	st, err := os.Lstat(src)
	if err != nil {
		return ErrNotFound
	}
	if st.IsDir() && isSubPath(dest, src) {
		return ErrSelfContained
	}
	target := filepath.Join(dest, filepath.Base(src))
	if exists(target) {
		return ErrExists
	}
	if !e.guard.ContainsPending(target) {
		return fsutil.ErrOutsideRoot
	}

	if kind == transferCopy {
		if err := e.copyTree(src, target, 0); err != nil {
			_ = removeTree(target, 0)
			return fmt.Errorf("copy %s: %w", srcRel, err)
		}
		e.log.Info("copied", zap.String("from", srcRel), zap.String("to", fsutil.Normalize(destRel)))
		return nil
	}

	if err := os.Rename(src, target); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return fmt.Errorf("move %s: %w", srcRel, err)
		}
		// Different device: copy then remove the source.
		if err := e.copyTree(src, target, 0); err != nil {
			_ = removeTree(target, 0)
			return fmt.Errorf("move %s: %w", srcRel, err)
		}
		if err := removeTree(src, 0); err != nil {
			return fmt.Errorf("move %s: remove source: %w", srcRel, err)
		}
	}
	e.log.Info("moved", zap.String("from", srcRel), zap.String("to", fsutil.Normalize(destRel)))
	return nil
}

// isSubPath reports whether child is parent or lies below it, comparing
// symlink-resolved paths.
func isSubPath(child, parent string) bool {
	c, err := filepath.EvalSymlinks(child)
	if err != nil {
		return false
	}
	p, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return false
	}
	return c == p || strings.HasPrefix(c+string(filepath.Separator), p+string(filepath.Separator))
}

// copyTree recreates symlinks as links and never descends through them.
func (e *Engine) copyTree(src, dst string, depth int) error {
	if depth > maxTreeDepth {
		return ErrTooDeep
	}
	if !e.guard.ContainsPending(dst) {
		return fsutil.ErrOutsideRoot
	}
	st, err := os.Lstat(src)
	if err != nil {
		return err
	}
	switch {
	case st.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	case st.IsDir():
		if err := os.Mkdir(dst, st.Mode().Perm()|0o700); err != nil {
			return err
		}
		ents, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, ent := range ents {
			if err := e.copyTree(filepath.Join(src, ent.Name()), filepath.Join(dst, ent.Name()), depth+1); err != nil {
				return err
			}
		}
		return os.Chmod(dst, st.Mode().Perm())
	case st.Mode().IsRegular():
		return copyFile(src, dst, st.Mode().Perm())
	default:
		e.log.Debug("skipping special file", zap.String("path", src))
		return nil
	}
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// CopyMultiple copies each named entry of srcRel into destRel.
func (e *Engine) CopyMultiple(names []string, srcRel, destRel string) BatchResult {
	return e.transferMultiple(transferCopy, names, srcRel, destRel)
}

// MoveMultiple moves each named entry of srcRel into destRel.
func (e *Engine) MoveMultiple(names []string, srcRel, destRel string) BatchResult {
	return e.transferMultiple(transferMove, names, srcRel, destRel)
}

func (e *Engine) transferMultiple(kind transferKind, names []string, srcRel, destRel string) BatchResult {
	verb, infinitive, done := "Copied", "copy", "Copied successfully"
	if kind == transferMove {
		verb, infinitive, done = "Moved", "move", "Moved successfully"
	}
	var res BatchResult
	for _, name := range names {
		if !fsutil.IsValidEntryName(name) {
			res.add(name, false, "Invalid path")
			continue
		}
		if err := e.transfer(kind, srcRel, name, destRel); err != nil {
			e.log.Warn(infinitive+" failed", zap.String("name", name), zap.Error(err))
			res.add(name, false, Message(err))
			continue
		}
		res.add(name, true, done)
	}
	return res.finish(verb, infinitive)
}
