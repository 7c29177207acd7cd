package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"filedeck/internal/fsutil"
)

// step is one validated archive entry.
type step struct {
	file  *zip.File
	rel   string // normalized slash path below the target
	abs   string
	isDir bool
}

// ExtractArchive unpacks rel/name into rel, or into rel/target when target is
// set. Every entry is validated before anything is written, so a rejected
// archive leaves the filesystem untouched.
func (s *Service) ExtractArchive(rel, name, target string) (string, error) {
	baseRel := fsutil.Normalize(rel)
	archiveAbs, err := s.guard.ResolveEntry(baseRel, name)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	destRel := baseRel
	if t := fsutil.Normalize(target); t != "" {
		destRel = fsutil.JoinRel(baseRel, t)
	}
	destAbs := s.guard.Abs(destRel)
	if !s.guard.ContainsPending(destAbs) {
		return "", &EntryError{Reason: "Target path is outside the root", kind: ErrUnsafeEntry}
	}
	if st, err := os.Stat(destAbs); err == nil && !st.IsDir() {
		return "", ErrTargetNotDir
	}

	// The reader may return a usable archive together with an insecure-path
	// error; entry names are vetted by preflight either way.
	zr, err := zip.OpenReader(archiveAbs)
	if zr == nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	defer zr.Close()

	steps, err := s.preflight(zr.File, destAbs)
	if err != nil {
		s.log.Warn("archive rejected",
			zap.String("archive", fsutil.JoinRel(baseRel, name)),
			zap.Error(err))
		return "", err
	}

	if err := os.MkdirAll(destAbs, 0o755); err != nil {
		return "", fmt.Errorf("create target: %w", err)
	}
	for _, st := range steps {
		if err := s.extractOne(st); err != nil {
			return "", fmt.Errorf("extract %s: %w", st.rel, err)
		}
	}
	s.log.Info("archive extracted",
		zap.String("archive", fsutil.JoinRel(baseRel, name)),
		zap.String("target", destRel),
		zap.Int("entries", len(steps)))
	return destRel, nil
}

func (s *Service) preflight(files []*zip.File, destAbs string) ([]step, error) {
	steps := make([]step, 0, len(files))
	kinds := make(map[string]bool, len(files)) // rel -> isDir
	for _, f := range files {
		raw := f.Name
		if strings.Contains(raw, "..") || strings.Contains(raw, "\x00") {
			return nil, &EntryError{Entry: raw, Reason: "Malicious entry detected: " + raw, kind: ErrUnsafeEntry}
		}
		rel := fsutil.Normalize(raw)
		if rel == "" {
			continue
		}
		isDir := strings.HasSuffix(strings.ReplaceAll(raw, "\\", "/"), "/") || f.FileInfo().IsDir()
		abs := filepath.Join(destAbs, filepath.FromSlash(rel))
		if !s.guard.ContainsPending(abs) {
			return nil, &EntryError{Entry: raw, Reason: "Path traversal out of root detected", kind: ErrUnsafeEntry}
		}
		if st, err := os.Lstat(abs); err == nil {
			if !isDir && st.IsDir() {
				return nil, &EntryError{Entry: raw, kind: ErrCollision,
					Reason: fmt.Sprintf("Collision detected: Cannot extract file '%s' because a directory with the same name already exists.", rel)}
			}
			if isDir && !st.IsDir() {
				return nil, &EntryError{Entry: raw, kind: ErrCollision,
					Reason: fmt.Sprintf("Collision detected: Cannot extract directory '%s' because a file with the same name already exists.", rel)}
			}
		}
		if prev, seen := kinds[rel]; seen && prev != isDir {
			return nil, &EntryError{Entry: raw, kind: ErrCollision,
				Reason: fmt.Sprintf("Collision detected: '%s' is both a file and a directory in the archive.", rel)}
		}
		kinds[rel] = isDir
		steps = append(steps, step{file: f, rel: rel, abs: abs, isDir: isDir})
	}

	// Parents of every entry must end up as directories, both on disk and
	// within the archive itself.
	for _, st := range steps {
		for parent := parentRel(st.rel); parent != ""; parent = parentRel(parent) {
			if isDir, seen := kinds[parent]; seen && !isDir {
				return nil, &EntryError{Entry: st.file.Name, kind: ErrCollision,
					Reason: fmt.Sprintf("Collision detected: '%s' is both a file and a directory in the archive.", parent)}
			}
			if info, err := os.Stat(filepath.Join(destAbs, filepath.FromSlash(parent))); err == nil && !info.IsDir() {
				return nil, &EntryError{Entry: st.file.Name, kind: ErrCollision,
					Reason: fmt.Sprintf("Collision detected: Cannot extract '%s' because '%s' is a file.", st.rel, parent)}
			}
		}
	}
	return steps, nil
}

func parentRel(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return ""
}

// extractOne writes a single entry. Links in archives are written as plain
// files; nothing is ever written through an existing link.
func (s *Service) extractOne(st step) error {
	if !s.guard.ContainsPending(st.abs) {
		return fsutil.ErrOutsideRoot
	}
	if st.isDir {
		return os.MkdirAll(st.abs, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(st.abs), 0o755); err != nil {
		return err
	}
	if info, err := os.Lstat(st.abs); err == nil && !info.IsDir() {
		if err := os.Remove(st.abs); err != nil {
			return err
		}
	}
	rc, err := st.file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(st.abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
