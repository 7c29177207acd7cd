// Package archive builds zip files from entries under the root and extracts
// uploaded archives after validating every entry.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"filedeck/internal/fsutil"
)

var (
	ErrNoItems       = errors.New("no valid items to archive")
	ErrNotFound      = errors.New("archive not found")
	ErrUnsafeEntry   = errors.New("unsafe archive entry")
	ErrCollision     = errors.New("archive entry collides with existing path")
	ErrTargetNotDir  = errors.New("extraction target is not a directory")
	ErrInvalidFormat = errors.New("not a valid zip archive")
)

// EntryError explains why extraction was refused. Its message is meant for
// users; errors.Is matches ErrUnsafeEntry or ErrCollision.
type EntryError struct {
	Entry  string
	Reason string
	kind   error
}

func (e *EntryError) Error() string { return e.Reason }
func (e *EntryError) Unwrap() error { return e.kind }

type Service struct {
	guard  *fsutil.Guard
	hidden func(name string) bool
	log    *zap.Logger
}

// New returns a Service over guard. Entries for which hidden reports true are
// left out of archives at any depth; a nil hidden keeps everything.
func New(guard *fsutil.Guard, hidden func(name string) bool, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if hidden == nil {
		hidden = func(string) bool { return false }
	}
	return &Service{guard: guard, hidden: hidden, log: log}
}

// source is one file or directory queued for an archive.
type source struct {
	abs   string
	name  string // slash path inside the archive; directories end in "/"
	isDir bool
	info  os.FileInfo
}

// CreateArchive writes a zip of the named entries of rel into rel itself and
// returns the archive's file name. Invalid or out-of-root items are skipped.
func (s *Service) CreateArchive(items []string, rel, name string) (string, error) {
	dir, err := s.guard.ResolveDir(rel)
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if !strings.HasSuffix(name, ".zip") {
		name += ".zip"
	}
	if !fsutil.IsValidEntryName(name) || name == ".zip" {
		return "", fsutil.ErrInvalidName
	}
	srcs := s.collect(dir, items)
	if len(srcs) == 0 {
		return "", ErrNoItems
	}

	target, f, err := createUnique(dir, name)
	if err != nil {
		return "", err
	}
	if !s.guard.Contains(target) {
		_ = f.Close()
		_ = os.Remove(target)
		return "", fsutil.ErrOutsideRoot
	}
	zw := zip.NewWriter(f)
	werr := write(zw, srcs)
	if cerr := zw.Close(); werr == nil {
		werr = cerr
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("create archive: %w", werr)
	}
	s.log.Info("archive created", zap.String("path", target), zap.Int("entries", len(srcs)))
	return filepath.Base(target), nil
}

// createUnique opens dir/name exclusively, falling back to base_1.zip,
// base_2.zip and so on.
func createUnique(dir, name string) (string, *os.File, error) {
	base := strings.TrimSuffix(name, ".zip")
	candidate := name
	for i := 1; ; i++ {
		target := filepath.Join(dir, candidate)
		f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return target, f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, err
		}
		candidate = fmt.Sprintf("%s_%d.zip", base, i)
	}
}

// Stream writes a zip of the named entries of rel to w. Items are validated
// before the first byte is written so callers can still report ErrNoItems.
func (s *Service) Stream(w io.Writer, rel string, items []string) error {
	dir, err := s.guard.ResolveDir(rel)
	if err != nil {
		return err
	}
	srcs := s.collect(dir, items)
	if len(srcs) == 0 {
		return ErrNoItems
	}
	zw := zip.NewWriter(w)
	if err := write(zw, srcs); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// collect expands items into archive sources, skipping anything invalid,
// missing or resolving outside the root.
func (s *Service) collect(dir string, items []string) []source {
	var out []source
	for _, item := range items {
		if !fsutil.IsValidEntryName(item) || s.hidden(item) {
			continue
		}
		abs := filepath.Join(dir, item)
		if !s.guard.Contains(abs) {
			s.log.Debug("archive item skipped", zap.String("item", item))
			continue
		}
		st, err := os.Stat(abs)
		if err != nil {
			continue
		}
		if !st.IsDir() {
			if st.Mode().IsRegular() {
				out = append(out, source{abs: abs, name: item, info: st})
			}
			continue
		}
		out = append(out, s.collectDir(abs, item, st)...)
	}
	return out
}

// collectDir lists a directory tree in stable order. Links are only kept when
// they point at regular files inside the root and are never descended.
func (s *Service) collectDir(abs, name string, st os.FileInfo) []source {
	walkRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil
	}
	out := []source{{abs: abs, name: name + "/", isDir: true, info: st}}
	var mu sync.Mutex
	conf := fastwalk.Config{Follow: false}
	_ = fastwalk.Walk(&conf, walkRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil || p == walkRoot {
			return nil
		}
		sub, err := filepath.Rel(walkRoot, p)
		if err != nil {
			return nil
		}
		if s.hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		entry := name + "/" + filepath.ToSlash(sub)
		var src source
		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return filepath.SkipDir
			}
			src = source{abs: p, name: entry + "/", isDir: true, info: info}
		case d.Type()&os.ModeSymlink != 0:
			info, err := os.Stat(p)
			if err != nil || !info.Mode().IsRegular() || !s.guard.Contains(p) {
				return nil
			}
			src = source{abs: p, name: entry, info: info}
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return nil
			}
			src = source{abs: p, name: entry, info: info}
		default:
			return nil
		}
		mu.Lock()
		out = append(out, src)
		mu.Unlock()
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func write(zw *zip.Writer, srcs []source) error {
	for _, src := range srcs {
		h, err := zip.FileInfoHeader(src.info)
		if err != nil {
			return err
		}
		h.Name = src.name
		if src.isDir {
			h.Method = zip.Store
			if _, err := zw.CreateHeader(h); err != nil {
				return err
			}
			continue
		}
		h.Method = zip.Deflate
		w, err := zw.CreateHeader(h)
		if err != nil {
			return err
		}
		if err := copyInto(w, src.abs); err != nil {
			return err
		}
	}
	return nil
}

func copyInto(w io.Writer, abs string) error {
	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
