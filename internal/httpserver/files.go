package httpserver

import (
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"filedeck/internal/auth"
	"filedeck/internal/fsutil"
)

// thumbSize is the longest edge of generated thumbnails.
const thumbSize = 256

// fileURL is the inline URL of a file below the root.
func fileURL(rel string) string {
	return "/f/" + (&url.URL{Path: rel}).EscapedPath()
}

// rawEntry resolves a slash path whose last component is an entry name.
func (s *Server) rawEntry(p string) (string, error) {
	dir, name := fsutil.SplitEntry(p)
	return s.entryPath(dir, name)
}

// handleFile serves /f/<rel> inline with Range support.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	abs, err := s.rawEntry(strings.TrimPrefix(r.URL.Path, "/f/"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	st, err := os.Stat(abs)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if !st.Mode().IsRegular() {
		http.Error(w, "is a directory", http.StatusBadRequest)
		return
	}
	f, err := os.Open(abs)
	if err != nil {
		http.Error(w, "open failed", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(st.Name()))); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if r.URL.Query().Get("dl") == "1" {
		if !s.can(r, auth.ActDownload) {
			http.Error(w, msgForbidden, http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Disposition", attachment(st.Name()))
	}
	// Browsers must not run uploaded HTML or SVG on our origin.
	w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; media-src 'self'; style-src 'unsafe-inline'; sandbox")
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

// handleThumb serves a cached JPEG thumbnail for an image below the root.
func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	dir, name := fsutil.SplitEntry(r.URL.Query().Get("path"))
	rel := fsutil.JoinRel(dir, name)
	abs, err := s.entryPath(dir, name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	st, err := os.Stat(abs)
	if err != nil || !st.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	if !isImageExt(strings.ToLower(filepath.Ext(abs))) {
		http.NotFound(w, r)
		return
	}

	dir = thumbDir(s.cfg.StateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("thumb dir", zap.Error(err))
	}
	thumbPath := filepath.Join(dir, thumbKey(rel, st.ModTime().Unix()))
	b, err := os.ReadFile(thumbPath)
	if err != nil {
		b, err = makeThumb(abs, thumbSize)
		if err != nil {
			s.log.Debug("thumbnail failed", zap.String("path", rel), zap.Error(err))
			http.NotFound(w, r)
			return
		}
		if err := writeFileAtomic(thumbPath, b); err != nil {
			s.log.Warn("thumb cache write", zap.String("path", thumbPath), zap.Error(err))
		}
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(b)
}

func writeFileAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".thumb-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
