package httpserver

import (
	"context"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"filedeck/internal/auth"
)

// davPerms lists, per WebDAV method, the role actions of which any one
// grants access.
var davPerms = map[string][]string{
	http.MethodOptions: {auth.ActView, auth.ActDownload},
	"PROPFIND":         {auth.ActView, auth.ActDownload},
	http.MethodGet:     {auth.ActView, auth.ActDownload},
	http.MethodHead:    {auth.ActView, auth.ActDownload},
	http.MethodPut:     {auth.ActUpload},
	"PROPPATCH":        {auth.ActUpload},
	"LOCK":             {auth.ActUpload},
	"UNLOCK":           {auth.ActUpload},
	http.MethodDelete:  {auth.ActDelete},
	"MKCOL":            {auth.ActNewFolder},
	"COPY":             {auth.ActCopy},
	"MOVE":             {auth.ActMove},
}

// davHandler exposes the root over WebDAV under /dav/ with HTTP Basic auth.
func (s *Server) davHandler() http.Handler {
	dav := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: &davFS{s: s},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				s.log.Debug("webdav", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
			}
		},
	}
	gate := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		if !s.davAllowed(id.Role, r.Method) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if r.Method == http.MethodPut {
			name := path.Base(r.URL.Path)
			if !s.ops.ExtensionAllowed(name) {
				http.Error(w, "file type not allowed", http.StatusUnsupportedMediaType)
				return
			}
			if r.ContentLength > s.cfg.Upload.MaxFileSize {
				http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)
		}
		dav.ServeHTTP(w, r)
	})
	if !s.cfg.Auth.RequireLogin {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := s.users.Default(s.cfg.Auth.DefaultUser)
			gate.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
	return auth.BasicAuth(s.users, "filedeck", gate)
}

func (s *Server) davAllowed(role, method string) bool {
	for _, a := range davPerms[method] {
		if s.roles.Can(role, a) {
			return true
		}
	}
	return false
}

// davFS serves the root over WebDAV. Every method checks and then touches
// the same absolute path, and excluded entries stay invisible.
type davFS struct {
	s *Server
}

// resolve maps a WebDAV name to its absolute path below the root, refusing
// hidden and escaping targets. The name is cleaned but not normalized, so
// "ev..il" stays a literal segment.
func (f *davFS) resolve(name string) (abs string, isRoot bool, err error) {
	rel := strings.TrimPrefix(path.Clean("/"+name), "/")
	if f.s.hiddenPath(rel) {
		return "", false, os.ErrNotExist
	}
	root := f.s.guard.Root()
	abs = filepath.Join(root, filepath.FromSlash(rel))
	if !f.s.guard.ContainsPending(abs) {
		return "", false, os.ErrPermission
	}
	return abs, abs == root, nil
}

func (f *davFS) Mkdir(_ context.Context, name string, perm os.FileMode) error {
	abs, _, err := f.resolve(name)
	if err != nil {
		return err
	}
	return os.Mkdir(abs, perm)
}

func (f *davFS) OpenFile(_ context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	abs, _, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(abs, flag, perm)
	if err != nil {
		return nil, err
	}
	return &davFile{File: file, hidden: f.s.catalog.Hidden}, nil
}

func (f *davFS) RemoveAll(_ context.Context, name string) error {
	abs, isRoot, err := f.resolve(name)
	if err != nil {
		return err
	}
	if isRoot {
		return os.ErrPermission
	}
	return os.RemoveAll(abs)
}

func (f *davFS) Rename(_ context.Context, oldName, newName string) error {
	oldAbs, isRoot, err := f.resolve(oldName)
	if err != nil {
		return err
	}
	newAbs, newRoot, err := f.resolve(newName)
	if err != nil {
		return err
	}
	if isRoot || newRoot {
		return os.ErrPermission
	}
	return os.Rename(oldAbs, newAbs)
}

func (f *davFS) Stat(_ context.Context, name string) (os.FileInfo, error) {
	abs, _, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(abs)
}

// davFile filters excluded entries out of directory reads.
type davFile struct {
	webdav.File
	hidden func(string) bool
}

func (d *davFile) Readdir(count int) ([]fs.FileInfo, error) {
	infos, err := d.File.Readdir(count)
	out := infos[:0]
	for _, fi := range infos {
		if !d.hidden(fi.Name()) {
			out = append(out, fi)
		}
	}
	return out, err
}
