package fileops

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"filedeck/internal/fsutil"
)

// UploadFile is one incoming file. Open is called at most once.
type UploadFile struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

type UploadResult struct {
	Success  bool     `json:"success"`
	Uploaded int      `json:"uploaded"`
	Files    []string `json:"files"`
	Errors   []string `json:"errors"`
	Message  string   `json:"message"`
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFilename strips directories, replaces unusual characters with
// underscores and drops leading dots.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")
	return strings.TrimLeft(name, ".")
}

// ExtensionAllowed reports whether name passes the configured extension list.
func (e *Engine) ExtensionAllowed(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, allowed := range e.opts.AllowedExtensions {
		if allowed == "*" || strings.ToLower(strings.TrimPrefix(allowed, ".")) == ext {
			return true
		}
	}
	return false
}

// CheckUpload validates a file name and size before any bytes are stored.
func (e *Engine) CheckUpload(name string, size int64) error {
	if size <= 0 {
		return ErrEmptyUpload
	}
	if size > e.opts.MaxUploadSize {
		return ErrTooLarge
	}
	if !e.ExtensionAllowed(name) {
		return ErrTypeNotAllowed
	}
	if SanitizeFilename(name) == "" {
		return fsutil.ErrInvalidName
	}
	return nil
}

// uniqueTarget picks dir/name, or dir/base_N.ext when that is taken.
func uniqueTarget(dir, name string) string {
	target := filepath.Join(dir, name)
	if !exists(target) {
		return target
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		target = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if !exists(target) {
			return target
		}
	}
}

// Upload stores each file in directory rel under a sanitized, unique name.
func (e *Engine) Upload(rel string, files []UploadFile) UploadResult {
	res := UploadResult{Files: []string{}, Errors: []string{}}
	dir, err := e.guard.ResolveDir(rel)
	if err != nil {
		res.Message = "Invalid upload path"
		return res
	}
	for _, f := range files {
		name, err := e.storeUpload(dir, f)
		if err != nil {
			e.log.Warn("upload rejected", zap.String("name", f.Name), zap.Error(err))
			res.Errors = append(res.Errors, f.Name+": "+uploadMessage(err))
			continue
		}
		res.Uploaded++
		res.Files = append(res.Files, name)
	}
	res.Success = res.Uploaded > 0
	if res.Success {
		res.Message = fmt.Sprintf("Uploaded %d file(s)", res.Uploaded)
	} else {
		res.Message = "No files uploaded"
	}
	return res
}

func uploadMessage(err error) string {
	switch {
	case errors.Is(err, ErrTooLarge), errors.Is(err, ErrEmptyUpload):
		return "File too large"
	case errors.Is(err, ErrTypeNotAllowed):
		return "File type not allowed"
	case errors.Is(err, fsutil.ErrInvalidName):
		return "Invalid file name"
	default:
		return "Failed to save file"
	}
}

func (e *Engine) storeUpload(dir string, f UploadFile) (string, error) {
	if err := e.CheckUpload(f.Name, f.Size); err != nil {
		return "", err
	}
	src, err := f.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	// Read one byte past the limit so an understated Size is still caught.
	n, err := io.Copy(tmp, io.LimitReader(src, e.opts.MaxUploadSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if n > e.opts.MaxUploadSize {
		return "", ErrTooLarge
	}
	if n == 0 {
		return "", ErrEmptyUpload
	}
	return e.place(dir, f.Name, tmpName)
}

// PlaceUpload validates an already-received file at tmpPath and moves it into
// directory rel. It returns the stored name.
func (e *Engine) PlaceUpload(rel, name, tmpPath string) (string, error) {
	dir, err := e.guard.ResolveDir(rel)
	if err != nil {
		return "", pathErr(err)
	}
	st, err := os.Stat(tmpPath)
	if err != nil {
		return "", err
	}
	if err := e.CheckUpload(name, st.Size()); err != nil {
		return "", err
	}
	return e.place(dir, name, tmpPath)
}

func (e *Engine) place(dir, name, tmpPath string) (string, error) {
	target := uniqueTarget(dir, SanitizeFilename(name))
	if !e.guard.ContainsPending(target) {
		return "", fsutil.ErrOutsideRoot
	}
	if err := os.Rename(tmpPath, target); err != nil {
		if err := moveAcrossDevices(tmpPath, target); err != nil {
			return "", err
		}
	}
	if err := os.Chmod(target, 0o644); err != nil {
		return "", err
	}
	stored := filepath.Base(target)
	e.log.Info("file uploaded", zap.String("dir", dir), zap.String("name", stored))
	return stored, nil
}

func moveAcrossDevices(src, dst string) error {
	if err := copyFile(src, dst, 0o644); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
