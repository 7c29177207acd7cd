package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"filedeck/internal/fsutil"
)

func newService(t *testing.T) (*Service, string) {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))
	g, err := fsutil.NewGuard(root)
	require.NoError(t, err)
	return New(g, nil, zap.NewNop()), g.Root()
}

func put(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// zipOf builds an archive whose entries are written in the given order;
// names ending in "/" become directory entries.
func zipOf(t *testing.T, path string, entries [][2]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e[0], Method: zip.Deflate})
		require.NoError(t, err)
		_, err = w.Write([]byte(e[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func entryNames(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	var out []string
	for _, f := range zr.File {
		out = append(out, f.Name)
	}
	sort.Strings(out)
	return out
}

// snapshot lists every path below root, relative and sorted.
func snapshot(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	require.NoError(t, filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		rel, _ := filepath.Rel(root, p)
		out = append(out, filepath.ToSlash(rel))
		return nil
	}))
	return out
}

func TestCreateArchive(t *testing.T) {
	s, root := newService(t)
	put(t, filepath.Join(root, "work", "a.txt"), "a")
	put(t, filepath.Join(root, "work", "dir", "b.txt"), "b")
	put(t, filepath.Join(root, "work", "dir", "sub", "c.txt"), "c")

	name, err := s.CreateArchive([]string{"a.txt", "dir", "../escape", "missing"}, "work", "bundle")
	require.NoError(t, err)
	assert.Equal(t, "bundle.zip", name)
	assert.Equal(t, []string{"a.txt", "dir/", "dir/b.txt", "dir/sub/", "dir/sub/c.txt"},
		entryNames(t, filepath.Join(root, "work", "bundle.zip")))

	second, err := s.CreateArchive([]string{"a.txt"}, "work", "bundle.zip")
	require.NoError(t, err)
	assert.Equal(t, "bundle_1.zip", second)
	third, err := s.CreateArchive([]string{"a.txt"}, "work", "bundle")
	require.NoError(t, err)
	assert.Equal(t, "bundle_2.zip", third)

	_, err = s.CreateArchive([]string{"../x"}, "work", "empty")
	assert.ErrorIs(t, err, ErrNoItems)
	assert.NoFileExists(t, filepath.Join(root, "work", "empty.zip"))

	_, err = s.CreateArchive([]string{"a.txt"}, "work", "../up")
	assert.ErrorIs(t, err, fsutil.ErrInvalidName)
}

func TestCreateArchiveSkipsEscapingLinks(t *testing.T) {
	s, root := newService(t)
	outside := filepath.Join(filepath.Dir(root), "secret.txt")
	put(t, outside, "secret")
	put(t, filepath.Join(root, "d", "ok.txt"), "ok")
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "d", "leak.txt")))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "top-leak.txt")))

	name, err := s.CreateArchive([]string{"d", "top-leak.txt"}, "", "out")
	require.NoError(t, err)
	assert.Equal(t, []string{"d/", "d/ok.txt"}, entryNames(t, filepath.Join(root, name)))
}

func TestArchivesLeaveOutHiddenEntries(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "root")
	put(t, filepath.Join(root, "proj", "main.go"), "package main")
	put(t, filepath.Join(root, "proj", ".git", "config"), "[core]")
	put(t, filepath.Join(root, "proj", "sub", ".env"), "TOKEN=x")
	put(t, filepath.Join(root, ".secret"), "s")
	g, err := fsutil.NewGuard(root)
	require.NoError(t, err)
	s := New(g, func(name string) bool { return strings.HasPrefix(name, ".") }, zap.NewNop())

	var buf bytes.Buffer
	require.NoError(t, s.Stream(&buf, "", []string{"proj", ".secret"}))
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"proj/", "proj/main.go", "proj/sub/"}, names)

	buf.Reset()
	assert.ErrorIs(t, s.Stream(&buf, "", []string{".secret"}), ErrNoItems)

	name, err := s.CreateArchive([]string{"proj"}, "", "proj")
	require.NoError(t, err)
	assert.Equal(t, []string{"proj/", "proj/main.go", "proj/sub/"}, entryNames(t, filepath.Join(g.Root(), name)))
}

func TestStream(t *testing.T) {
	s, root := newService(t)
	put(t, filepath.Join(root, "x.txt"), "hello")

	var buf bytes.Buffer
	require.NoError(t, s.Stream(&buf, "", []string{"x.txt"}))
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "x.txt", zr.File[0].Name)

	buf.Reset()
	assert.ErrorIs(t, s.Stream(&buf, "", []string{"nope", ".."}), ErrNoItems)
	assert.Zero(t, buf.Len())
}

func TestExtractArchive(t *testing.T) {
	s, root := newService(t)
	zipOf(t, filepath.Join(root, "in", "pkg.zip"), [][2]string{
		{"docs/", ""},
		{"docs/readme.txt", "hi"},
		{"top.txt", "top"},
	})

	dest, err := s.ExtractArchive("in", "pkg.zip", "")
	require.NoError(t, err)
	assert.Equal(t, "in", dest)
	b, err := os.ReadFile(filepath.Join(root, "in", "docs", "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b))
	st, err := os.Stat(filepath.Join(root, "in", "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), st.Mode().Perm())

	dest, err = s.ExtractArchive("in", "pkg.zip", "../../unpacked")
	require.NoError(t, err)
	assert.Equal(t, "in/unpacked", dest)
	assert.FileExists(t, filepath.Join(root, "in", "unpacked", "docs", "readme.txt"))

	// existing files are overwritten
	put(t, filepath.Join(root, "in", "top.txt"), "changed")
	_, err = s.ExtractArchive("in", "pkg.zip", "")
	require.NoError(t, err)
	b, err = os.ReadFile(filepath.Join(root, "in", "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, "top", string(b))
}

func TestExtractRejectsTraversal(t *testing.T) {
	for _, evil := range []string{"../../etc/passwd", "ok/../../x", "a\x00b"} {
		t.Run(evil, func(t *testing.T) {
			s, root := newService(t)
			zipOf(t, filepath.Join(root, "evil.zip"), [][2]string{
				{"first.txt", "written first?"},
				{evil, "pwned"},
			})
			before := snapshot(t, filepath.Dir(root))

			_, err := s.ExtractArchive("", "evil.zip", "out")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnsafeEntry)
			var ee *EntryError
			require.ErrorAs(t, err, &ee)
			assert.Contains(t, ee.Error(), "Malicious entry detected")

			assert.Equal(t, before, snapshot(t, filepath.Dir(root)))
		})
	}
}

func TestExtractRejectsSymlinkEscape(t *testing.T) {
	s, root := newService(t)
	outside := filepath.Join(filepath.Dir(root), "outside")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))
	zipOf(t, filepath.Join(root, "a.zip"), [][2]string{{"link/planted.txt", "x"}})

	_, err := s.ExtractArchive("", "a.zip", "")
	assert.ErrorIs(t, err, ErrUnsafeEntry)
	assert.NoFileExists(t, filepath.Join(outside, "planted.txt"))
}

func TestExtractCollisions(t *testing.T) {
	s, root := newService(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "foo"), 0o755))
	put(t, filepath.Join(root, "bar"), "file")
	zipOf(t, filepath.Join(root, "file-over-dir.zip"), [][2]string{{"ok.txt", "1"}, {"foo", "2"}})
	zipOf(t, filepath.Join(root, "dir-over-file.zip"), [][2]string{{"bar/", ""}})
	zipOf(t, filepath.Join(root, "under-file.zip"), [][2]string{{"bar/inner.txt", "x"}})
	zipOf(t, filepath.Join(root, "self.zip"), [][2]string{{"n", "file"}, {"n/child.txt", "x"}})

	for _, name := range []string{"file-over-dir.zip", "dir-over-file.zip", "under-file.zip", "self.zip"} {
		t.Run(name, func(t *testing.T) {
			_, err := s.ExtractArchive("", name, "")
			assert.ErrorIs(t, err, ErrCollision)
		})
	}
	assert.NoFileExists(t, filepath.Join(root, "ok.txt"))
	assert.NoFileExists(t, filepath.Join(root, "n"))
}

func TestExtractArchiveErrors(t *testing.T) {
	s, root := newService(t)
	put(t, filepath.Join(root, "not.zip"), "plain text")
	put(t, filepath.Join(root, "file"), "x")
	zipOf(t, filepath.Join(root, "ok.zip"), [][2]string{{"a.txt", "a"}})

	_, err := s.ExtractArchive("", "missing.zip", "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ExtractArchive("", "not.zip", "")
	assert.ErrorIs(t, err, ErrInvalidFormat)
	_, err = s.ExtractArchive("", "../ok.zip", "")
	assert.ErrorIs(t, err, fsutil.ErrInvalidName)
	_, err = s.ExtractArchive("", "ok.zip", "file")
	assert.ErrorIs(t, err, ErrTargetNotDir)
}
