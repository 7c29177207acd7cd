package fileops

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"filedeck/internal/fsutil"
)

func newEngine(t *testing.T, opts Options) (*Engine, string) {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))
	g, err := fsutil.NewGuard(root)
	require.NoError(t, err)
	return New(g, opts, zap.NewNop()), g.Root()
}

func put(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestCreateDirectory(t *testing.T) {
	e, root := newEngine(t, Options{})

	require.NoError(t, e.CreateDirectory("", "docs"))
	assert.DirExists(t, filepath.Join(root, "docs"))

	assert.ErrorIs(t, e.CreateDirectory("", "docs"), ErrExists)
	assert.ErrorIs(t, e.CreateDirectory("", ".."), fsutil.ErrInvalidName)
	assert.ErrorIs(t, e.CreateDirectory("", "a/b"), fsutil.ErrInvalidName)
	assert.ErrorIs(t, e.CreateDirectory("missing", "x"), ErrDestMissing)

	require.NoError(t, e.CreateDirectory("../../docs", "inner"))
	assert.DirExists(t, filepath.Join(root, "docs", "inner"))
}

func TestDeleteRecursiveDoesNotFollowSymlinks(t *testing.T) {
	e, root := newEngine(t, Options{})
	outside := filepath.Join(filepath.Dir(root), "keep")
	put(t, filepath.Join(outside, "precious.txt"), "keep me")
	put(t, filepath.Join(root, "tree", "a", "b.txt"), "b")
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "tree", "link")))

	require.NoError(t, e.Delete("", "tree"))
	assert.NoDirExists(t, filepath.Join(root, "tree"))
	assert.FileExists(t, filepath.Join(outside, "precious.txt"))

	assert.ErrorIs(t, e.Delete("", "tree"), ErrNotFound)
	assert.ErrorIs(t, e.Delete("", ".."), fsutil.ErrInvalidName)
}

func TestDeleteMultiple(t *testing.T) {
	e, root := newEngine(t, Options{})
	put(t, filepath.Join(root, "d", "one.txt"), "1")
	put(t, filepath.Join(root, "d", "two.txt"), "2")

	res := e.DeleteMultiple([]string{"one.txt", "missing.txt", "two.txt"}, "d")
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.Equal(t, "Deleted 2 of 3 item(s). 1 failed.", res.Message)
	require.Len(t, res.Items, 3)
	assert.Equal(t, ItemResult{Name: "missing.txt", Success: false, Message: "Source does not exist"}, res.Items[1])
	assert.Equal(t, "Deleted", res.Items[0].Message)

	none := e.DeleteMultiple([]string{"x", "y"}, "d")
	assert.False(t, none.Success)
	assert.Equal(t, "Failed to delete all 2 item(s)", none.Message)
}

func TestRename(t *testing.T) {
	e, root := newEngine(t, Options{})
	put(t, filepath.Join(root, "a.txt"), "a")
	put(t, filepath.Join(root, "b.txt"), "b")

	require.NoError(t, e.Rename("", "a.txt", "c.txt"))
	assert.Equal(t, "a", read(t, filepath.Join(root, "c.txt")))

	assert.ErrorIs(t, e.Rename("", "c.txt", "b.txt"), ErrExists)
	assert.ErrorIs(t, e.Rename("", "nope.txt", "d.txt"), ErrNotFound)
	assert.ErrorIs(t, e.Rename("", "c.txt", "../escape.txt"), fsutil.ErrInvalidName)
	assert.Equal(t, "b", read(t, filepath.Join(root, "b.txt")))
}

func TestCopyItem(t *testing.T) {
	e, root := newEngine(t, Options{})
	put(t, filepath.Join(root, "src", "dir", "f.txt"), "data")
	require.NoError(t, os.Symlink("f.txt", filepath.Join(root, "src", "dir", "alias")))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dst"), 0o755))

	require.NoError(t, e.CopyItem("src", "dir", "dst"))
	assert.Equal(t, "data", read(t, filepath.Join(root, "dst", "dir", "f.txt")))
	link, err := os.Readlink(filepath.Join(root, "dst", "dir", "alias"))
	require.NoError(t, err)
	assert.Equal(t, "f.txt", link)
	assert.FileExists(t, filepath.Join(root, "src", "dir", "f.txt"))

	assert.ErrorIs(t, e.CopyItem("src", "dir", "dst"), ErrExists)
	assert.ErrorIs(t, e.CopyItem("src", "dir", "src/dir"), ErrSelfContained)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "dir", "child"), 0o755))
	assert.ErrorIs(t, e.CopyItem("src", "dir", "src/dir/child"), ErrSelfContained)
	assert.ErrorIs(t, e.CopyItem("src", "missing", "dst"), ErrNotFound)
	assert.ErrorIs(t, e.CopyItem("src", "dir", "nowhere"), ErrDestMissing)
	assert.ErrorIs(t, e.CopyItem("src/dir", "f.txt", "src/dir/f.txt"), ErrDestMissing)
}

func TestMoveItem(t *testing.T) {
	e, root := newEngine(t, Options{})
	put(t, filepath.Join(root, "a", "f.txt"), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "b"), 0o755))

	require.NoError(t, e.MoveItem("a", "f.txt", "b"))
	assert.NoFileExists(t, filepath.Join(root, "a", "f.txt"))
	assert.Equal(t, "x", read(t, filepath.Join(root, "b", "f.txt")))

	assert.ErrorIs(t, e.MoveItem("", "a", "a"), ErrSelfContained)
	assert.ErrorIs(t, e.MoveItem("", "", "b"), ErrRootProtected)
}

func TestNamesWithDotsAreTakenLiterally(t *testing.T) {
	e, root := newEngine(t, Options{})
	put(t, filepath.Join(root, "song.mp3"), "real")
	put(t, filepath.Join(root, "song...mp3"), "dots")
	put(t, filepath.Join(root, "wait...txt"), "w")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dst"), 0o755))

	require.NoError(t, e.Delete("", "song...mp3"))
	assert.NoFileExists(t, filepath.Join(root, "song...mp3"))
	assert.Equal(t, "real", read(t, filepath.Join(root, "song.mp3")))

	require.NoError(t, e.ChangePermissions("", "wait...txt", "600"))
	st, err := os.Stat(filepath.Join(root, "wait...txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	b, err := e.ReadFile("", "wait...txt")
	require.NoError(t, err)
	assert.Equal(t, "w", string(b))

	require.NoError(t, e.CopyItem("", "wait...txt", "dst"))
	assert.Equal(t, "w", read(t, filepath.Join(root, "dst", "wait...txt")))

	require.NoError(t, e.Rename("", "wait...txt", "a..b.txt"))
	assert.FileExists(t, filepath.Join(root, "a..b.txt"))

	require.NoError(t, e.MoveItem("", "a..b.txt", "dst"))
	assert.FileExists(t, filepath.Join(root, "dst", "a..b.txt"))
	assert.Equal(t, "real", read(t, filepath.Join(root, "song.mp3")))
}

func TestCopyMultipleMessages(t *testing.T) {
	e, root := newEngine(t, Options{})
	put(t, filepath.Join(root, "s", "one.txt"), "1")
	put(t, filepath.Join(root, "s", "two.txt"), "2")
	put(t, filepath.Join(root, "d", "two.txt"), "old")

	res := e.CopyMultiple([]string{"one.txt", "two.txt", "../x"}, "s", "d")
	assert.True(t, res.Success)
	assert.Equal(t, "Copied 1 of 3 item(s). 2 failed.", res.Message)
	assert.Equal(t, "Copied successfully", res.Items[0].Message)
	assert.Equal(t, "File or folder already exists at destination", res.Items[1].Message)
	assert.Equal(t, "Invalid path", res.Items[2].Message)
	assert.Equal(t, "old", read(t, filepath.Join(root, "d", "two.txt")))

	moved := e.MoveMultiple([]string{"one.txt"}, "s", "d/sub")
	assert.False(t, moved.Success)
	assert.Equal(t, "Failed to move all 1 item(s)", moved.Message)
	assert.Equal(t, "Destination directory does not exist", moved.Items[0].Message)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "e"), 0o755))
	all := e.MoveMultiple([]string{"one.txt", "two.txt"}, "s", "e")
	assert.Equal(t, "Moved 2 item(s) successfully", all.Message)
	assert.Equal(t, "Moved successfully", all.Items[1].Message)
}

func TestChangePermissions(t *testing.T) {
	e, root := newEngine(t, Options{})
	put(t, filepath.Join(root, "f.sh"), "#!/bin/sh")

	require.NoError(t, e.ChangePermissions("", "f.sh", "0755"))
	st, err := os.Stat(filepath.Join(root, "f.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), st.Mode().Perm())

	require.NoError(t, e.ChangePermissions("", "f.sh", "600"))
	for _, bad := range []string{"999", "07777", "rwx", "", "0o644"} {
		assert.ErrorIs(t, e.ChangePermissions("", "f.sh", bad), ErrInvalidMode, bad)
	}
	assert.ErrorIs(t, e.ChangePermissions("", "gone", "644"), ErrNotFound)
}

func TestReadWriteFile(t *testing.T) {
	e, root := newEngine(t, Options{MaxEditSize: 16})
	put(t, filepath.Join(root, "notes.txt"), "hello")
	require.NoError(t, os.Chmod(filepath.Join(root, "notes.txt"), 0o600))

	b, err := e.ReadFile("", "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	require.NoError(t, e.WriteFile("", "notes.txt", []byte("bye")))
	assert.Equal(t, "bye", read(t, filepath.Join(root, "notes.txt")))
	st, err := os.Stat(filepath.Join(root, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	put(t, filepath.Join(root, "big.txt"), strings.Repeat("x", 17))
	_, err = e.ReadFile("", "big.txt")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = e.ReadFile("", "")
	assert.ErrorIs(t, err, fsutil.ErrInvalidName)
}

func uploadOf(name, content string) UploadFile {
	return UploadFile{
		Name: name,
		Size: int64(len(content)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(content)), nil },
	}
}

func TestUpload(t *testing.T) {
	e, root := newEngine(t, Options{MaxUploadSize: 10, AllowedExtensions: []string{"txt", "PNG"}})
	put(t, filepath.Join(root, "up", "report.txt"), "old")

	res := e.Upload("up", []UploadFile{
		uploadOf("report.txt", "new"),
		uploadOf("../../my file.txt", "abc"),
		uploadOf("huge.txt", strings.Repeat("z", 11)),
		uploadOf("run.exe", "MZ"),
		uploadOf("pic.png", "png"),
		uploadOf("empty.txt", ""),
	})
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Uploaded)
	assert.Equal(t, "Uploaded 3 file(s)", res.Message)
	assert.Equal(t, []string{"report_1.txt", "my_file.txt", "pic.png"}, res.Files)
	assert.Equal(t, []string{
		"huge.txt: File too large",
		"run.exe: File type not allowed",
		"empty.txt: File too large",
	}, res.Errors)

	assert.Equal(t, "old", read(t, filepath.Join(root, "up", "report.txt")))
	assert.Equal(t, "new", read(t, filepath.Join(root, "up", "report_1.txt")))
	st, err := os.Stat(filepath.Join(root, "up", "my_file.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), st.Mode().Perm())

	bad := e.Upload("nope", []UploadFile{uploadOf("a.txt", "a")})
	assert.False(t, bad.Success)
	assert.Equal(t, "Invalid upload path", bad.Message)
}

func TestUploadCatchesUnderstatedSize(t *testing.T) {
	e, root := newEngine(t, Options{MaxUploadSize: 4})
	f := uploadOf("a.txt", "123456789")
	f.Size = 1
	res := e.Upload("", []UploadFile{f})
	assert.False(t, res.Success)
	assert.Equal(t, "No files uploaded", res.Message)
	assert.NoFileExists(t, filepath.Join(root, "a.txt"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "passwd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "a_b_c.txt", SanitizeFilename("a b&c.txt"))
	assert.Equal(t, "htaccess", SanitizeFilename(".htaccess"))
	assert.Equal(t, "x.txt", SanitizeFilename("C:\\temp\\x.txt"))
	assert.Equal(t, "", SanitizeFilename("..."))
}

func TestFileDetails(t *testing.T) {
	e, root := newEngine(t, Options{})
	put(t, filepath.Join(root, "readme.md"), "# Title\n\nplain text body\n")

	img := image.NewRGBA(image.Rect(0, 0, 7, 3))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dot.png"), buf.Bytes(), 0o644))

	d, err := e.FileDetails("", "dot.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", d.MimeType)
	assert.True(t, d.IsImage)
	assert.Equal(t, 7, d.Width)
	assert.Equal(t, 3, d.Height)

	d, err = e.FileDetails("", "readme.md")
	require.NoError(t, err)
	assert.True(t, d.IsText)
	assert.False(t, d.IsImage)
	assert.NotEmpty(t, d.Charset)
	assert.Equal(t, "0644", d.Permissions)
}
