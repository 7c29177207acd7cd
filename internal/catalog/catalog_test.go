package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"filedeck/internal/fsutil"
)

func newCatalog(t *testing.T, opts Options) (*Catalog, string) {
	t.Helper()
	root := t.TempDir()
	g, err := fsutil.NewGuard(root)
	require.NoError(t, err)
	return New(g, opts, zap.NewNop()), g.Root()
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644))
}

func names(items []ItemInfo) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func TestListSortsAndFilters(t *testing.T) {
	c, root := newCatalog(t, Options{ShowHidden: false, Exclude: []string{"node_modules", "*.bak"}})
	writeFile(t, filepath.Join(root, "beta.txt"), 3)
	writeFile(t, filepath.Join(root, "Alpha.txt"), 1)
	writeFile(t, filepath.Join(root, ".env"), 1)
	writeFile(t, filepath.Join(root, "old.bak"), 1)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "zeta"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Docs"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))

	l := c.List("")
	assert.Equal(t, []string{"Docs", "zeta"}, names(l.Directories))
	assert.Equal(t, []string{"Alpha.txt", "beta.txt"}, names(l.Files))
	assert.Equal(t, int64(3), l.Files[1].Size)
	assert.Equal(t, "txt", l.Files[1].Extension)
	assert.Equal(t, "0644", l.Files[1].Permissions)
	assert.Equal(t, int64(0), l.Directories[0].Size)
}

func TestListShowsHiddenWhenEnabled(t *testing.T) {
	c, root := newCatalog(t, Options{ShowHidden: true})
	writeFile(t, filepath.Join(root, ".env"), 1)
	assert.Equal(t, []string{".env"}, names(c.List("").Files))
}

func TestListInvalidPaths(t *testing.T) {
	c, root := newCatalog(t, Options{ShowHidden: true})
	writeFile(t, filepath.Join(root, "file.txt"), 1)

	assert.Equal(t, 0, c.List("missing").Len())
	assert.Equal(t, 0, c.List("file.txt").Len())
	// traversal collapses to the root itself
	assert.Equal(t, 1, c.List("../..").Len())
}

func TestSearch(t *testing.T) {
	c, root := newCatalog(t, Options{ShowHidden: true, Exclude: []string{".git"}})
	writeFile(t, filepath.Join(root, "report.txt"), 1)
	writeFile(t, filepath.Join(root, "a", "Report-2.txt"), 1)
	writeFile(t, filepath.Join(root, "a", "b", "other.txt"), 1)
	writeFile(t, filepath.Join(root, ".git", "report"), 1)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "reports"), 0o755))

	res := c.Search(context.Background(), "REPORT", "")
	assert.Equal(t, []string{"reports"}, names(res.Directories))
	assert.Equal(t, []string{"Report-2.txt", "report.txt"}, names(res.Files))
	assert.Equal(t, "a", res.Files[0].Path)
	assert.Equal(t, "", res.Files[1].Path)

	sub := c.Search(context.Background(), "report", "a")
	require.Len(t, sub.Files, 1)
	assert.Equal(t, "a", sub.Files[0].Path)

	assert.Equal(t, 0, c.Search(context.Background(), "", "").Len())
}

func TestSearchDepthLimit(t *testing.T) {
	c, root := newCatalog(t, Options{ShowHidden: true})
	// hit-N.txt sits N segments below the root.
	dir := root
	for depth := 1; depth <= 8; depth++ {
		writeFile(t, filepath.Join(dir, "hit-"+string(rune('0'+depth))+".txt"), 1)
		dir = filepath.Join(dir, "d")
	}
	res := c.Search(context.Background(), "hit", "")
	assert.Equal(t, []string{"hit-1.txt", "hit-2.txt", "hit-3.txt", "hit-4.txt", "hit-5.txt", "hit-6.txt"}, names(res.Files))
}

func TestSearchDoesNotFollowSymlinkedDirs(t *testing.T) {
	c, root := newCatalog(t, Options{ShowHidden: true})
	writeFile(t, filepath.Join(root, "real", "needle.txt"), 1)
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link")))

	res := c.Search(context.Background(), "needle", "")
	require.Len(t, res.Files, 1)
	assert.Equal(t, "real", res.Files[0].Path)
}

func TestBreadcrumbs(t *testing.T) {
	assert.Equal(t, []Crumb{{Name: "Home", Path: ""}}, Breadcrumbs(""))
	assert.Equal(t, []Crumb{
		{Name: "Home", Path: ""},
		{Name: "a", Path: "a"},
		{Name: "b", Path: "a/b"},
		{Name: "c", Path: "a/b/c"},
	}, Breadcrumbs("/a//b/../c/"))
}

func TestStatisticsAndFolderTree(t *testing.T) {
	c, root := newCatalog(t, Options{ShowHidden: true})
	writeFile(t, filepath.Join(root, "p", "one.bin"), 10)
	writeFile(t, filepath.Join(root, "p", "two.bin"), 20)
	writeFile(t, filepath.Join(root, "p", "q", "deep.bin"), 1000)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "p", "r"), 0o755))

	st := c.Statistics("p")
	assert.Equal(t, 2, st.TotalFiles)
	assert.Equal(t, 2, st.TotalDirectories)
	assert.Equal(t, int64(30), st.TotalSize)
	assert.Equal(t, "30.00 B", st.TotalSizeHuman)

	assert.Equal(t, []Folder{{Name: "q", Path: "p/q"}, {Name: "r", Path: "p/r"}}, c.FolderTree("p"))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0.00 B", FormatSize(0))
	assert.Equal(t, "1.00 KB", FormatSize(1024))
	assert.Equal(t, "1.50 MB", FormatSize(1536*1024))
	assert.Equal(t, "2048.00 TB", FormatSize(2048<<40))
}

func TestItemJSON(t *testing.T) {
	c, root := newCatalog(t, Options{ShowHidden: true})
	writeFile(t, filepath.Join(root, "photo.JPG"), 5)
	l := c.List("")
	require.Len(t, l.Files, 1)

	b, err := json.Marshal(l.Files[0])
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "photo.JPG", m["name"])
	assert.Equal(t, "file", m["type"])
	assert.Equal(t, "jpg", m["extension"])
	assert.Equal(t, "image", m["icon"])
	assert.Equal(t, "5.00 B", m["size_formatted"])
}
