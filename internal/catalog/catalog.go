// Package catalog reads directory contents under the root: listings, search,
// breadcrumbs and per-directory statistics.
package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"filedeck/internal/fsutil"
)

// MaxSearchDepth is the deepest directory level, counted from the search
// start, whose entries are still scanned.
const MaxSearchDepth = 5

type Options struct {
	ShowHidden bool
	// Exclude holds entry names or doublestar patterns matched against a
	// single name.
	Exclude []string
}

type Catalog struct {
	guard *fsutil.Guard
	opts  Options
	log   *zap.Logger
}

func New(guard *fsutil.Guard, opts Options, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{guard: guard, opts: opts, log: log}
}

type Listing struct {
	Directories []ItemInfo `json:"directories"`
	Files       []ItemInfo `json:"files"`
}

func (l Listing) Len() int { return len(l.Directories) + len(l.Files) }

type Crumb struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type Stats struct {
	TotalFiles       int    `json:"totalFiles"`
	TotalDirectories int    `json:"totalDirectories"`
	TotalSize        int64  `json:"totalSize"`
	TotalSizeHuman   string `json:"totalSizeFormatted"`
}

type Folder struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Hidden reports whether name is filtered out of listings.
func (c *Catalog) Hidden(name string) bool {
	if name == "." || name == ".." {
		return true
	}
	if !c.opts.ShowHidden && strings.HasPrefix(name, ".") {
		return true
	}
	for _, pat := range c.opts.Exclude {
		if pat == name {
			return true
		}
		if ok, err := doublestar.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}

// List returns the visible children of rel. A missing, non-directory or
// out-of-root path yields an empty listing.
func (c *Catalog) List(rel string) Listing {
	out := Listing{Directories: []ItemInfo{}, Files: []ItemInfo{}}
	abs, err := c.guard.ResolveDir(rel)
	if err != nil {
		return out
	}
	ents, err := os.ReadDir(abs)
	if err != nil {
		c.log.Warn("read dir failed", zap.String("path", abs), zap.Error(err))
		return out
	}
	for _, e := range ents {
		name := e.Name()
		if c.Hidden(name) {
			continue
		}
		info, err := Stat(filepath.Join(abs, name), name)
		if err != nil {
			continue
		}
		if info.IsDir() {
			out.Directories = append(out.Directories, info)
		} else {
			out.Files = append(out.Files, info)
		}
	}
	sortByName(out.Directories)
	sortByName(out.Files)
	return out
}

func sortByName(items []ItemInfo) {
	sort.SliceStable(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
}

// Search matches query case-insensitively against entry names below rel.
// Symlinked directories are reported but never descended.
func (c *Catalog) Search(ctx context.Context, query, rel string) Listing {
	out := Listing{Directories: []ItemInfo{}, Files: []ItemInfo{}}
	if query == "" {
		return out
	}
	start := fsutil.Normalize(rel)
	abs, err := c.guard.ResolveDir(start)
	if err != nil {
		return out
	}
	q := strings.ToLower(query)

	var mu sync.Mutex
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, abs, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		sub, err := filepath.Rel(abs, p)
		if err != nil || sub == "." {
			return nil
		}
		name := d.Name()
		if c.Hidden(name) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		sub = filepath.ToSlash(sub)
		if strings.Contains(strings.ToLower(name), q) {
			if info, err := Stat(p, name); err == nil {
				info.Path = start
				if dir := parentOf(sub); dir != "" {
					info.Path = fsutil.JoinRel(start, dir)
				}
				mu.Lock()
				if info.IsDir() {
					out.Directories = append(out.Directories, info)
				} else {
					out.Files = append(out.Files, info)
				}
				mu.Unlock()
			}
		}
		// A directory n segments deep sits at depth n; its children are only
		// scanned while n stays within MaxSearchDepth.
		if d.IsDir() && strings.Count(sub, "/")+1 > MaxSearchDepth {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		c.log.Warn("search walk failed", zap.String("path", abs), zap.Error(err))
	}
	sortByName(out.Directories)
	sortByName(out.Files)
	return out
}

func parentOf(sub string) string {
	if i := strings.LastIndexByte(sub, '/'); i >= 0 {
		return sub[:i]
	}
	return ""
}

// Breadcrumbs returns Home followed by one crumb per segment of rel.
func Breadcrumbs(rel string) []Crumb {
	crumbs := []Crumb{{Name: "Home", Path: ""}}
	rel = fsutil.Normalize(rel)
	if rel == "" {
		return crumbs
	}
	cur := ""
	for _, part := range strings.Split(rel, "/") {
		cur = fsutil.JoinRel(cur, part)
		crumbs = append(crumbs, Crumb{Name: part, Path: cur})
	}
	return crumbs
}

// Statistics summarizes the direct children of rel.
func (c *Catalog) Statistics(rel string) Stats {
	l := c.List(rel)
	var total int64
	for _, f := range l.Files {
		total += f.Size
	}
	return Stats{
		TotalFiles:       len(l.Files),
		TotalDirectories: len(l.Directories),
		TotalSize:        total,
		TotalSizeHuman:   FormatSize(total),
	}
}

// FolderTree lists the immediate child directories of rel.
func (c *Catalog) FolderTree(rel string) []Folder {
	rel = fsutil.Normalize(rel)
	l := c.List(rel)
	out := make([]Folder, 0, len(l.Directories))
	for _, d := range l.Directories {
		out = append(out, Folder{Name: d.Name, Path: fsutil.JoinRel(rel, d.Name)})
	}
	return out
}
