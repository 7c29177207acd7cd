package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// ItemInfo describes one directory entry. It is built per request and never
// cached.
type ItemInfo struct {
	Name        string
	Kind        Kind
	Size        int64
	Modified    time.Time
	Owner       string
	Permissions string
	Extension   string
	// Path is the containing directory, set on search hits only.
	Path string
}

func (i ItemInfo) IsDir() bool { return i.Kind == KindDirectory }

// Icon returns a display tag derived from the extension.
func (i ItemInfo) Icon() string {
	if i.IsDir() {
		return "folder"
	}
	return IconForExtension(i.Extension)
}

// SizeFormatted is Size rendered by FormatSize.
func (i ItemInfo) SizeFormatted() string { return FormatSize(i.Size) }

// Fields is the wire form of the item. Callers may delete keys for columns
// they must not expose.
func (i ItemInfo) Fields() map[string]any {
	out := map[string]any{
		"name":           i.Name,
		"type":           i.Kind,
		"size":           i.Size,
		"size_formatted": i.SizeFormatted(),
		"modified":       i.Modified.Unix(),
		"owner":          i.Owner,
		"permissions":    i.Permissions,
		"icon":           i.Icon(),
		"path":           i.Path,
	}
	if !i.IsDir() {
		out["extension"] = i.Extension
	}
	return out
}

func (i ItemInfo) MarshalJSON() ([]byte, error) { return json.Marshal(i.Fields()) }

// Stat builds ItemInfo for the entry at abs. Kind follows symlinks so a link
// to a directory lists as a directory; a dangling link lists as a file.
func Stat(abs, name string) (ItemInfo, error) {
	lst, err := os.Lstat(abs)
	if err != nil {
		return ItemInfo{}, err
	}
	st := lst
	if lst.Mode()&os.ModeSymlink != 0 {
		if target, err := os.Stat(abs); err == nil {
			st = target
		}
	}
	info := ItemInfo{
		Name:        name,
		Kind:        KindFile,
		Modified:    st.ModTime(),
		Owner:       ownerName(st),
		Permissions: Permissions(st.Mode()),
	}
	if st.IsDir() {
		info.Kind = KindDirectory
		return info, nil
	}
	info.Size = st.Size()
	info.Extension = Extension(name)
	return info, nil
}

// Permissions renders the low mode bits as four octal digits, e.g. "0755".
func Permissions(m os.FileMode) string {
	bits := uint32(m.Perm())
	if m&os.ModeSetuid != 0 {
		bits |= 0o4000
	}
	if m&os.ModeSetgid != 0 {
		bits |= 0o2000
	}
	if m&os.ModeSticky != 0 {
		bits |= 0o1000
	}
	return fmt.Sprintf("%04o", bits)
}

// Extension is the lower-cased extension without its dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func IconForExtension(ext string) string {
	switch ext {
	case "jpg", "jpeg", "png", "gif", "bmp", "svg", "webp":
		return "image"
	case "mp4", "avi", "mov", "mkv", "webm":
		return "video"
	case "mp3", "wav", "ogg", "flac":
		return "audio"
	case "pdf":
		return "pdf"
	case "doc", "docx":
		return "word"
	case "xls", "xlsx":
		return "spreadsheet"
	case "ppt", "pptx":
		return "slides"
	case "zip", "rar", "7z", "tar", "gz":
		return "archive"
	case "txt", "md", "log":
		return "text"
	case "php", "js", "py", "java", "c", "cpp", "css", "html", "go":
		return "code"
	default:
		return "file"
	}
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders bytes with two decimals in 1024-based units.
func FormatSize(n int64) string {
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", v, sizeUnits[i])
}
