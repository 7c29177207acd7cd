package fileops

import (
	"image"
	"io"
	"os"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"filedeck/internal/catalog"
)

// charsetSample is how much of a text file is handed to charset detection.
const charsetSample = 64 << 10

// Details describes a single file for the preview page.
type Details struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mime_type"`
	Modified    time.Time `json:"modified"`
	Permissions string    `json:"permissions"`
	IsImage     bool      `json:"is_image"`
	IsText      bool      `json:"is_text"`
	IsPDF       bool      `json:"is_pdf"`
	Charset     string    `json:"charset,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
}

var textMimePrefixes = []string{
	"text/",
	"application/json",
	"application/xml",
	"application/javascript",
	"application/x-php",
	"application/x-sh",
}

func isTextMime(m string) bool {
	for _, p := range textMimePrefixes {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}

// FileDetails sniffs the content type of rel/name and, for images and text,
// adds dimensions or charset.
func (e *Engine) FileDetails(rel, name string) (*Details, error) {
	abs, err := e.entry(rel, name)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, ErrNotAFile
	}
	mt, err := mimetype.DetectFile(abs)
	if err != nil {
		return nil, err
	}
	d := &Details{
		Name:        name,
		Path:        rel,
		Size:        st.Size(),
		MimeType:    mt.String(),
		Modified:    st.ModTime(),
		Permissions: catalog.Permissions(st.Mode()),
		IsImage:     strings.HasPrefix(mt.String(), "image/"),
		IsPDF:       mt.Is("application/pdf"),
	}
	d.IsText = isTextMime(mt.String())

	switch {
	case d.IsImage:
		if w, h, ok := imageSize(abs); ok {
			d.Width, d.Height = w, h
		}
	case d.IsText:
		d.Charset = detectCharset(abs)
	}
	return d, nil
}

func imageSize(abs string) (int, int, bool) {
	f, err := os.Open(abs)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

func detectCharset(abs string) string {
	f, err := os.Open(abs)
	if err != nil {
		return ""
	}
	defer f.Close()
	buf, err := io.ReadAll(io.LimitReader(f, charsetSample))
	if err != nil || len(buf) == 0 {
		return ""
	}
	res, err := chardet.NewTextDetector().DetectBest(buf)
	if err != nil || res == nil {
		return "utf-8"
	}
	return strings.ToLower(res.Charset)
}
