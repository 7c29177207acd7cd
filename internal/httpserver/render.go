package httpserver

import (
	"bytes"
	"encoding/json"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"filedeck/internal/auth"
	"filedeck/internal/catalog"
	"filedeck/internal/config"
	"filedeck/internal/fsutil"
	"filedeck/internal/session"
)

const msgForbidden = "You do not have permission to perform this action."

// result is the JSON envelope of AJAX actions.
type result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// wantsJSON reports whether the caller is script-driven rather than a form.
func wantsJSON(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

// --- flash + redirect ---

func (s *Server) flash(r *http.Request, kind session.FlashKind, text string) {
	s.sessions.AddFlash(current(r).sess.ID, session.Flash{Kind: kind, Text: text})
}

func listingURL(rel string) string {
	if rel == "" {
		return "/"
	}
	return "/?p=" + url.QueryEscape(rel)
}

func (s *Server) redirectTo(w http.ResponseWriter, r *http.Request, rel string) {
	http.Redirect(w, r, listingURL(rel), http.StatusSeeOther)
}

// fail reports an error the way the caller expects: JSON for scripts, a
// flash plus redirect for forms.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, rel, msg string) {
	if wantsJSON(r) {
		writeJSONStatus(w, status, result{Message: msg})
		return
	}
	s.flash(r, session.FlashError, msg)
	s.redirectTo(w, r, rel)
}

// --- templates ---

// page is the data every template receives.
type page struct {
	Title    string
	AppTitle string
	User     string
	Role     string
	CSRF     string
	Flashes  []session.Flash
	Path     string
	Crumbs   []catalog.Crumb
	Can      map[string]bool
	Columns  config.Columns
	Data     any
}

// rowArgs feeds the per-entry action buttons.
type rowArgs struct {
	Path string
	CSRF string
	Can  map[string]bool
	Item catalog.ItemInfo
}

// parsePages pairs every page with the layout. Times render with dateLayout.
func parsePages(dateLayout string) (map[string]*template.Template, error) {
	if dateLayout == "" {
		dateLayout = time.DateTime
	}
	funcs := template.FuncMap{
		"join": fsutil.JoinRel,
		"size": catalog.FormatSize,
		"hasSuffix": func(s, suffix string) bool {
			return strings.HasSuffix(strings.ToLower(s), suffix)
		},
		"title": func(s string) string {
			if s == "" {
				return s
			}
			return strings.ToUpper(s[:1]) + s[1:]
		},
		"when": func(t time.Time) string { return t.Format(dateLayout) },
		"ops":  func() []string { return []string{auth.ActCopy, auth.ActMove} },
		"rowArgs": func(path, csrf string, can map[string]bool, it catalog.ItemInfo) rowArgs {
			return rowArgs{Path: path, CSRF: csrf, Can: can, Item: it}
		},
	}
	names, err := fs.Glob(embeddedWeb, "web/templates/*.html")
	if err != nil {
		return nil, err
	}
	pages := map[string]*template.Template{}
	for _, name := range names {
		base := strings.TrimSuffix(name[strings.LastIndexByte(name, '/')+1:], ".html")
		if base == "layout" {
			continue
		}
		t, err := template.New(base).Funcs(funcs).ParseFS(embeddedWeb, "web/templates/layout.html", name)
		if err != nil {
			return nil, err
		}
		pages[base] = t
	}
	return pages, nil
}

func (s *Server) newPage(r *http.Request, title string) page {
	st := current(r)
	can := make(map[string]bool, len(auth.AllActions))
	for _, a := range auth.AllActions {
		can[a] = s.roles.Can(st.sess.Role, a)
	}
	return page{
		Title:    title,
		AppTitle: s.cfg.Title,
		User:     st.sess.Username,
		Role:     st.sess.Role,
		CSRF:     st.sess.CSRFToken,
		Flashes:  s.sessions.TakeFlashes(st.sess.ID),
		Can:      can,
		Columns:  s.cfg.FM.Columns,
	}
}

func (s *Server) render(w http.ResponseWriter, status int, name string, p page) {
	t, ok := s.pages[name]
	if !ok {
		http.Error(w, "missing template", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	err := t.ExecuteTemplate(&buf, "layout", p)
	if err != nil {
		s.log.Error("render failed", zap.String("page", name), zap.Error(err))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
