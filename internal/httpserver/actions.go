package httpserver

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"filedeck/internal/archive"
	"filedeck/internal/auth"
	"filedeck/internal/catalog"
	"filedeck/internal/fileops"
	"filedeck/internal/fsutil"
	"filedeck/internal/session"
)

// actionHandler serves one action and reports whether it succeeded.
type actionHandler func(s *Server, w http.ResponseWriter, r *http.Request) bool

type actionRoute struct {
	perm    string // empty: any signed-in user
	mutates bool   // POST with a valid CSRF token
	handle  actionHandler
}

var actionRoutes = map[string]actionRoute{
	"index":              {handle: (*Server).actIndex},
	"upload":             {perm: auth.ActUpload, mutates: true, handle: (*Server).actUpload},
	"download":           {perm: auth.ActDownload, handle: (*Server).actDownload},
	"download-multiple":  {perm: auth.ActDownload, mutates: true, handle: (*Server).actDownloadMultiple},
	"delete":             {perm: auth.ActDelete, mutates: true, handle: (*Server).actDelete},
	"delete-multiple":    {perm: auth.ActDelete, mutates: true, handle: (*Server).actDeleteMultiple},
	"rename":             {perm: auth.ActRename, mutates: true, handle: (*Server).actRename},
	"new":                {perm: auth.ActNewFolder, mutates: true, handle: (*Server).actNewFolder},
	"copy":               {perm: auth.ActCopy, mutates: true, handle: stageAction(session.OpCopy)},
	"move":               {perm: auth.ActMove, mutates: true, handle: stageAction(session.OpMove)},
	"paste":              {perm: auth.ActMove, mutates: true, handle: (*Server).actPaste},
	"select-destination": {perm: auth.ActMove, handle: (*Server).actSelectDestination},
	"execute-copy-move":  {perm: auth.ActMove, mutates: true, handle: (*Server).actExecuteTransfer},
	"cancel-transfer":    {mutates: true, handle: (*Server).actCancelTransfer},
	"folder-tree":        {handle: (*Server).actFolderTree},
	"search":             {handle: (*Server).actSearch},
	"chmod":              {perm: auth.ActPermissions, mutates: true, handle: (*Server).actChmod},
	"view":               {perm: auth.ActView, handle: (*Server).actView},
	"view-pdf":           {perm: auth.ActViewPDF, handle: (*Server).actViewPDF},
	"save":               {perm: auth.ActRename, mutates: true, handle: (*Server).actSave},
	"zip":                {perm: auth.ActZip, mutates: true, handle: (*Server).actZip},
	"extract":            {perm: auth.ActExtract, mutates: true, handle: (*Server).actExtract},
}

// jsonActions answer in JSON even for plain form posts.
var jsonActions = map[string]bool{
	"delete-multiple":   true,
	"download-multiple": true,
	"paste":             true,
	"folder-tree":       true,
	"search":            true,
	"chmod":             true,
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	name := r.URL.Query().Get("action")
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, s.bodyLimit(name))
		if err := parseBody(r); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				s.fail(w, r, http.StatusRequestEntityTooLarge, relParam(r), "Request too large")
				return
			}
		}
		if name == "" {
			name = r.PostFormValue("action")
		}
	}
	if name == "" {
		name = "index"
	}
	if name == "logout" {
		s.handleLogout(w, r)
		return
	}
	rel := relParam(r)

	route, ok := actionRoutes[name]
	if !ok {
		s.fail(w, r, http.StatusBadRequest, rel, "Unknown action")
		return
	}
	if jsonActions[name] {
		r.Header.Set("Accept", "application/json")
	}
	if route.perm != "" && !s.can(r, route.perm) {
		s.log.Info("action denied",
			zap.String("action", name),
			zap.String("user", current(r).sess.Username),
			zap.String("role", current(r).sess.Role))
		s.metrics.Action(name, false)
		s.fail(w, r, http.StatusForbidden, rel, msgForbidden)
		return
	}
	if route.mutates {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			s.fail(w, r, http.StatusMethodNotAllowed, rel, "POST required")
			return
		}
		if !s.csrfOK(r) {
			s.fail(w, r, http.StatusForbidden, rel, "Invalid security token")
			return
		}
	}
	ok = route.handle(s, w, r)
	if name != "index" {
		s.metrics.Action(name, ok)
	}
}

// bodyLimit caps POST bodies; uploads may carry several files.
func (s *Server) bodyLimit(action string) int64 {
	const slack = 1 << 20
	if action == "upload" {
		return s.cfg.Upload.MaxFileSize*maxFilesPerUpload + slack
	}
	return s.cfg.FM.MaxEditSize + slack
}

// parseBody reads form bodies up front. JSON bodies are left for the action.
func parseBody(r *http.Request) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "multipart/form-data":
		return r.ParseMultipartForm(32 << 20)
	case "application/x-www-form-urlencoded":
		return r.ParseForm()
	}
	return nil
}

func relParam(r *http.Request) string { return fsutil.Normalize(r.FormValue("p")) }

// formList reads a repeated field sent as name or name[].
func formList(r *http.Request, name string) []string {
	_ = r.FormValue(name)
	out := append([]string{}, r.Form[name]...)
	return append(out, r.Form[name+"[]"]...)
}

// --- listing ---

type indexData struct {
	Listing catalog.Listing
	Stats   catalog.Stats
	Pending *session.PendingTransfer
	Parent  string
}

func (s *Server) actIndex(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	if rel != "" {
		if _, err := s.guard.ResolveDir(rel); err != nil || s.hiddenPath(rel) {
			s.fail(w, r, http.StatusNotFound, "", "Folder not found")
			return false
		}
	}
	listing := s.catalog.List(rel)
	stats := s.catalog.Statistics(rel)
	if wantsJSON(r) {
		writeJSON(w, map[string]any{
			"success":     true,
			"path":        rel,
			"breadcrumbs": catalog.Breadcrumbs(rel),
			"directories": s.visibleFields(listing.Directories),
			"files":       s.visibleFields(listing.Files),
			"stats":       stats,
		})
		return true
	}
	p := s.newPage(r, s.cfg.Title)
	p.Path = rel
	p.Crumbs = catalog.Breadcrumbs(rel)
	data := indexData{Listing: listing, Stats: stats, Parent: parentRel(rel)}
	if pt, ok := s.sessions.Pending(current(r).sess.ID); ok {
		data.Pending = &pt
	}
	p.Data = data
	s.render(w, http.StatusOK, "index", p)
	return true
}

// visibleFields drops the fields of hidden columns. Permissions always stay
// since the chmod dialog needs them.
func (s *Server) visibleFields(items []catalog.ItemInfo) []map[string]any {
	cols := s.cfg.FM.Columns
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		f := it.Fields()
		if !cols.Size {
			delete(f, "size")
			delete(f, "size_formatted")
		}
		if !cols.Owner {
			delete(f, "owner")
		}
		if !cols.Modified {
			delete(f, "modified")
		}
		out = append(out, f)
	}
	return out
}

func (s *Server) actSearch(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	if s.hiddenPath(rel) {
		writeJSON(w, map[string]any{"directories": []any{}, "files": []any{}})
		return false
	}
	res := s.catalog.Search(r.Context(), r.FormValue("q"), rel)
	writeJSON(w, map[string]any{
		"directories": s.visibleFields(res.Directories),
		"files":       s.visibleFields(res.Files),
	})
	return true
}

func (s *Server) actFolderTree(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	if s.hiddenPath(rel) {
		writeJSON(w, map[string]any{"success": false, "message": "Folder not found", "folders": []any{}})
		return false
	}
	writeJSON(w, map[string]any{"success": true, "folders": s.catalog.FolderTree(rel)})
	return true
}

// --- uploads ---

func (s *Server) actUpload(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	if r.MultipartForm == nil {
		s.fail(w, r, http.StatusBadRequest, rel, "No files uploaded")
		return false
	}
	defer r.MultipartForm.RemoveAll()

	var files []fileops.UploadFile
	for _, field := range []string{"upload", "upload[]", "files[]", "file"} {
		for _, fh := range r.MultipartForm.File[field] {
			files = append(files, fileops.UploadFile{
				Name: fh.Filename,
				Size: fh.Size,
				Open: func() (io.ReadCloser, error) { return fh.Open() },
			})
		}
	}
	if len(files) == 0 {
		s.fail(w, r, http.StatusBadRequest, rel, "No files uploaded")
		return false
	}
	if len(files) > maxFilesPerUpload {
		s.fail(w, r, http.StatusBadRequest, rel, fmt.Sprintf("At most %d files per upload", maxFilesPerUpload))
		return false
	}

	res := s.ops.Upload(rel, files)
	if res.Uploaded > 0 {
		s.metrics.UploadedBytes.Add(float64(s.storedBytes(rel, res.Files)))
	}
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" || wantsJSON(r) {
		writeJSON(w, res)
		return res.Success
	}
	if res.Success {
		s.flash(r, session.FlashSuccess, res.Message)
	} else {
		s.flash(r, session.FlashError, res.Message)
	}
	for _, e := range res.Errors {
		s.flash(r, session.FlashWarning, e)
	}
	s.redirectTo(w, r, rel)
	return res.Success
}

func (s *Server) storedBytes(rel string, names []string) int64 {
	var n int64
	for _, name := range names {
		abs, err := s.guard.ResolveEntry(rel, name)
		if err != nil {
			continue
		}
		if st, err := os.Stat(abs); err == nil {
			n += st.Size()
		}
	}
	return n
}

// --- downloads ---

// entryPath resolves rel/name to an absolute path, refusing excluded entries.
func (s *Server) entryPath(rel, name string) (string, error) {
	if !fsutil.IsValidEntryName(name) {
		return "", fsutil.ErrInvalidName
	}
	if s.hiddenPath(fsutil.JoinRel(rel, name)) {
		return "", fs.ErrNotExist
	}
	return s.guard.ResolveEntry(rel, name)
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

func (s *Server) actDownload(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	name := r.FormValue("file")
	abs, err := s.entryPath(rel, name)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return false
	}
	return s.sendEntry(w, r, rel, name, abs)
}

// sendEntry streams a regular file as an attachment, or a directory as zip.
func (s *Server) sendEntry(w http.ResponseWriter, r *http.Request, rel, name, abs string) bool {
	st, err := os.Stat(abs)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return false
	}
	if st.IsDir() {
		return s.sendZip(w, r, rel, []string{name}, name+".zip")
	}
	if !st.Mode().IsRegular() {
		http.Error(w, "File not found", http.StatusNotFound)
		return false
	}
	f, err := os.Open(abs)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return false
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", attachment(name))
	http.ServeContent(w, r, name, st.ModTime(), f)
	return true
}

func (s *Server) sendZip(w http.ResponseWriter, r *http.Request, rel string, items []string, zipName string) bool {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(zipName))
	err := s.archives.Stream(w, rel, items)
	switch {
	case errors.Is(err, archive.ErrNoItems), errors.Is(err, fs.ErrNotExist), errors.Is(err, fsutil.ErrOutsideRoot):
		// nothing has been written yet
		w.Header().Del("Content-Disposition")
		writeJSONStatus(w, http.StatusNotFound, result{Message: "File not found"})
		return false
	case err != nil:
		s.log.Warn("zip stream failed", zap.String("path", rel), zap.Error(err))
		return false
	}
	return true
}

type multiRequest struct {
	Items []string `json:"items"`
	Path  string   `json:"path"`
}

func (s *Server) actDownloadMultiple(w http.ResponseWriter, r *http.Request) bool {
	var req multiRequest
	if err := decodeJSON(r, &req); err != nil || req.Items == nil {
		writeJSONStatus(w, http.StatusBadRequest, result{Message: "Invalid request"})
		return false
	}
	if len(req.Items) == 0 {
		writeJSONStatus(w, http.StatusBadRequest, result{Message: "No items specified"})
		return false
	}
	rel := fsutil.Normalize(req.Path)
	if len(req.Items) == 1 {
		abs, err := s.entryPath(rel, req.Items[0])
		if err != nil {
			writeJSONStatus(w, http.StatusNotFound, result{Message: "File not found"})
			return false
		}
		return s.sendEntry(w, r, rel, req.Items[0], abs)
	}
	items := req.Items[:0:0]
	for _, it := range req.Items {
		if !s.hiddenPath(fsutil.JoinRel(rel, it)) {
			items = append(items, it)
		}
	}
	return s.sendZip(w, r, rel, items, time.Now().Format("files_2006-01-02_150405.zip"))
}

// --- single edits ---

func (s *Server) actDelete(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	name := r.FormValue("file")
	if err := s.ops.Delete(rel, name); err != nil {
		s.log.Info("delete failed", zap.String("path", rel), zap.String("name", name), zap.Error(err))
		s.flash(r, session.FlashError, "Failed to delete: "+name)
		s.redirectTo(w, r, rel)
		return false
	}
	s.flash(r, session.FlashSuccess, "Deleted: "+name)
	s.redirectTo(w, r, rel)
	return true
}

func (s *Server) actDeleteMultiple(w http.ResponseWriter, r *http.Request) bool {
	var req multiRequest
	if err := decodeJSON(r, &req); err != nil || req.Items == nil {
		writeJSONStatus(w, http.StatusBadRequest, result{Message: "Invalid request"})
		return false
	}
	if len(req.Items) == 0 {
		writeJSONStatus(w, http.StatusBadRequest, result{Message: "No items specified"})
		return false
	}
	res := s.ops.DeleteMultiple(req.Items, fsutil.Normalize(req.Path))
	writeJSON(w, res)
	return res.Success
}

func (s *Server) actRename(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	oldName, newName := r.FormValue("old"), strings.TrimSpace(r.FormValue("new"))
	if err := s.ops.Rename(rel, oldName, newName); err != nil {
		s.log.Info("rename failed", zap.String("path", rel), zap.String("old", oldName), zap.Error(err))
		s.flash(r, session.FlashError, "Failed to rename: "+oldName)
		s.redirectTo(w, r, rel)
		return false
	}
	s.flash(r, session.FlashSuccess, "Renamed to: "+newName)
	s.redirectTo(w, r, rel)
	return true
}

func (s *Server) actNewFolder(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	name := strings.TrimSpace(r.FormValue("name"))
	if err := s.ops.CreateDirectory(rel, name); err != nil {
		s.log.Info("mkdir failed", zap.String("path", rel), zap.String("name", name), zap.Error(err))
		s.flash(r, session.FlashError, "Failed to create directory: "+name)
		s.redirectTo(w, r, rel)
		return false
	}
	s.flash(r, session.FlashSuccess, "Created directory: "+name)
	s.redirectTo(w, r, rel)
	return true
}

func (s *Server) actChmod(w http.ResponseWriter, r *http.Request) bool {
	err := s.ops.ChangePermissions(relParam(r), r.FormValue("name"), r.FormValue("mode"))
	if err != nil {
		writeJSON(w, result{Message: "Failed to update permissions"})
		return false
	}
	writeJSON(w, result{Success: true, Message: "Permissions updated"})
	return true
}

func (s *Server) actSave(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	name := r.FormValue("file")
	if s.hiddenPath(fsutil.JoinRel(rel, name)) {
		s.fail(w, r, http.StatusNotFound, rel, "File not found")
		return false
	}
	if err := s.ops.WriteFile(rel, name, []byte(r.FormValue("content"))); err != nil {
		s.log.Info("save failed", zap.String("path", rel), zap.String("name", name), zap.Error(err))
		s.flash(r, session.FlashError, "Failed to save file: "+name)
		s.redirectTo(w, r, rel)
		return false
	}
	s.flash(r, session.FlashSuccess, "File saved: "+name)
	s.redirectTo(w, r, rel)
	return true
}

// --- copy and move ---

// stageAction remembers an item for a later copy or move and sends the user
// to the destination picker.
func stageAction(op session.Operation) actionHandler {
	return func(s *Server, w http.ResponseWriter, r *http.Request) bool {
		rel := relParam(r)
		name := r.FormValue("file")
		if name == "" {
			s.fail(w, r, http.StatusBadRequest, rel, fmt.Sprintf("No file specified for %s", op))
			return false
		}
		if _, err := s.entryPath(rel, name); err != nil {
			s.fail(w, r, http.StatusNotFound, rel, "File not found")
			return false
		}
		err := s.sessions.SetPending(current(r).sess.ID, session.PendingTransfer{
			Operation:  op,
			Name:       name,
			SourcePath: rel,
		})
		if err != nil {
			s.fail(w, r, http.StatusInternalServerError, rel, "Session expired")
			return false
		}
		http.Redirect(w, r, "/?action=select-destination&p="+url.QueryEscape(rel), http.StatusSeeOther)
		return true
	}
}

type selectData struct {
	Pending session.PendingTransfer
	Folders []catalog.Folder
	Parent  string
}

func (s *Server) actSelectDestination(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	pt, ok := s.sessions.Pending(current(r).sess.ID)
	if !ok {
		s.flash(r, session.FlashError, "No pending operation found")
		s.redirectTo(w, r, rel)
		return false
	}
	p := s.newPage(r, "Select destination")
	p.Path = rel
	p.Crumbs = catalog.Breadcrumbs(rel)
	p.Data = selectData{Pending: pt, Folders: s.catalog.FolderTree(rel), Parent: parentRel(rel)}
	s.render(w, http.StatusOK, "select", p)
	return true
}

func (s *Server) actExecuteTransfer(w http.ResponseWriter, r *http.Request) bool {
	sid := current(r).sess.ID
	pt, ok := s.sessions.Pending(sid)
	if !ok {
		s.flash(r, session.FlashError, "No pending operation found")
		s.redirectTo(w, r, relParam(r))
		return false
	}
	defer s.sessions.ClearPending(sid)

	if pt.Operation == session.OpCopy && !s.can(r, auth.ActCopy) {
		s.flash(r, session.FlashError, msgForbidden)
		s.redirectTo(w, r, pt.SourcePath)
		return false
	}
	dest := fsutil.Normalize(r.FormValue("destination"))
	var err error
	verb := "Copied"
	if pt.Operation == session.OpMove {
		verb = "Moved"
		err = s.ops.MoveItem(pt.SourcePath, pt.Name, dest)
	} else {
		err = s.ops.CopyItem(pt.SourcePath, pt.Name, dest)
	}
	if err != nil {
		s.flash(r, session.FlashError, fileops.Message(err))
		s.redirectTo(w, r, pt.SourcePath)
		return false
	}
	shown := dest
	if shown == "" {
		shown = "/"
	}
	s.flash(r, session.FlashSuccess, fmt.Sprintf("%s %q to %s", verb, pt.Name, shown))
	s.redirectTo(w, r, pt.SourcePath)
	return true
}

func (s *Server) actCancelTransfer(w http.ResponseWriter, r *http.Request) bool {
	sid := current(r).sess.ID
	pt, ok := s.sessions.Pending(sid)
	s.sessions.ClearPending(sid)
	rel := relParam(r)
	if ok {
		rel = pt.SourcePath
		s.flash(r, session.FlashInfo, "Operation cancelled")
	}
	s.redirectTo(w, r, rel)
	return true
}

type pasteRequest struct {
	Items      []string `json:"items"`
	SourcePath string   `json:"sourcePath"`
	DestPath   string   `json:"destPath"`
	Operation  string   `json:"operation"`
}

func (s *Server) actPaste(w http.ResponseWriter, r *http.Request) bool {
	var req pasteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, result{Message: "Invalid request"})
		return false
	}
	if len(req.Items) == 0 {
		writeJSONStatus(w, http.StatusBadRequest, result{Message: "No items to paste"})
		return false
	}
	var res fileops.BatchResult
	switch req.Operation {
	case "copy":
		if !s.can(r, auth.ActCopy) {
			writeJSONStatus(w, http.StatusForbidden, result{Message: msgForbidden})
			return false
		}
		res = s.ops.CopyMultiple(req.Items, req.SourcePath, req.DestPath)
	case "cut":
		res = s.ops.MoveMultiple(req.Items, req.SourcePath, req.DestPath)
	default:
		writeJSONStatus(w, http.StatusBadRequest, result{Message: "Invalid operation"})
		return false
	}
	writeJSON(w, res)
	return res.Success
}

// --- preview ---

type previewData struct {
	Details  *fileops.Details
	Content  string
	TooLarge bool
	FileURL  string
	Editable bool
}

func (s *Server) actView(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	name := r.FormValue("file")
	if _, err := s.entryPath(rel, name); err != nil {
		s.flash(r, session.FlashError, "File not found")
		s.redirectTo(w, r, rel)
		return false
	}
	d, err := s.ops.FileDetails(rel, name)
	if err != nil {
		s.flash(r, session.FlashError, "File not found")
		s.redirectTo(w, r, rel)
		return false
	}
	data := previewData{
		Details:  d,
		FileURL:  fileURL(fsutil.JoinRel(rel, name)),
		Editable: d.IsText && s.can(r, auth.ActRename),
	}
	if d.IsText {
		b, err := s.ops.ReadFile(rel, name)
		switch {
		case errors.Is(err, fileops.ErrTooLarge):
			data.TooLarge = true
			data.Editable = false
		case err != nil:
			s.flash(r, session.FlashError, "File not found")
			s.redirectTo(w, r, rel)
			return false
		default:
			data.Content = string(b)
		}
	}
	p := s.newPage(r, name)
	p.Path = rel
	p.Crumbs = catalog.Breadcrumbs(rel)
	p.Data = data
	s.render(w, http.StatusOK, "preview", p)
	return true
}

func (s *Server) actViewPDF(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	name := r.FormValue("file")
	abs, err := s.entryPath(rel, name)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return false
	}
	st, err := os.Stat(abs)
	if err != nil || !st.Mode().IsRegular() {
		http.Error(w, "File not found", http.StatusNotFound)
		return false
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		http.Error(w, "Not a PDF file", http.StatusBadRequest)
		return false
	}
	f, err := os.Open(abs)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return false
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, st.ModTime(), f)
	return true
}

// --- archives ---

func (s *Server) actZip(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	items := formList(r, "items")
	if len(items) == 0 {
		s.flash(r, session.FlashError, "No items selected for compression")
		s.redirectTo(w, r, rel)
		return false
	}
	zipName := strings.TrimSpace(r.FormValue("zipname"))
	if zipName == "" {
		zipName = "archive"
	}
	name, err := s.archives.CreateArchive(items, rel, zipName)
	if err != nil {
		s.log.Info("zip failed", zap.String("path", rel), zap.Error(err))
		s.flash(r, session.FlashError, "Failed to create archive")
		s.redirectTo(w, r, rel)
		return false
	}
	s.flash(r, session.FlashSuccess, "Created archive: "+name)
	s.redirectTo(w, r, rel)
	return true
}

func (s *Server) actExtract(w http.ResponseWriter, r *http.Request) bool {
	rel := relParam(r)
	name := r.FormValue("file")
	target := fsutil.Normalize(r.FormValue("target_folder"))
	_, err := s.archives.ExtractArchive(rel, name, target)
	if err != nil {
		var entryErr *archive.EntryError
		msg := "Failed to extract: " + name
		if errors.As(err, &entryErr) {
			msg = entryErr.Reason
		}
		s.log.Info("extract failed", zap.String("path", rel), zap.String("name", name), zap.Error(err))
		s.flash(r, session.FlashError, msg)
		s.redirectTo(w, r, rel)
		return false
	}
	msg := "Extracted: " + name
	if target != "" {
		msg += " to " + target
	}
	s.flash(r, session.FlashSuccess, msg)
	s.redirectTo(w, r, rel)
	return true
}

func parentRel(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return ""
}
