package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"filedeck/internal/fileops"
	"filedeck/internal/fsutil"
	"filedeck/internal/upload"
)

// handleUploads creates a resumable upload: POST /api/uploads?p=&name=&size=
func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.csrfOK(r) {
		writeJSONStatus(w, http.StatusForbidden, result{Message: "Invalid security token"})
		return
	}
	q := r.URL.Query()
	dest := fsutil.Normalize(q.Get("p"))
	if _, err := s.guard.ResolveDir(dest); err != nil || s.hiddenPath(dest) {
		writeJSONStatus(w, http.StatusBadRequest, result{Message: "Invalid upload path"})
		return
	}
	size, err := strconv.ParseInt(q.Get("size"), 10, 64)
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, result{Message: "Invalid size"})
		return
	}
	name := fileops.SanitizeFilename(q.Get("name"))
	if name == "" {
		writeJSONStatus(w, http.StatusBadRequest, result{Message: "Invalid file name"})
		return
	}
	st, err := s.uploads.Create(dest, name, size, current(r).sess.Username)
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, result{Message: fileops.Message(err)})
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{
		"id":        st.ID,
		"offset":    st.Offset,
		"size":      st.Size,
		"chunkSize": s.cfg.Upload.ChunkSize,
	})
}

// handleUploadID drives one upload:
//
//	GET    /api/uploads/<id>         progress
//	PATCH  /api/uploads/<id>         append a chunk (Content-Range)
//	POST   /api/uploads/<id>/finish  move the file into place
//	DELETE /api/uploads/<id>         abort
func (s *Server) handleUploadID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/uploads/")
	isFinish := strings.HasSuffix(rest, "/finish")
	id := strings.TrimSuffix(strings.TrimSuffix(rest, "/finish"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	st, ok := s.uploads.Get(id)
	if !ok || st.Owner != current(r).sess.Username {
		s.uploadError(w, id, upload.ErrUnknownUpload)
		return
	}
	if r.Method != http.MethodGet && !s.csrfOK(r) {
		writeJSONStatus(w, http.StatusForbidden, result{Message: "Invalid security token"})
		return
	}

	if isFinish {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		stored, err := s.uploads.Finish(r.Context(), id)
		if err != nil {
			s.uploadError(w, id, err)
			return
		}
		s.metrics.UploadedBytes.Add(float64(st.Size))
		s.metrics.Action("upload", true)
		writeJSON(w, map[string]any{
			"success": true,
			"name":    stored,
			"path":    fsutil.JoinRel(st.DestRel, stored),
			"size":    st.Size,
		})
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{"id": st.ID, "offset": st.Offset, "size": st.Size, "dest": st.DestRel, "name": st.Name})
	case http.MethodPatch:
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.ChunkSize+(1<<16))
		next, err := s.uploads.Patch(r.Context(), id, r.Header.Get("Content-Range"), r.Body)
		if err != nil {
			s.uploadError(w, id, err)
			return
		}
		writeJSON(w, map[string]any{"id": next.ID, "offset": next.Offset, "size": next.Size})
	case http.MethodDelete:
		if err := s.uploads.Abort(id); err != nil {
			s.uploadError(w, id, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) uploadError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, upload.ErrUnknownUpload):
		writeJSONStatus(w, http.StatusNotFound, result{Message: "Unknown upload"})
	case errors.Is(err, upload.ErrBusy):
		writeJSONStatus(w, http.StatusConflict, result{Message: "Another chunk is in progress"})
	case errors.Is(err, upload.ErrIncomplete):
		writeJSONStatus(w, http.StatusConflict, result{Message: "Upload incomplete"})
	default:
		s.log.Info("chunked upload failed", zap.String("id", id), zap.Error(err))
		writeJSONStatus(w, http.StatusBadRequest, result{Message: fileops.Message(err)})
	}
}
