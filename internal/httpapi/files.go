package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cloudcrate/internal/db"
	"cloudcrate/internal/storage"
	"cloudcrate/internal/validate"
)

type pathRequest struct {
	Path []string `json:"path"`
}

// handleBrowse answers POST / for both directories and files. Directories
// get the cached listing; streamable media is served with byte-range
// support; small text files come back inline; everything else is an
// attachment download.
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	acc := requestAccount(r)

	f, info, err := s.Engine.Open(acc, req.Path)
	if err == nil {
		name := info.Name()
		if mime, ok := s.Engine.MediaType(name); ok {
			defer f.Close()
			s.streamRange(w, r, f, info.Size(), mime)
			return
		}
		f.Close()
		if storage.IsText(name) && info.Size() <= s.Engine.EditMaxBytes {
			content, rerr := s.Engine.ReadText(acc, req.Path)
			if rerr != nil {
				s.writeError(w, r, rerr)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"name": name, "content": content})
			return
		}
		s.serveAttachment(w, r, acc, req.Path)
		return
	}

	l, lerr := s.Engine.List(r.Context(), acc, req.Path)
	if lerr != nil {
		s.writeError(w, r, lerr)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) serveAttachment(w http.ResponseWriter, r *http.Request, acc *db.Account, path []string) {
	d, err := s.Engine.Archive(acc, path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer s.Engine.Discard(d)

	f, err := s.Engine.Fs.Open(d.Local)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("content-type", "application/octet-stream")
	w.Header().Set("content-disposition", `attachment; filename="`+escapeDispositionName(d.Name)+`"`)
	w.Header().Set("content-length", strconv.FormatInt(d.Size, 10))
	_, _ = io.Copy(w, f)
}

// streamRange serves media with byte-range support. Without a Range header
// the whole file is sent with a 200; a satisfiable range gets a 206 with
// Content-Range, an unsatisfiable one a 416.
func (s *Server) streamRange(w http.ResponseWriter, r *http.Request, f io.ReadSeeker, size int64, mime string) {
	w.Header().Set("accept-ranges", "bytes")
	w.Header().Set("content-type", mime)

	rng := r.Header.Get("Range")
	if rng == "" {
		w.Header().Set("content-length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, f)
		return
	}

	start, end, ok := parseByteRange(rng, size)
	if !ok {
		w.Header().Set("content-range", fmt.Sprintf("bytes */%d", size))
		writeJSON(w, http.StatusRequestedRangeNotSatisfiable, map[string]string{"error": "invalid range"})
		return
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		s.internalError(w, r, err)
		return
	}
	w.Header().Set("content-range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("content-length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = io.CopyN(w, f, end-start+1)
}

// parseByteRange parses a single "bytes=start-end" range. A missing end
// defaults to the last byte.
func parseByteRange(header string, size int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	first, last, found := strings.Cut(spec, "-")
	if !found || first == "" {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if strings.TrimSpace(last) != "" {
		end, err = strconv.ParseInt(strings.TrimSpace(last), 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return start, end, true
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    []string `json:"path"`
		Content string   `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Engine.WriteText(r.Context(), requestAccount(r), req.Path, req.Content); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.serveAttachment(w, r, requestAccount(r), req.Path)
}

// handleUpload accepts a multipart form: a "path" field holding the JSON
// segment array of the target directory plus the "file" part.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(int64(s.MaxUploadMB) << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
		return
	}
	var dir []string
	if raw := r.FormValue("path"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &dir); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "'path' must be a JSON array of segments"})
			return
		}
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "'file' part is required"})
		return
	}
	defer file.Close()

	err = s.Engine.Upload(r.Context(), requestAccount(r), dir, hdr.Filename, hdr.Size, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ok": "1"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path   []string `json:"path"`
		Name   string   `json:"name"`
		Folder bool     `json:"folder"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.EntryName(req.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.Engine.Create(r.Context(), requestAccount(r), req.Path, req.Name, req.Folder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ok": "1"})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    []string `json:"path"`
		NewName string   `json:"newName"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.EntryName(req.NewName); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.Engine.Rename(r.Context(), requestAccount(r), req.Path, req.NewName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Engine.Delete(r.Context(), requestAccount(r), req.Path); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

// dispositionEscaper applies RFC 6266 quoted-string escaping so quotes
// and backslashes in file names survive the Content-Disposition header.
var dispositionEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeDispositionName(s string) string {
	return dispositionEscaper.Replace(s)
}
