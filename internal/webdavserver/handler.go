// Package webdavserver exposes account roots over read-only WebDAV with
// basic authentication against account credentials.
package webdavserver

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/net/webdav"

	"cloudcrate/internal/auth"
	"cloudcrate/internal/db"
)

// readMethods are the only WebDAV verbs the handler accepts.
var readMethods = map[string]bool{
	http.MethodOptions: true,
	http.MethodGet:     true,
	http.MethodHead:    true,
	"PROPFIND":         true,
}

type Handler struct {
	DB     *db.DB
	Fs     afero.Fs
	Prefix string
	Logger *slog.Logger

	once sync.Once
	ls   webdav.LockSystem
}

func (h *Handler) lockSystem() webdav.LockSystem {
	h.once.Do(func() {
		h.ls = webdav.NewMemLS()
	})
	return h.ls
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !readMethods[r.Method] {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	email, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="CloudCrate WebDAV"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	acc, found, err := h.DB.GetAccountByEmail(r.Context(), email)
	if err != nil {
		h.Logger.Error("webdav db error", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !found {
		w.Header().Set("WWW-Authenticate", `Basic realm="CloudCrate WebDAV"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	okPw, err := auth.VerifyPassword(password, acc.PassHash)
	if err != nil || !okPw {
		w.Header().Set("WWW-Authenticate", `Basic realm="CloudCrate WebDAV"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	h.Logger.Debug("webdav authenticated", "email", email, "method", r.Method, "path", r.URL.Path)

	dav := &webdav.Handler{
		Prefix:     strings.TrimSuffix(h.Prefix, "/"),
		FileSystem: newJailFS(h.Fs, acc.RootPath),
		LockSystem: h.lockSystem(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				h.Logger.Warn("webdav request error", "method", r.Method, "path", r.URL.Path, "error", err)
			}
		},
	}
	dav.ServeHTTP(w, r)
}
