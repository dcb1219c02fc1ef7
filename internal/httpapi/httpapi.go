// Package httpapi exposes the HTTP API: credential endpoints, admin account
// management, and the per-account file operations. Authentication is a
// bearer access token; admin-only routes answer a generic not-found to
// callers without the privilege so their existence is not disclosed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cloudcrate/internal/account"
	"cloudcrate/internal/auth"
	"cloudcrate/internal/db"
	"cloudcrate/internal/errs"
	"cloudcrate/internal/mail"
	"cloudcrate/internal/storage"
)

// Server holds the API's collaborators. Handler builds the routed handler;
// the listener itself is owned by the daemon.
type Server struct {
	Accounts    *account.Supervisor
	Auth        *auth.Manager
	Engine      *storage.Engine
	Mail        *mail.Sender
	Logger      *slog.Logger
	MaxUploadMB int

	loginLimiter *credentialLimiter
}

// Handler returns the fully wired http.Handler.
func (s *Server) Handler() http.Handler {
	if s.loginLimiter == nil {
		s.loginLimiter = newCredentialLimiter(10, time.Minute)
	}

	mux := http.NewServeMux()

	// Credential and account endpoints.
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /getAccessToken", s.handleRefresh)
	mux.HandleFunc("POST /logout/all", s.withAccount(s.handleLogoutAll))
	mux.HandleFunc("POST /register", s.withAdmin(s.handleRegister))
	mux.HandleFunc("POST /self/password", s.withAccount(s.handleChangePassword))
	mux.HandleFunc("POST /self/delete", s.withAccount(s.handleSelfDelete))
	mux.HandleFunc("POST /admin/delete", s.withAdmin(s.handleAdminDelete))
	mux.HandleFunc("GET /host/users", s.withAdmin(s.handleUsers))
	mux.HandleFunc("POST /host/storageLimit", s.withAdmin(s.handleStorageLimit))
	mux.HandleFunc("POST /host/reconcile", s.withAdmin(s.handleReconcile))
	mux.HandleFunc("POST /contact", s.handleContact)

	// File endpoints. Paths travel in the body as a segment array.
	mux.HandleFunc("POST /{$}", s.withAccount(s.handleBrowse))
	mux.HandleFunc("POST /save", s.withAccount(s.handleSave))
	mux.HandleFunc("POST /download", s.withAccount(s.handleDownload))
	mux.HandleFunc("POST /upload", s.withAccount(s.handleUpload))
	mux.HandleFunc("POST /create", s.withAccount(s.handleCreate))
	mux.HandleFunc("POST /rename", s.withAccount(s.handleRename))
	mux.HandleFunc("DELETE /delete", s.withAccount(s.handleDelete))

	return s.withRecover(s.withRequestLog(withSecurityHeaders(mux)))
}

type ctxKey string

const ctxAccount ctxKey = "account"

func requestAccount(r *http.Request) *db.Account {
	return r.Context().Value(ctxAccount).(*db.Account)
}

// withAccount authenticates the bearer access token and loads the current
// account row, so handlers see fresh quota counters. Requests without a
// token get the same not-found answer as unknown URLs.
func (s *Server) withAccount(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeNotFound(w)
			return
		}
		claims, err := s.Auth.Tokens.ParseAccess(raw)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			return
		}
		acc, ok, err := s.Accounts.DB.GetAccountByEmail(r.Context(), claims.Email)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			return
		}
		ctx := context.WithValue(r.Context(), ctxAccount, acc)
		next(w, r.WithContext(ctx))
	}
}

// withAdmin additionally requires the admin flag. Non-admin callers cannot
// tell these routes exist.
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeNotFound(w)
			return
		}
		claims, err := s.Auth.Tokens.ParseAccess(raw)
		if err != nil || !claims.Admin {
			writeNotFound(w)
			return
		}
		acc, ok, err := s.Accounts.DB.GetAccountByEmail(r.Context(), claims.Email)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		if !ok || !acc.Admin {
			writeNotFound(w)
			return
		}
		ctx := context.WithValue(r.Context(), ctxAccount, acc)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	return h[len(prefix):], true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "URL does not exist"})
}

// writeError maps domain failures onto HTTP statuses. Quota rejections carry
// the numbers the client needs to react; unexpected errors stay generic.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if qe, ok := errs.IsQuota(err); ok {
		writeJSON(w, http.StatusInsufficientStorage, map[string]any{
			"error":        "storage limit reached",
			"storage":      qe.Used,
			"storageLimit": qe.Limit,
			"fileSize":     qe.Attempted,
		})
		return
	}
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	case errors.Is(err, errs.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, errs.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, errs.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrPathTraversal):
		// Escaping paths get the same answer as absent ones.
		writeNotFound(w)
	default:
		s.internalError(w, r, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
}

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-content-type-options", "nosniff")
		w.Header().Set("x-frame-options", "DENY")
		w.Header().Set("referrer-policy", "no-referrer")
		if r.TLS != nil {
			w.Header().Set("strict-transport-security", "max-age=31536000")
		}
		next.ServeHTTP(w, r)
	})
}
