package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"cloudcrate/internal/account"
	"cloudcrate/internal/validate"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if ok, wait := s.loginLimiter.Allow("login:" + clientIP(r)); !ok {
		w.Header().Set("retry-after", retryAfterSeconds(wait))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many attempts"})
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		DeviceID string `json:"deviceId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "'email' and 'password' are required"})
		return
	}

	acc, pair, err := s.Accounts.Login(r.Context(), req.Email, req.Password, req.DeviceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         acc.Name,
		"email":        acc.Email,
		"admin":        acc.Admin,
		"storage":      acc.StorageUsed,
		"storageLimit": acc.StorageLimit,
		"accessToken":  pair.Access,
		"refreshToken": pair.Refresh,
		"deviceId":     pair.DeviceID,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if ok, wait := s.loginLimiter.Allow("refresh:" + clientIP(r)); !ok {
		w.Header().Set("retry-after", retryAfterSeconds(wait))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many attempts"})
		return
	}

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "'refreshToken' is required"})
		return
	}

	pair, err := s.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  pair.Access,
		"refreshToken": pair.Refresh,
		"deviceId":     pair.DeviceID,
	})
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := s.Auth.RevokeAll(r.Context(), requestAccount(r)); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string `json:"email"`
		Name         string `json:"name"`
		Password     string `json:"password"`
		Admin        bool   `json:"admin"`
		StorageLimit int64  `json:"storageLimit"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	acc, err := s.Accounts.Register(r.Context(), account.RegisterParams{
		Email:        req.Email,
		Name:         req.Name,
		Password:     req.Password,
		Admin:        req.Admin,
		StorageLimit: req.StorageLimit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"email":        acc.Email,
		"name":         acc.Name,
		"admin":        acc.Admin,
		"storage":      acc.StorageUsed,
		"storageLimit": acc.StorageLimit,
	})
}

// handleChangePassword requires the current password as a step-up check.
// A successful change revokes every device session, so clients log in
// again with the new credential.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password    string `json:"password"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Password == "" || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "'password' and 'newPassword' are required"})
		return
	}

	acc := requestAccount(r)
	if err := s.Accounts.ChangePassword(r.Context(), acc.Email, req.Password, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

func (s *Server) handleSelfDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password   string `json:"password"`
		DeleteData bool   `json:"deleteData"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "'password' is required"})
		return
	}

	acc := requestAccount(r)
	if err := s.Accounts.DeleteSelf(r.Context(), acc.Email, req.Password, req.DeleteData); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

func (s *Server) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		DeleteData bool   `json:"deleteData"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "'email' is required"})
		return
	}
	if err := s.Accounts.DeleteByEmail(r.Context(), req.Email, req.DeleteData); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := s.Accounts.List(r.Context(), page, limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	type item struct {
		Email        string `json:"email"`
		Name         string `json:"name"`
		Admin        bool   `json:"admin"`
		Storage      int64  `json:"storage"`
		StorageLimit int64  `json:"storageLimit"`
		CreatedAt    int64  `json:"createdAt"`
	}
	out := make([]item, 0, len(list))
	for _, a := range list {
		out = append(out, item{
			Email:        a.Email,
			Name:         a.Name,
			Admin:        a.Admin,
			Storage:      a.StorageUsed,
			StorageLimit: a.StorageLimit,
			CreatedAt:    a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (s *Server) handleStorageLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string `json:"email"`
		StorageLimit int64  `json:"storageLimit"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "'email' is required"})
		return
	}
	if err := s.Accounts.SetStorageLimit(r.Context(), req.Email, req.StorageLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	size, err := s.Accounts.Reconcile(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"storage": size})
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	if ok, wait := s.loginLimiter.Allow("contact:" + clientIP(r)); !ok {
		w.Header().Set("retry-after", retryAfterSeconds(wait))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many attempts"})
		return
	}

	var req struct {
		Email   string `json:"email"`
		Subject string `json:"subject"`
		Message string `json:"message"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Email(req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "'message' is required"})
		return
	}
	if !s.Mail.Enabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "contact is not available"})
		return
	}
	subject := req.Subject
	if subject == "" {
		subject = "Contact form message"
	}
	if err := s.Mail.Send(req.Email, subject, req.Message); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}
