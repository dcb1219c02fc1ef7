package httpapi

import (
	"net/http"
	"runtime/debug"
)

// withRecover turns a handler panic into the API's generic server-error
// reply, logging the request coordinates alongside the stack.
func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.Logger.Error("handler panic",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_ip", clientIP(r),
					"value", v,
					"stack", string(debug.Stack()))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
