package httpapi

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// clientIP extracts the remote IP without a port. It keys the credential
// rate limiter as well as the request log.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// responseTrace captures the status and body size a handler produced.
type responseTrace struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *responseTrace) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseTrace) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tr := &responseTrace{ResponseWriter: w}
		next.ServeHTTP(tr, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", tr.status,
			"bytes", tr.bytes,
			"remote_ip", clientIP(r),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if r.URL.RawQuery != "" {
			attrs = append(attrs, "query", r.URL.RawQuery)
		}
		s.Logger.Log(r.Context(), levelForStatus(tr.status), "http request", attrs...)
	})
}

// levelForStatus grades log levels by response class. 507 is the quota
// rejection, a routine client answer rather than a server fault, so it
// logs as a warning instead of an error.
func levelForStatus(code int) slog.Level {
	switch {
	case code == http.StatusInsufficientStorage:
		return slog.LevelWarn
	case code >= 500:
		return slog.LevelError
	case code >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func retryAfterSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.Itoa(int(d.Seconds()))
}
