package httpapi

import (
	"sync"
	"time"
)

// credentialLimiter caps attempts per key over a fixed window. It guards
// the unauthenticated endpoints (login, token refresh, contact), keyed by
// endpoint name plus client IP, so a password-spraying address locks
// itself out without affecting other clients.
type credentialLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	attempts map[string]attemptWindow
}

type attemptWindow struct {
	hits    int
	resetAt time.Time
}

func newCredentialLimiter(max int, window time.Duration) *credentialLimiter {
	return &credentialLimiter{
		window:   window,
		max:      max,
		attempts: make(map[string]attemptWindow),
	}
}

// Allow records one attempt. When the cap is exceeded it returns false
// plus how long the caller should wait before retrying.
func (l *credentialLimiter) Allow(key string) (bool, time.Duration) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.attempts[key]
	if !ok || now.After(w.resetAt) {
		w = attemptWindow{resetAt: now.Add(l.window)}
	}
	w.hits++
	l.attempts[key] = w

	if len(l.attempts) > 1024 {
		l.prune(now)
	}

	if w.hits <= l.max {
		return true, 0
	}
	return false, time.Until(w.resetAt)
}

// prune drops expired windows. Called under mu once the map has grown
// past the point where stale login bursts are worth collecting.
func (l *credentialLimiter) prune(now time.Time) {
	for k, w := range l.attempts {
		if now.After(w.resetAt) {
			delete(l.attempts, k)
		}
	}
}
