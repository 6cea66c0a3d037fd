package router

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RateLimits caps how often one session may fire throttled events. Zero or
// negative values disable that limit.
type RateLimits struct {
	TypingPerMinute   int
	CommentsPerMinute int
}

type window struct {
	typing   int
	comments int
	resetAt  time.Time
}

// rateLimiter is a per-session fixed-window counter. Windows reset lazily on
// the next call after expiry, so there is no timer per session.
type rateLimiter struct {
	limits RateLimits

	mu      sync.Mutex
	windows map[uuid.UUID]*window
	nowFunc func() time.Time
}

func newRateLimiter(limits RateLimits) *rateLimiter {
	return &rateLimiter{
		limits:  limits,
		windows: make(map[uuid.UUID]*window),
		nowFunc: time.Now,
	}
}

func (l *rateLimiter) allowTyping(sessID uuid.UUID) bool {
	if l.limits.TypingPerMinute <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.currentWindow(sessID)
	if w.typing >= l.limits.TypingPerMinute {
		return false
	}
	w.typing++
	return true
}

func (l *rateLimiter) allowComment(sessID uuid.UUID) bool {
	if l.limits.CommentsPerMinute <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.currentWindow(sessID)
	if w.comments >= l.limits.CommentsPerMinute {
		return false
	}
	w.comments++
	return true
}

func (l *rateLimiter) currentWindow(sessID uuid.UUID) *window {
	now := l.nowFunc()
	w, ok := l.windows[sessID]
	if !ok || !w.resetAt.After(now) {
		w = &window{resetAt: now.Add(time.Minute)}
		l.windows[sessID] = w
	}
	return w
}

func (l *rateLimiter) forget(sessID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, sessID)
}
