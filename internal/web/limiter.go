package web

import (
	"sync"
	"time"
)

const (
	DefaultAuthLimit      = 30
	DefaultAuthWindow     = time.Minute
	DefaultAuthMaxEntries = 1000
)

// authLimiter caps failed authentications per remote host in a fixed window.
type authLimiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	maxEntries int
	hosts      map[string]*hostWindow
	swept      time.Time
}

type hostWindow struct {
	start    time.Time
	failures int
}

func newAuthLimiter(limit int, window time.Duration, maxEntries int) *authLimiter {
	if limit <= 0 {
		limit = DefaultAuthLimit
	}
	if window <= 0 {
		window = DefaultAuthWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultAuthMaxEntries
	}
	return &authLimiter{
		limit:      limit,
		window:     window,
		maxEntries: maxEntries,
		hosts:      map[string]*hostWindow{},
	}
}

// allow records one failure for host and reports whether it is still under
// the limit.
func (l *authLimiter) allow(host string, now time.Time) bool {
	if l == nil {
		return true
	}
	if host == "" {
		host = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) >= l.window || len(l.hosts) >= l.maxEntries {
		l.sweep(now)
	}
	hw, ok := l.hosts[host]
	if !ok || now.Sub(hw.start) >= l.window {
		hw = &hostWindow{start: now}
		l.hosts[host] = hw
	}
	if hw.failures >= l.limit {
		return false
	}
	hw.failures++
	return true
}

func (l *authLimiter) sweep(now time.Time) {
	for host, hw := range l.hosts {
		if now.Sub(hw.start) >= l.window {
			delete(l.hosts, host)
		}
	}
	// Still full: forget arbitrary hosts rather than grow without bound.
	for host := range l.hosts {
		if len(l.hosts) < l.maxEntries {
			break
		}
		delete(l.hosts, host)
	}
	l.swept = now
}
