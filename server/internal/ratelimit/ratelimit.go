// Package ratelimit throttles message admissions per client.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/obsidianstack/prioritymq/server/internal/config"
)

// ClientLimiter keeps one token bucket per client key.
// Idle buckets are dropped by a background cleanup loop.
type ClientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter creates a limiter allowing r events per second per client
// with the given burst. It starts a cleanup goroutine; call Stop to end it.
func NewClientLimiter(r float64, burst int, cleanupInterval time.Duration) *ClientLimiter {
	l := &ClientLimiter{
		limiters: make(map[string]*clientEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether one more event from key is allowed now.
func (l *ClientLimiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	e, ok := l.limiters[key]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	lim := e.limiter
	l.mu.Unlock()

	return lim.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (l *ClientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *ClientLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale()
		case <-l.stopCh:
			return
		}
	}
}

// removeStale drops clients not seen for two cleanup intervals.
func (l *ClientLimiter) removeStale() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := l.now().Add(-2 * l.cleanup)
	removed := 0
	for key, e := range l.limiters {
		if e.lastSeen.Before(threshold) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *ClientLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Manager gates admissions according to the rate limit configuration.
// A disabled Manager allows everything.
type Manager struct {
	client       *ClientLimiter
	trustForward bool
}

// NewManager creates a Manager from cfg.
func NewManager(cfg config.RateLimitConfig) *Manager {
	if !cfg.Enabled {
		return &Manager{}
	}
	return &Manager{
		client:       NewClientLimiter(cfg.Rate, cfg.Burst, cfg.CleanupInterval),
		trustForward: cfg.TrustForwardedFor,
	}
}

// Enabled reports whether limiting is active.
func (m *Manager) Enabled() bool {
	return m != nil && m.client != nil
}

// AllowAdmit checks if an admission from the client behind r is allowed.
func (m *Manager) AllowAdmit(r *http.Request) bool {
	if !m.Enabled() {
		return true
	}
	return m.client.Allow(m.Key(r))
}

// Key returns the rate-limit key for r under the manager's proxy setting.
func (m *Manager) Key(r *http.Request) string {
	return ClientKey(r, m != nil && m.trustForward)
}

// Stop releases the manager's background resources.
func (m *Manager) Stop() {
	if m.Enabled() {
		m.client.Stop()
	}
}

// ClientKey identifies the caller of r by the host part of RemoteAddr.
// With trustForwarded set, the first X-Forwarded-For hop wins when present.
func ClientKey(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
