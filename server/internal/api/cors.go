package api

import (
	"net/http"
	"strings"
	"sync"

	"github.com/obsidianstack/prioritymq/server/internal/config"
)

// CORS applies the cross-origin policy to every response of the wrapped
// handler and answers preflight requests itself. The policy can be replaced
// at runtime with Update.
type CORS struct {
	mu          sync.RWMutex
	origins     map[string]bool
	any         bool
	credentials bool
}

// NewCORS creates a CORS policy from cfg.
func NewCORS(cfg config.CORSConfig) *CORS {
	c := &CORS{}
	c.Update(cfg)
	return c
}

// Update replaces the allowed origins and credentials flag.
func (c *CORS) Update(cfg config.CORSConfig) {
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	anyOrigin := false
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		origins[normalizeOrigin(o)] = true
	}

	c.mu.Lock()
	c.origins = origins
	c.any = anyOrigin
	c.credentials = cfg.AllowCredentials
	c.mu.Unlock()
}

// Allowed reports whether origin may call the API.
func (c *CORS) Allowed(origin string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.any || c.origins[normalizeOrigin(origin)]
}

// Wrap returns next with the CORS policy applied.
func (c *CORS) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Origin")
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

		if !c.Allowed(origin) {
			if preflight {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		c.mu.RLock()
		credentials := c.credentials
		c.mu.RUnlock()

		w.Header().Set("Access-Control-Allow-Origin", origin)
		if credentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if preflight {
			w.Header().Add("Vary", "Access-Control-Request-Method")
			w.Header().Add("Vary", "Access-Control-Request-Headers")
			w.Header().Set("Access-Control-Allow-Methods", r.Header.Get("Access-Control-Request-Method"))
			if hdrs := r.Header.Get("Access-Control-Request-Headers"); hdrs != "" {
				w.Header().Set("Access-Control-Allow-Headers", hdrs)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// normalizeOrigin lowercases o and drops a trailing slash, so
// "https://example.com/" and "https://example.com" compare equal.
func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}
