package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

func (a Admin) enabled() bool {
	return a.Token != "" || (a.Username != "" && a.Password != "")
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// allows accepts X-Admin-Token or basic auth, whichever is configured.
func (a Admin) allows(r *http.Request) bool {
	if a.Token != "" {
		if tok := r.Header.Get("X-Admin-Token"); tok != "" && secretEqual(tok, a.Token) {
			return true
		}
	}
	if a.Username != "" && a.Password != "" {
		if u, p, ok := r.BasicAuth(); ok {
			// Evaluate both so timing does not reveal which one mismatched.
			userOK := secretEqual(u, a.Username)
			passOK := secretEqual(p, a.Password)
			return userOK && passOK
		}
	}
	return false
}

// adminAuth guards the tenant and resolve routes. With no credentials configured the
// routes stay open (local dev) and a warning is logged once.
func adminAuth(a Admin) func(http.Handler) http.Handler {
	if !a.enabled() {
		slog.Warn("admin authentication not configured - tenant endpoints are UNPROTECTED; set ADMIN_TOKEN or ADMIN_USERNAME+ADMIN_PASSWORD", slog.String("component", "http"))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.enabled() || a.allows(r) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="live-notifier admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("ip", clientIP(r)), slog.String("component", "http"))
		})
	}
}

// RateLimit bounds mutating tenant requests per client and tenant. Zero Requests or
// Window fall back to 10 per minute.
type RateLimit struct {
	Disabled bool
	Requests int
	Window   time.Duration
}

func (c RateLimit) withDefaults() RateLimit {
	if c.Requests <= 0 {
		c.Requests = 10
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

// tenantLimiter hands out one token bucket per client IP and tenant: Requests tokens
// refilled evenly over Window.
type tenantLimiter struct {
	cfg RateLimit
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newTenantLimiter(ctx context.Context, cfg RateLimit) *tenantLimiter {
	l := &tenantLimiter{cfg: cfg.withDefaults(), now: time.Now, buckets: make(map[string]*bucket)}
	if !l.cfg.Disabled {
		go l.sweepLoop(ctx)
	}
	return l
}

func (l *tenantLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// sweep drops buckets idle for two windows; they would be full again anyway.
func (l *tenantLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-2 * l.cfg.Window)
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}

// allow takes a token for key, returning how long to wait when none is left.
func (l *tenantLimiter) allow(key string) (bool, time.Duration) {
	if l.cfg.Disabled {
		return true, 0
	}
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		every := rate.Every(l.cfg.Window / time.Duration(l.cfg.Requests))
		b = &bucket{lim: rate.NewLimiter(every, l.cfg.Requests)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	res := b.lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *tenantLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		tenantID := chi.URLParam(r, "tenant")
		ok, wait := l.allow(ip + "|" + tenantID)
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(wait.Round(time.Second)/time.Second))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("tenant", tenantID), slog.String("path", r.URL.Path), slog.String("component", "http"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop and strips any port.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		ip = strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

// CORS: Permissive allows any origin; otherwise only AllowedOrigins, where "*.example.com"
// matches its subdomains and the bare domain.
type CORS struct {
	Permissive     bool
	AllowedOrigins []string
}

const (
	corsMethods = "GET, POST, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-Admin-Token, X-Correlation-ID"
)

func (c CORS) allowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range c.AllowedOrigins {
		if origin == allowed {
			return true
		}
		if domain, ok := strings.CutPrefix(allowed, "*."); ok {
			if strings.HasSuffix(origin, "."+domain) || origin == "https://"+domain || origin == "http://"+domain {
				return true
			}
		}
	}
	return false
}

func withCORS(next http.Handler, c CORS) http.Handler {
	if !c.Permissive && len(c.AllowedOrigins) == 0 {
		slog.Warn("CORS restricted and no CORS_ALLOWED_ORIGINS configured - cross-origin requests will be blocked", slog.String("component", "http"))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		switch origin := r.Header.Get("Origin"); {
		case c.Permissive:
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
		case c.allowedOrigin(origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
