package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nikodwicahyo/helpdesk/internal/audit"
	"github.com/nikodwicahyo/helpdesk/internal/obs"
)

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

// RequestID assigns each request an identifier, echoes it in the response
// header and threads it into the context for logs and the audit trail.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := context.WithValue(r.Context(), requestIDKey{}, rid)
		ctx = audit.WithRequestID(ctx, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request id set by the RequestID middleware.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if rid, ok := ctx.Value(requestIDKey{}).(string); ok {
		return rid
	}
	return ""
}

// LoggingJSON emits one structured line per request: method, path, status,
// duration, request id.
func LoggingJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: 200}
		start := time.Now()
		next.ServeHTTP(sw, r)
		obs.LogRequest(map[string]any{
			"ts":          time.Now().UTC().Format(time.RFC3339Nano),
			"level":       "info",
			"msg":         "request_complete",
			"request_id":  RequestIDFromContext(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.code,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote":      clientIP(r),
		})
	})
}

// SecurityHeaders sets the standard hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// MaxBodyBytes limits request body size.
func MaxBodyBytes(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// RateLimit applies a token bucket per client IP. This is transport-level
// back-pressure; credential lockout is a separate concern handled inside the
// login flow.
func RateLimit(next http.Handler, burst int, perSecond int) http.Handler {
	t := newIPThrottle(burst, perSecond)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		if !t.allow(ip, time.Now()) {
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

const (
	bucketTTL        = 5 * time.Minute
	bucketSweepEvery = 1 * time.Minute
)

type ipBucket struct {
	lim *rate.Limiter
	ts  time.Time
}

// ipThrottle keeps one limiter per client IP. Stale buckets are swept
// opportunistically on request, so the throttle owns no goroutine that would
// need a stop path.
type ipThrottle struct {
	mu        sync.Mutex
	buckets   map[string]*ipBucket
	burst     int
	perSecond int
	lastSweep time.Time
}

func newIPThrottle(burst, perSecond int) *ipThrottle {
	return &ipThrottle{
		buckets:   make(map[string]*ipBucket),
		burst:     burst,
		perSecond: perSecond,
		lastSweep: time.Now(),
	}
}

func (t *ipThrottle) allow(ip string, now time.Time) bool {
	t.mu.Lock()
	if now.Sub(t.lastSweep) >= bucketSweepEvery {
		t.sweepLocked(now)
	}
	b, ok := t.buckets[ip]
	if !ok {
		b = &ipBucket{lim: rate.NewLimiter(rate.Limit(t.perSecond), t.burst)}
		t.buckets[ip] = b
	}
	b.ts = now
	t.mu.Unlock()
	return b.lim.Allow()
}

func (t *ipThrottle) sweepLocked(now time.Time) {
	for k, b := range t.buckets {
		if now.Sub(b.ts) > bucketTTL {
			delete(t.buckets, k)
		}
	}
	t.lastSweep = now
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For support (first IP)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
