package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/gateway/auth"
	"github.com/prescritto-ai/platform/pkg/gateway/respond"
	"github.com/prescritto-ai/platform/pkg/observability/metrics"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"golang.org/x/time/rate"
)

type contextKey string

const (
	ClaimsContextKey    contextKey = "claims"
	requestIDContextKey contextKey = "request_id"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// Ensure a request ID exists
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}

		r.Header.Set("X-Request-ID", reqID)
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := context.WithValue(r.Context(), requestIDContextKey, reqID)
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())

		// Query strings may carry identifiers; log the path only.
		logger.Log.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"request_id": reqID,
			"duration":   elapsed.Milliseconds(),
		}).Info("HTTP request")
	})
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Log.WithField("error", err).Error("Panic recovered")
				respond.Message(w, http.StatusInternalServerError, "Erro interno. Tente novamente.")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// TokenVerifier is satisfied by *auth.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*auth.Claims, error)
}

func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				respond.Message(w, http.StatusUnauthorized, "Não autenticado.")
				return
			}

			claims, err := verifier.Verify(r.Context(), strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				logger.Log.WithError(err).Warn("token rejected")
				respond.Message(w, http.StatusUnauthorized, "Não autenticado.")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*auth.Claims)
	return claims, ok
}

// ScopeResolver maps a verified identity onto a staff member of exactly one hospital.
type ScopeResolver interface {
	ResolveScope(ctx context.Context, subject, email string, emailVerified bool) (tenant.Scope, models.User, error)
}

// RequireScope must run after Authenticate. Requests without a resolvable staff record are
// rejected before reaching any handler.
func RequireScope(resolver ScopeResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				respond.Message(w, http.StatusUnauthorized, "Não autenticado.")
				return
			}

			scope, _, err := resolver.ResolveScope(r.Context(), claims.Subject, claims.Email, claims.EmailVerified)
			if err != nil {
				if errors.Is(err, tenant.ErrForbidden) {
					metrics.PermissionDenials.Inc()
				}
				respond.Error(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(tenant.WithScope(r.Context(), scope)))
		})
	}
}

// RequestMeta extracts the client details recorded on audit entries.
func RequestMeta(r *http.Request) models.RequestMeta {
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	session := r.Header.Get("X-Session-ID")
	if session == "" {
		session = RequestID(r.Context())
	}
	return models.RequestMeta{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		SessionID: session,
	}
}

// RateLimit keeps one token bucket per caller: the authenticated user when a tenant scope is on the
// request, the client IP otherwise. It must run after RequireScope to key by user.
func RateLimit(rps int, burst int) func(http.Handler) http.Handler {
	limiters := newKeyedLimiter(rate.Limit(rps), burst, 10*time.Minute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.get(rateKey(r)).Allow() {
				metrics.RateLimited.Inc()
				w.Header().Set("Retry-After", "1")
				respond.Message(w, http.StatusTooManyRequests, "Muitas requisições. Aguarde e tente novamente.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateKey(r *http.Request) string {
	if scope, ok := tenant.FromContext(r.Context()); ok {
		return "user:" + scope.HospitalID.String() + ":" + scope.UserID.String()
	}
	return "ip:" + RequestMeta(r).IPAddress
}

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type keyedLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	entries   map[string]*keyedEntry
	lastSweep time.Time
}

func newKeyedLimiter(limit rate.Limit, burst int, idle time.Duration) *keyedLimiter {
	return &keyedLimiter{
		limit:     limit,
		burst:     burst,
		idle:      idle,
		entries:   make(map[string]*keyedEntry),
		lastSweep: time.Now(),
	}
}

func (k *keyedLimiter) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	if now.Sub(k.lastSweep) > k.idle {
		for name, entry := range k.entries {
			if now.Sub(entry.lastSeen) > k.idle {
				delete(k.entries, name)
			}
		}
		k.lastSweep = now
	}

	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// CORS allows the configured front-end origins only.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed[origin] || allowed["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Session-ID")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
