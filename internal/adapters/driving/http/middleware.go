package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driving"
)

type contextKey string

const identityContextKey contextKey = "identity"

// IdentityFrom returns the authenticated caller, or nil on public routes.
func IdentityFrom(ctx context.Context) *domain.Identity {
	id, _ := ctx.Value(identityContextKey).(*domain.Identity)
	return id
}

func withIdentity(ctx context.Context, id *domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

type authMiddleware struct {
	auth   driving.AuthService
	cookie string

	// windows counts requests per tenant per minute
	windows *cache.Cache
}

func newAuthMiddleware(auth driving.AuthService, cookie string) *authMiddleware {
	return &authMiddleware{
		auth:    auth,
		cookie:  cookie,
		windows: cache.New(2*time.Minute, 5*time.Minute),
	}
}

// authenticate resolves the bearer credential or session cookie into an Identity.
func (m *authMiddleware) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := extractBearerToken(r)
		if credential == "" {
			if c, err := r.Cookie(m.cookie); err == nil {
				credential = c.Value
			}
		}
		if credential == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
			return
		}

		id, err := m.auth.Authenticate(r.Context(), credential)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// rateLimit enforces the tenant's RateLimitPerMinute in fixed one-minute windows.
// Tenants without a limit are not counted.
func (m *authMiddleware) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r.Context())
		if id == nil || id.Tenant == nil || id.Tenant.RateLimitPerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		now := time.Now()
		key := id.TenantID + ":" + strconv.FormatInt(now.Unix()/60, 10)
		// Add fails when the window already exists, which is fine.
		_ = m.windows.Add(key, 0, time.Minute+time.Second)
		n, err := m.windows.IncrementInt(key, 1)
		if err == nil && n > id.Tenant.RateLimitPerMinute {
			retry := 60 - now.Unix()%60
			w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireTenantCredential rejects onboarding sessions, which may only act on
// their own consent.
func requireTenantCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r.Context())
		if id == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		if id.ConsentScope != "" {
			writeError(w, http.StatusForbidden, "forbidden", "onboarding sessions cannot use this endpoint")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireConsentAccess hides consents outside an onboarding session's scope.
func requireConsentAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r.Context())
		if id == nil || !id.CanAccessConsent(chi.URLParam(r, "id")) {
			writeDomainError(w, r, domain.ErrNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requestLogger logs one line per request. Credentials are never logged.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// recoverer turns a handler panic into a 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					"panic", fmt.Sprint(rec),
					"request_id", middleware.GetReqID(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// instrument counts requests by route pattern and status class.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.IncrementHTTP(r.Method, route, strconv.Itoa(status/100)+"xx")
	})
}
