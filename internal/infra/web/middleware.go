package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vidfab-pipeline/internal/infra/metrics"
	"vidfab-pipeline/internal/infra/redis"
)

type ctxKey string

const ctxUserID ctxKey = "user_id"

func userIDFrom(ctx context.Context) string {
	if v := ctx.Value(ctxUserID); v != nil {
		return v.(string)
	}
	return ""
}

// authMiddleware resolves the caller from the Bearer JWT and stores the user
// id on the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.ParseFromRequest(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserID, userID)))
	})
}

// rateLimitMiddleware enforces a fixed per-user per-route window. Redis
// failures fail open: a broken limiter must not take the API down.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		userID := userIDFrom(r.Context())
		key := redis.UserRouteKey(userID, r.Method+" "+routePattern(r))
		ok, err := s.limiter.Allow(r.Context(), key, s.rateLimit, time.Minute)
		if err != nil {
			s.log.Warn().Err(err).Msg("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminMiddleware provides simple Bearer token authentication for the admin API.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			s.log.Error().Msg("admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if r.Header.Get("X-Admin-Key") != s.adminKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(r.Method, routePattern(r), rec.code, time.Since(start).Seconds())
	})
}

// routePattern returns the chi pattern ("/api/v1/projects/{projectID}/status")
// so metric cardinality stays bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
