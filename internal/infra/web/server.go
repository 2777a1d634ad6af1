package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	ports "vidfab-pipeline/internal/domain/ports/usecase"
	"vidfab-pipeline/internal/infra/redis"
)

type Server struct {
	pipeline ports.Pipeline
	ledger   ports.CreditLedger
	versions ports.StoryboardVersions
	queue    ports.JobQueue
	auth     *AuthManager
	limiter  *redis.RateLimiter

	adminKey  string
	rateLimit int
	log       *zerolog.Logger
}

func NewServer(
	pipeline ports.Pipeline,
	ledger ports.CreditLedger,
	versions ports.StoryboardVersions,
	queue ports.JobQueue,
	auth *AuthManager,
	limiter *redis.RateLimiter,
	adminKey string,
	rateLimit int,
	logger *zerolog.Logger,
) *Server {
	if rateLimit <= 0 {
		rateLimit = 60
	}
	return &Server{
		pipeline:  pipeline,
		ledger:    ledger,
		versions:  versions,
		queue:     queue,
		auth:      auth,
		limiter:   limiter,
		adminKey:  adminKey,
		rateLimit: rateLimit,
		log:       logger,
	}
}

// Router builds the full route tree. User routes require a Bearer JWT; admin
// routes require the static admin API key.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(s.metricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware, s.rateLimitMiddleware)

			r.Post("/projects", s.handleCreateProject)
			r.Get("/projects/{projectID}/status", s.handleStatus)
			r.Post("/projects/{projectID}/advance", s.handleAdvance)
			r.Post("/projects/{projectID}/style", s.handleSelectStyle)
			r.Post("/projects/{projectID}/steps/{step}/start", s.handleStartStep)
			r.Post("/projects/{projectID}/steps/{step}/retry", s.handleRetryStep)
			r.Post("/projects/{projectID}/shots/{shot}/regenerate", s.handleRegenerateShot)
			r.Get("/projects/{projectID}/shots/{shot}/versions", s.handleListVersions)
			r.Post("/projects/{projectID}/shots/{shot}/versions/{version}/activate", s.handleActivateVersion)

			r.Get("/credits/balance", s.handleBalance)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)

			r.Get("/admin/queue/stats", s.handleQueueStats)
			r.Get("/admin/queue/dead-letters", s.handleDeadLetters)
		})
	})

	return r
}
