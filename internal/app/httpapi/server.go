// Package httpapi exposes the service over HTTP: read views of the matrix
// contract, the transaction lifecycle endpoints, the team report, a
// websocket event feed and the owner-gated admin surface.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/linktum-network/matrix-service/internal/app/metrics"
	"github.com/linktum-network/matrix-service/internal/app/services/admin"
	"github.com/linktum-network/matrix-service/internal/app/services/orchestrator"
	"github.com/linktum-network/matrix-service/internal/app/services/stats"
	"github.com/linktum-network/matrix-service/internal/app/services/team"
	"github.com/linktum-network/matrix-service/internal/chain"
	"github.com/linktum-network/matrix-service/internal/middleware"
	"github.com/linktum-network/matrix-service/pkg/logger"
)

// Server bundles the services behind the HTTP surface.
type Server struct {
	gateway      chain.Gateway
	orchestrator *orchestrator.Service
	team         *team.Aggregator
	stats        *stats.Service
	admin        *admin.Service
	hub          *Hub
	auth         *middleware.AdminAuth
	limiter      *middleware.RateLimiter
	log          *logger.Logger
}

// Options carries the optional collaborators. Nil fields disable their
// routes: no auth disables the admin surface, no hub disables the feed.
type Options struct {
	Admin   *admin.Service
	Auth    *middleware.AdminAuth
	Hub     *Hub
	Limiter *middleware.RateLimiter
}

// New builds the server.
func New(gateway chain.Gateway, orch *orchestrator.Service, agg *team.Aggregator, st *stats.Service, opts Options, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Server{
		gateway:      gateway,
		orchestrator: orch,
		team:         agg,
		stats:        st,
		admin:        opts.Admin,
		auth:         opts.Auth,
		hub:          opts.Hub,
		limiter:      opts.Limiter,
		log:          log,
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Handler)
		}

		r.Get("/dashboard", s.handleDashboard)
		r.Get("/levels", s.handleLevels)

		r.Route("/users/{addr}", func(r chi.Router) {
			r.Get("/", s.handleUser)
			r.Get("/matrix/{program}/{level}", s.handleMatrix)
			r.Get("/team", s.handleTeam)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", s.handleCreateTransaction)
			r.Get("/", s.handleListTransactions)
			r.Get("/{id}", s.handleGetTransaction)
			r.Post("/{id}/cancel", s.handleCancelTransaction)
		})

		if s.hub != nil {
			r.Get("/events/ws", s.hub.handleWS)
		}

		if s.admin != nil && s.auth != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.auth.Handler)
				r.Get("/", s.handleAdminStatus)
				r.Post("/pause", s.handleAdminPause)
				r.Post("/activate", s.handleAdminActivate)
				r.Put("/levels/{level}/cost", s.handleAdminSetLevelCost)
				r.Post("/withdraw", s.handleAdminWithdraw)
			})
		}
	})

	return r
}
