// Package rest wires the graph engine's operations onto an HTTP surface.
// The handlers translate between wire DTOs and commands; all semantics live
// in the application layer.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"loom-backend/internal/infrastructure/observability"
)

// Router builds the HTTP handler tree.
type Router struct {
	graph   *GraphHandler
	syncer  *SyncHandler
	metrics *observability.Collector
	logger  *zap.Logger
}

// NewRouter creates a router over the given handlers.
func NewRouter(graph *GraphHandler, syncer *SyncHandler, metrics *observability.Collector, logger *zap.Logger) *Router {
	return &Router{
		graph:   graph,
		syncer:  syncer,
		metrics: metrics,
		logger:  logger,
	}
}

// Setup configures all routes and middleware.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(RequestLogger(rt.logger, rt.metrics))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(rt.metrics.Registry(), promhttp.HandlerOpts{}))

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", rt.graph.ListNodes)
			r.Post("/", rt.graph.CreateNode)
			r.Post("/bulk-delete", rt.graph.DeleteNodes)
			r.Route("/{nodeID}", func(r chi.Router) {
				r.Get("/", rt.graph.GetNode)
				r.Get("/context", rt.graph.GetContext)
				r.Post("/messages", rt.graph.AppendMessage)
				r.Post("/branches", rt.graph.CreateBranch)
			})
		})

		r.Post("/summaries", rt.graph.CreateSummary)
		r.Post("/references", rt.graph.CreateReference)

		r.Route("/history", func(r chi.Router) {
			r.Get("/", rt.graph.HistoryStatus)
			r.Post("/undo", rt.graph.Undo)
			r.Post("/redo", rt.graph.Redo)
		})

		r.Post("/events", rt.syncer.ApplyEvent)
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (rt *Router) readinessCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
